package validation

import (
	"context"
	"time"
)

type (
	ScanResult struct {
		Infected  bool
		Signature string
	}

	// Scanner is the malware scanning capability the validator depends on.
	// Concrete scanners (clamd, a vendor API, etc) are adapters supplied at
	// wiring time; they are expected to honour context cancellation.
	Scanner interface {
		Scan(ctx context.Context, data []byte) (ScanResult, error)
	}

	// NoopScanner reports every payload as clean after an optional delay.
	// It is the default scanner for development and is used by tests to
	// simulate slow scan backends.
	NoopScanner struct {
		Delay time.Duration
	}
)

func (scanner *NoopScanner) Scan(ctx context.Context, _ []byte) (ScanResult, error) {
	if scanner.Delay > 0 {
		select {
		case <-time.After(scanner.Delay):
		case <-ctx.Done():
			return ScanResult{}, ctx.Err()
		}
	}

	return ScanResult{Infected: false}, nil
}
