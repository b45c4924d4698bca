package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/metrics"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("AIEngine")

type (
	Config struct {
		MinConfidence       float64       `yaml:"min_confidence" env:"AI_MIN_CONFIDENCE" env-default:"0.8"`
		ProviderTimeout     time.Duration `yaml:"provider_timeout" env:"AI_PROVIDER_TIMEOUT" env-default:"30s"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"AI_HEALTH_CHECK_INTERVAL" env-default:"60s"`
	}

	// AnalysisResult is a qualifying analysis: the winning provider's
	// payload plus the per-provider call metrics accumulated while the
	// failover chain ran. The metrics cover every provider attempted, not
	// just the winner.
	AnalysisResult struct {
		Analysis
		Provider string
		Metrics  map[string]content.ProviderMetrics
	}

	FaceDetectionResult struct {
		FaceDetection
		Provider string
		Metrics  map[string]content.ProviderMetrics
	}

	// ExhaustedError is returned once every provider in the chain has been
	// skipped or has failed to produce a qualifying result.
	ExhaustedError struct {
		Operation string
		Attempted []string
		LastErr   error
	}

	// Engine sends content to an ordered chain of analysis providers.
	// Provider order is static priority (never load-balanced) so that
	// downstream consumers observe deterministic provider precedence.
	// Results below the configured confidence threshold are rejected and
	// failover continues to the next provider in the chain.
	Engine struct {
		config    Config
		providers []Provider
		tracker   HealthTracker
	}
)

// New constructs an engine over the providers in priority order (the first
// provider is the primary).
func New(config Config, tracker HealthTracker, providers ...Provider) *Engine {
	return &Engine{
		config:    config,
		providers: providers,
		tracker:   tracker,
	}
}

// Run periodically refreshes every provider's health status in the shared
// tracker, blocking until the provided context is cancelled. Analyze calls
// consult the tracker rather than re-probing providers themselves.
func (engine *Engine) Run(ctx context.Context) error {
	engine.refreshHealth(ctx)

	ticker := time.NewTicker(engine.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			engine.refreshHealth(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Analyze walks the provider chain in priority order and returns the first
// qualifying result. A provider is skipped without the expensive call when
// the tracker reports it as anything other than available; a provider's
// result is discarded (and failover continues) when its confidence is below
// the configured minimum.
func (engine *Engine) Analyze(ctx context.Context, data []byte, kind AnalysisKind) (*AnalysisResult, error) {
	callMetrics := make(map[string]content.ProviderMetrics)
	var lastErr error
	attempted := make([]string, 0, len(engine.providers))

	for _, provider := range engine.providers {
		name := provider.Name()
		if status := engine.tracker.Status(name); status != StatusAvailable {
			log.Debugf("Skipping provider %s (status %s)\n", name, status)
			continue
		}

		attempted = append(attempted, name)
		analysis, latency, err := engine.callAnalyze(ctx, provider, data, kind)
		engine.recordCall(callMetrics, name, latency, err == nil)

		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", name, err)
			engine.recordFailure(name, string(kind), err)
			continue
		}

		if analysis.Confidence < engine.config.MinConfidence {
			// A technically successful call below the threshold must never
			// reach the caller; it counts as a provider failure and forces
			// failover to the next provider in the chain.
			lastErr = fmt.Errorf("provider %s: confidence %.2f below minimum %.2f", name, analysis.Confidence, engine.config.MinConfidence)
			engine.markGateFailure(callMetrics, name)
			engine.tracker.RecordFailure(name)
			metrics.ProviderErrorsTotal.WithLabelValues(name, string(kind), "low_confidence").Inc()
			log.Warnf("Provider %s returned below-threshold confidence %.2f, failing over\n", name, analysis.Confidence)
			continue
		}

		engine.tracker.RecordSuccess(name, latency)
		metrics.ProviderSuccessTotal.WithLabelValues(name, string(kind)).Inc()

		finalizeTags(analysis, name)
		return &AnalysisResult{
			Analysis: *analysis,
			Provider: name,
			Metrics:  callMetrics,
		}, nil
	}

	return nil, &ExhaustedError{Operation: "analyze", Attempted: attempted, LastErr: lastErr}
}

// DetectFaces follows the same failover state machine as Analyze.
func (engine *Engine) DetectFaces(ctx context.Context, data []byte) (*FaceDetectionResult, error) {
	callMetrics := make(map[string]content.ProviderMetrics)
	var lastErr error
	attempted := make([]string, 0, len(engine.providers))

	for _, provider := range engine.providers {
		name := provider.Name()
		if status := engine.tracker.Status(name); status != StatusAvailable {
			log.Debugf("Skipping provider %s (status %s)\n", name, status)
			continue
		}

		attempted = append(attempted, name)
		detection, latency, err := engine.callDetectFaces(ctx, provider, data)
		engine.recordCall(callMetrics, name, latency, err == nil)

		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", name, err)
			engine.recordFailure(name, "faces", err)
			continue
		}

		if detection.Confidence < engine.config.MinConfidence {
			lastErr = fmt.Errorf("provider %s: confidence %.2f below minimum %.2f", name, detection.Confidence, engine.config.MinConfidence)
			engine.markGateFailure(callMetrics, name)
			engine.tracker.RecordFailure(name)
			metrics.ProviderErrorsTotal.WithLabelValues(name, "faces", "low_confidence").Inc()
			continue
		}

		engine.tracker.RecordSuccess(name, latency)
		metrics.ProviderSuccessTotal.WithLabelValues(name, "faces").Inc()

		return &FaceDetectionResult{
			FaceDetection: *detection,
			Provider:      name,
			Metrics:       callMetrics,
		}, nil
	}

	return nil, &ExhaustedError{Operation: "detect_faces", Attempted: attempted, LastErr: lastErr}
}

func (engine *Engine) callAnalyze(ctx context.Context, provider Provider, data []byte, kind AnalysisKind) (*Analysis, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, engine.config.ProviderTimeout)
	defer cancel()

	metrics.ProviderAttemptsTotal.WithLabelValues(provider.Name(), string(kind)).Inc()

	start := time.Now()
	analysis, err := provider.Analyze(callCtx, data, kind)
	latency := time.Since(start)

	metrics.ProviderLatency.WithLabelValues(provider.Name(), string(kind)).Observe(latency.Seconds())

	if err == nil && analysis == nil {
		err = errors.New("provider returned no error but nil analysis")
	}

	return analysis, latency, err
}

func (engine *Engine) callDetectFaces(ctx context.Context, provider Provider, data []byte) (*FaceDetection, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, engine.config.ProviderTimeout)
	defer cancel()

	metrics.ProviderAttemptsTotal.WithLabelValues(provider.Name(), "faces").Inc()

	start := time.Now()
	detection, err := provider.DetectFaces(callCtx, data)
	latency := time.Since(start)

	metrics.ProviderLatency.WithLabelValues(provider.Name(), "faces").Observe(latency.Seconds())

	if err == nil && detection == nil {
		err = errors.New("provider returned no error but nil detection")
	}

	return detection, latency, err
}

func (engine *Engine) recordFailure(name string, operation string, err error) {
	engine.tracker.RecordFailure(name)

	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	metrics.ProviderErrorsTotal.WithLabelValues(name, operation, reason).Inc()

	log.Warnf("Provider %s failed %s call: %v\n", name, operation, err)
}

// markGateFailure flags an already-recorded call as a failure after the
// confidence gate rejected its result.
func (engine *Engine) markGateFailure(callMetrics map[string]content.ProviderMetrics, name string) {
	entry := callMetrics[name]
	entry.Failures++
	callMetrics[name] = entry
}

func (engine *Engine) recordCall(callMetrics map[string]content.ProviderMetrics, name string, latency time.Duration, success bool) {
	entry := callMetrics[name]
	entry.Calls++
	if !success {
		entry.Failures++
	}
	entry.TotalLatencyMs += latency.Milliseconds()
	callMetrics[name] = entry
}

func (engine *Engine) refreshHealth(ctx context.Context) {
	for _, provider := range engine.providers {
		checkCtx, cancel := context.WithTimeout(ctx, engine.config.ProviderTimeout)
		status, err := provider.HealthCheck(checkCtx)
		cancel()

		if err != nil {
			log.Warnf("Health check for provider %s failed: %v\n", provider.Name(), err)
			status = StatusUnavailable
		}

		engine.tracker.SetStatus(provider.Name(), status)
	}
}

// finalizeTags stamps the winning provider onto every tag and orders tags
// by confidence descending; combined with the chain's fixed priority this
// yields the provider-priority-then-confidence insertion order consumers
// rely upon.
func finalizeTags(analysis *Analysis, provider string) {
	for i := range analysis.Tags {
		analysis.Tags[i].Provider = provider
	}

	sort.SliceStable(analysis.Tags, func(i, j int) bool {
		return analysis.Tags[i].Confidence > analysis.Tags[j].Confidence
	})
}

func (e *ExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all analysis providers exhausted for %s (attempted: %s): last failure: %v", e.Operation, strings.Join(e.Attempted, ", "), e.LastErr)
	}

	return fmt.Sprintf("all analysis providers exhausted for %s: no provider was available", e.Operation)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }
