package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var log = logger.Get("MetadataExt")

type (
	Config struct {
		MaxAttempts uint          `yaml:"max_attempts" env:"METADATA_MAX_ATTEMPTS" env-default:"3"`
		BaseDelay   time.Duration `yaml:"base_delay" env:"METADATA_BASE_DELAY" env-default:"100ms"`
		CacheTTL    time.Duration `yaml:"cache_ttl" env:"METADATA_CACHE_TTL" env-default:"1h"`
	}

	// Prober inspects raw bytes and reports the structural details of the
	// payload. The default prober handles still images; richer probing
	// (EXIF capture data, video duration) is supplied by adapters.
	Prober interface {
		Probe(ctx context.Context, data []byte, filename string) (*content.Metadata, error)
	}

	// Extractor derives structural metadata from raw content bytes. Results
	// are cached by content checksum with a bounded TTL; transient probe
	// failures are retried with exponential backoff up to the attempt
	// ceiling, with the final attempt's error surfaced verbatim.
	Extractor struct {
		config   Config
		cache    *Cache
		prober   Prober
		validate *validator.Validate
	}
)

func New(config Config, prober Prober) *Extractor {
	if prober == nil {
		prober = &ImageProber{}
	}

	return &Extractor{
		config:   config,
		cache:    NewCache(config.CacheTTL),
		prober:   prober,
		validate: validator.New(),
	}
}

// Extract is idempotent for byte-identical inputs: the payload checksum is
// computed first and a live cache entry short-circuits the probe, the
// retries and the invariant checks entirely.
func (extractor *Extractor) Extract(ctx context.Context, data []byte, filename string) (*content.Metadata, error) {
	checksum := Checksum(data)
	if cached := extractor.cache.RetrieveItem(checksum); cached != nil {
		log.Debugf("Cache hit for checksum %s, skipping extraction\n", checksum)
		return cached, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = extractor.config.BaseDelay

	var meta *content.Metadata
	operation := func() error {
		probed, err := extractor.prober.Probe(ctx, data, filename)
		if err != nil {
			log.Debugf("Probe of '%s' failed (will retry if budget remains): %v\n", filename, err)
			return err
		}

		meta = probed
		return nil
	}

	maxRetries := uint64(0)
	if extractor.config.MaxAttempts > 1 {
		maxRetries = uint64(extractor.config.MaxAttempts - 1)
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)); err != nil {
		return nil, err
	}

	meta.Checksum = checksum
	meta.SizeBytes = int64(len(data))
	meta.Filename = filename

	// A structurally "successful" probe which violates the metadata
	// invariants is an error, never silently accepted.
	if err := extractor.checkInvariants(meta); err != nil {
		return nil, err
	}

	extractor.cache.PushItem(checksum, meta)
	return meta, nil
}

func (extractor *Extractor) checkInvariants(meta *content.Metadata) error {
	if err := extractor.validate.Struct(meta); err != nil {
		return fmt.Errorf("extracted metadata failed invariant checks: %w", err)
	}

	if strings.HasPrefix(meta.MimeType, "image/") && (meta.Width <= 0 || meta.Height <= 0) {
		return fmt.Errorf("extracted metadata for image '%s' is missing positive dimensions (%dx%d)", meta.Filename, meta.Width, meta.Height)
	}

	return nil
}

// Checksum returns the content-addressed fingerprint (SHA-256, hex) for the
// provided payload.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ImageProber is the default Prober; it decodes still-image headers to
// recover dimensions, orientation and aspect ratio. Capture time, location
// and device information require an EXIF-capable adapter and are left unset.
type ImageProber struct{}

func (prober *ImageProber) Probe(_ context.Context, data []byte, filename string) (*content.Metadata, error) {
	detected := mimetype.Detect(data)

	meta := &content.Metadata{
		Filename: filename,
		MimeType: detected.String(),
	}

	if !strings.HasPrefix(detected.String(), "image/") {
		// Non-image payloads carry no decodable dimensions here; structural
		// details for video are the responsibility of a codec-aware prober.
		return meta, nil
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header of '%s': %w", filename, err)
	}

	meta.Width = config.Width
	meta.Height = config.Height
	meta.Orientation = content.Orient(config.Width, config.Height)
	if config.Height > 0 {
		meta.AspectRatio = float64(config.Width) / float64(config.Height)
	}

	return meta, nil
}
