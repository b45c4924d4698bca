package rendition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/metrics"
	"github.com/soycharroup/memoryreel/internal/storage"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var (
	log = logger.Get("Transcoder")

	// ErrQueueFull indicates the admission queue was at capacity when a
	// submission arrived. Callers must not retry at this layer.
	ErrQueueFull = errors.New("transcode admission queue is full")

	// ErrBackendUnavailable indicates the circuit breaker is open and the
	// conversion backend was not invoked at all.
	ErrBackendUnavailable = errors.New("conversion backend unavailable (circuit open)")

	// ErrNoRenditions indicates every primary variant conversion failed.
	ErrNoRenditions = errors.New("no primary renditions could be produced")
)

type Config struct {
	QueueCapacity    int           `yaml:"queue_capacity" env:"TRANSCODE_QUEUE_CAPACITY" env-default:"8"`
	BreakerThreshold uint32        `yaml:"breaker_threshold" env:"TRANSCODE_BREAKER_THRESHOLD" env-default:"5"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" env:"TRANSCODE_BREAKER_COOLDOWN" env-default:"30s"`
	Presets          []Preset      `yaml:"presets"`
}

// Transcoder produces the configured quality variants plus the fixed
// thumbnail ladder for a payload, writing every output through the object
// storage collaborator. It is shared by all concurrently processing items:
// admission is bounded by a queue which rejects (rather than blocks) when
// full, and every backend invocation runs through a circuit breaker which
// fails fast while the conversion backend is unhealthy.
type Transcoder struct {
	config  Config
	backend Backend
	store   storage.Store
	breaker *gobreaker.CircuitBreaker
	queue   chan struct{}
}

func New(config Config, backend Backend, store storage.Store) *Transcoder {
	if len(config.Presets) == 0 {
		config.Presets = DefaultPresets()
	}

	settings := gobreaker.Settings{
		Name:        "conversion-backend",
		MaxRequests: 1,
		Timeout:     config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("Conversion backend breaker %s -> %s\n", from, to)
			metrics.TranscodeBreakerState.Set(breakerStateValue(to))
		},
	}

	return &Transcoder{
		config:  config,
		backend: backend,
		store:   store,
		breaker: gobreaker.NewCircuitBreaker(settings),
		queue:   make(chan struct{}, config.QueueCapacity),
	}
}

// Transcode converts the payload into every configured preset and thumbnail
// size, storing each output under the provided key prefix. Failure to
// produce an individual thumbnail is logged and skipped; failure to produce
// ANY primary variant fails the call. Partial outputs already written to
// storage are deliberately left in place for retry reuse.
func (transcoder *Transcoder) Transcode(ctx context.Context, data []byte, keyPrefix string) (*content.RenditionSet, error) {
	select {
	case transcoder.queue <- struct{}{}:
		metrics.TranscodeQueueDepth.Set(float64(len(transcoder.queue)))
	default:
		metrics.TranscodeRejectedTotal.Inc()
		return nil, ErrQueueFull
	}
	defer func() {
		<-transcoder.queue
		metrics.TranscodeQueueDepth.Set(float64(len(transcoder.queue)))
	}()

	set := &content.RenditionSet{
		Variants:   make([]content.Variant, 0, len(transcoder.config.Presets)),
		Thumbnails: make([]content.Thumbnail, 0, len(ThumbnailSizes())),
	}

	var lastErr error
	for _, preset := range transcoder.config.Presets {
		variant, err := transcoder.convertVariant(ctx, data, keyPrefix, preset)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrBackendUnavailable) {
				return nil, err
			}

			log.Errorf("Failed to produce '%s' variant: %v\n", preset.Name, err)
			lastErr = err
			continue
		}

		set.Variants = append(set.Variants, *variant)
	}

	if len(set.Variants) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: last failure: %v", ErrNoRenditions, lastErr)
		}
		return nil, ErrNoRenditions
	}

	for _, size := range ThumbnailSizes() {
		thumbnail, err := transcoder.convertThumbnail(ctx, data, keyPrefix, size)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}

			// Thumbnails are partial-success; a missing size is not fatal.
			log.Warnf("Skipping '%s' thumbnail: %v\n", size.Tag, err)
			continue
		}

		set.Thumbnails = append(set.Thumbnails, *thumbnail)
	}

	return set, nil
}

func (transcoder *Transcoder) convertVariant(ctx context.Context, data []byte, keyPrefix string, preset Preset) (*content.Variant, error) {
	start := time.Now()
	result, err := transcoder.breaker.Execute(func() (interface{}, error) {
		variant, output, err := transcoder.backend.Convert(ctx, data, preset)
		if err != nil {
			return nil, err
		}

		variant.StorageKey = fmt.Sprintf("%s/renditions/%s.jpg", keyPrefix, preset.Name)
		if err := transcoder.store.Put(ctx, variant.StorageKey, output); err != nil {
			return nil, err
		}

		return variant, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrBackendUnavailable
		}

		return nil, err
	}

	metrics.TranscodeDuration.WithLabelValues(preset.Name).Observe(time.Since(start).Seconds())

	//nolint:forcetypeassert
	return result.(*content.Variant), nil
}

func (transcoder *Transcoder) convertThumbnail(ctx context.Context, data []byte, keyPrefix string, size ThumbSize) (*content.Thumbnail, error) {
	result, err := transcoder.breaker.Execute(func() (interface{}, error) {
		thumbnail, output, err := transcoder.backend.Thumbnail(ctx, data, size)
		if err != nil {
			return nil, err
		}

		thumbnail.StorageKey = fmt.Sprintf("%s/thumbnails/%s.jpg", keyPrefix, size.Tag)
		if err := transcoder.store.Put(ctx, thumbnail.StorageKey, output); err != nil {
			return nil, err
		}

		return thumbnail, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrBackendUnavailable
		}

		return nil, err
	}

	//nolint:forcetypeassert
	return result.(*content.Thumbnail), nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
