package ai

import (
	"sync"
	"time"
)

const healthSampleWindow = 20

type (
	// ProviderHealth is the engine-internal, ephemeral view of one
	// provider's recent behaviour. It is recomputed from rolling samples
	// and is never persisted alongside a content item.
	ProviderHealth struct {
		Name        string
		Status      ProviderStatus
		AvgLatency  time.Duration
		ErrorRate   float64
		SampleCount int
	}

	// HealthTracker provides cross-call visibility of provider availability
	// without re-probing on every request. It is an explicit, injectable
	// component (rather than ambient global state) so tests can substitute
	// a fake tracker for deterministic failover behaviour.
	HealthTracker interface {
		Status(name string) ProviderStatus
		SetStatus(name string, status ProviderStatus)
		RecordSuccess(name string, latency time.Duration)
		RecordFailure(name string)
		Health(name string) ProviderHealth
	}

	providerSamples struct {
		status    ProviderStatus
		latencies []time.Duration
		outcomes  []bool
	}

	healthTracker struct {
		mutex     sync.Mutex
		providers map[string]*providerSamples
	}
)

func NewHealthTracker() HealthTracker {
	return &healthTracker{providers: make(map[string]*providerSamples)}
}

// Status returns the current status for the named provider. Providers the
// tracker has never seen are optimistically treated as available; their
// first failed call will correct that.
func (tracker *healthTracker) Status(name string) ProviderStatus {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	samples, ok := tracker.providers[name]
	if !ok {
		return StatusAvailable
	}

	return samples.status
}

func (tracker *healthTracker) SetStatus(name string, status ProviderStatus) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	tracker.samplesFor(name).status = status
}

func (tracker *healthTracker) RecordSuccess(name string, latency time.Duration) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	samples := tracker.samplesFor(name)
	samples.latencies = appendBounded(samples.latencies, latency)
	samples.outcomes = appendBounded(samples.outcomes, true)
	samples.status = StatusAvailable
}

func (tracker *healthTracker) RecordFailure(name string) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	samples := tracker.samplesFor(name)
	samples.outcomes = appendBounded(samples.outcomes, false)
}

// Health recomputes the rolled-up view from the current sample windows.
func (tracker *healthTracker) Health(name string) ProviderHealth {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	samples, ok := tracker.providers[name]
	if !ok {
		return ProviderHealth{Name: name, Status: StatusAvailable}
	}

	health := ProviderHealth{
		Name:        name,
		Status:      samples.status,
		SampleCount: len(samples.outcomes),
	}

	if len(samples.latencies) > 0 {
		var total time.Duration
		for _, latency := range samples.latencies {
			total += latency
		}
		health.AvgLatency = total / time.Duration(len(samples.latencies))
	}

	if len(samples.outcomes) > 0 {
		failures := 0
		for _, ok := range samples.outcomes {
			if !ok {
				failures++
			}
		}
		health.ErrorRate = float64(failures) / float64(len(samples.outcomes))
	}

	return health
}

func (tracker *healthTracker) samplesFor(name string) *providerSamples {
	samples, ok := tracker.providers[name]
	if !ok {
		samples = &providerSamples{status: StatusAvailable}
		tracker.providers[name] = samples
	}

	return samples
}

func appendBounded[T any](window []T, value T) []T {
	window = append(window, value)
	if len(window) > healthSampleWindow {
		window = window[1:]
	}

	return window
}
