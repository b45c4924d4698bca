package ai

import (
	"context"

	"github.com/soycharroup/memoryreel/internal/content"
)

type (
	// AnalysisKind selects what an analysis call should derive from the
	// payload.
	AnalysisKind string

	// ProviderStatus is the health classification of one provider, as
	// reported by its own health check or recorded by the health tracker.
	ProviderStatus string

	// Analysis is a single provider's result. Confidence is the provider's
	// overall certainty for the result as a whole and is what the engine's
	// confidence gate inspects; per-tag confidences are carried on the tags
	// themselves.
	Analysis struct {
		Tags       []content.Tag
		Scene      content.Scene
		Confidence float64
	}

	FaceDetection struct {
		Faces      []content.Face
		Confidence float64
	}

	// Provider is the capability interface implemented once per external
	// analysis service. The engine holds an ordered collection of this
	// interface and never a concrete provider type, so heterogeneous
	// services are treated uniformly. Concrete transport (HTTP/JSON, gRPC)
	// is an implementation detail of each adapter.
	Provider interface {
		Name() string
		Initialize(ctx context.Context) error
		ValidateCredentials(ctx context.Context) error
		HealthCheck(ctx context.Context) (ProviderStatus, error)
		Analyze(ctx context.Context, data []byte, kind AnalysisKind) (*Analysis, error)
		DetectFaces(ctx context.Context, data []byte) (*FaceDetection, error)
	}
)

const (
	KindTags  AnalysisKind = "tags"
	KindScene AnalysisKind = "scene"
	KindFull  AnalysisKind = "full"

	StatusAvailable   ProviderStatus = "available"
	StatusUnavailable ProviderStatus = "unavailable"
	StatusRateLimited ProviderStatus = "rate_limited"
	StatusDegraded    ProviderStatus = "degraded"
	StatusMaintenance ProviderStatus = "maintenance"
)
