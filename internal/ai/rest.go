package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/soycharroup/memoryreel/internal/content"
)

type (
	ProviderConfig struct {
		Name    string `yaml:"name"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	}

	// RestProvider adapts a remote vision-analysis HTTP API to the
	// Provider interface. The remote API is expected to expose:
	//   GET  /v1/health       -> {"status": "..."}
	//   GET  /v1/credentials  -> 200 when the bearer token is accepted
	//   POST /v1/analyze      -> analysis payload
	//   POST /v1/faces        -> face detection payload
	RestProvider struct {
		name       string
		baseURL    string
		apiKey     string
		httpClient *http.Client
	}

	analyzeRequest struct {
		Content string `json:"content"`
		Kind    string `json:"kind"`
	}

	analyzeResponse struct {
		Tags []struct {
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		} `json:"tags"`
		Scene struct {
			Description string   `json:"description"`
			Categories  []string `json:"categories"`
			Objects     []string `json:"objects"`
		} `json:"scene"`
		Confidence float64 `json:"confidence"`
	}

	facesResponse struct {
		Faces []struct {
			Bounds     content.FaceBounds `json:"bounds"`
			Confidence float64            `json:"confidence"`
		} `json:"faces"`
		Confidence float64 `json:"confidence"`
	}

	healthResponse struct {
		Status string `json:"status"`
	}
)

func NewRestProvider(config ProviderConfig) *RestProvider {
	return &RestProvider{
		name:    config.Name,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		// Per-call deadlines come from the engine's context.
		httpClient: &http.Client{Timeout: 0},
	}
}

func (provider *RestProvider) Name() string { return provider.name }

// Initialize confirms the remote endpoint is reachable before the
// provider enters the failover chain.
func (provider *RestProvider) Initialize(ctx context.Context) error {
	_, err := provider.HealthCheck(ctx)
	return err
}

// ValidateCredentials verifies the configured API key is accepted by
// the remote service.
func (provider *RestProvider) ValidateCredentials(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.baseURL+"/v1/credentials", nil)
	if err != nil {
		return err
	}
	provider.authorize(req)

	resp, err := provider.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("credential check for provider '%s' failed: %w", provider.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider '%s' rejected the configured credentials (status %d)", provider.name, resp.StatusCode)
	}

	return nil
}

func (provider *RestProvider) HealthCheck(ctx context.Context) (ProviderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.baseURL+"/v1/health", nil)
	if err != nil {
		return StatusUnavailable, err
	}
	provider.authorize(req)

	resp, err := provider.httpClient.Do(req)
	if err != nil {
		return StatusUnavailable, fmt.Errorf("health check for provider '%s' failed: %w", provider.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return StatusRateLimited, nil
	}
	if resp.StatusCode != http.StatusOK {
		return StatusUnavailable, fmt.Errorf("provider '%s' health endpoint returned status %d", provider.name, resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return StatusUnavailable, fmt.Errorf("decoding health response from provider '%s': %w", provider.name, err)
	}

	switch health.Status {
	case "available", "ok":
		return StatusAvailable, nil
	case "degraded":
		return StatusDegraded, nil
	case "rate_limited":
		return StatusRateLimited, nil
	case "maintenance":
		return StatusMaintenance, nil
	default:
		return StatusUnavailable, nil
	}
}

func (provider *RestProvider) Analyze(ctx context.Context, data []byte, kind AnalysisKind) (*Analysis, error) {
	var decoded analyzeResponse
	if err := provider.post(ctx, "/v1/analyze", analyzeRequest{
		Content: base64.StdEncoding.EncodeToString(data),
		Kind:    string(kind),
	}, &decoded); err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Scene: content.Scene{
			Description: decoded.Scene.Description,
			Categories:  decoded.Scene.Categories,
			Objects:     decoded.Scene.Objects,
		},
		Confidence: decoded.Confidence,
	}
	for _, tag := range decoded.Tags {
		analysis.Tags = append(analysis.Tags, content.Tag{Name: tag.Name, Confidence: tag.Confidence})
	}

	return analysis, nil
}

func (provider *RestProvider) DetectFaces(ctx context.Context, data []byte) (*FaceDetection, error) {
	var decoded facesResponse
	if err := provider.post(ctx, "/v1/faces", analyzeRequest{
		Content: base64.StdEncoding.EncodeToString(data),
	}, &decoded); err != nil {
		return nil, err
	}

	detection := &FaceDetection{Confidence: decoded.Confidence}
	for _, face := range decoded.Faces {
		detection.Faces = append(detection.Faces, content.Face{Bounds: face.Bounds, Confidence: face.Confidence})
	}

	return detection, nil
}

func (provider *RestProvider) post(ctx context.Context, path string, payload any, into any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request for provider '%s': %w", provider.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	provider.authorize(req)

	resp, err := provider.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to provider '%s' failed: %w", provider.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider '%s' returned status %d for %s", provider.name, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding response from provider '%s': %w", provider.name, err)
	}

	return nil
}

func (provider *RestProvider) authorize(req *http.Request) {
	if provider.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.apiKey)
	}
}
