package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipstitch/internal/config"
	"clipstitch/internal/services"
)

const userAgent = "clipstitch/0.1.0"

// Verdict is the outcome of a content scan.
type Verdict struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Request describes the asset submitted for review.
type Request struct {
	AssetID     string `json:"asset_id"`
	ChallengeID string `json:"challenge_id"`
	DurationMS  int64  `json:"duration_ms"`
	ByteSize    int64  `json:"byte_size"`
}

// Scanner reviews merged assets.
type Scanner interface {
	Scan(ctx context.Context, req Request) (Verdict, error)
}

// NewScanner builds the configured scanner.
func NewScanner(cfg *config.Config) Scanner {
	endpoint := strings.TrimSpace(cfg.Moderation.URL)
	if endpoint == "" {
		return AllowAll{}
	}
	timeout := time.Duration(cfg.Moderation.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScanner{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.Moderation.APIKey),
		client:   &http.Client{Timeout: timeout},
	}
}

// AllowAll approves every asset.
type AllowAll struct{}

// Scan implements Scanner.
func (AllowAll) Scan(context.Context, Request) (Verdict, error) {
	return Verdict{Approved: true}, nil
}

// HTTPScanner posts scan requests as JSON and expects a Verdict back.
type HTTPScanner struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// Scan implements Scanner. Transport failures and 5xx responses are
// transient so the job can retry; other non-2xx responses are not.
func (s *HTTPScanner) Scan(ctx context.Context, req Request) (Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("encode scan request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, services.Wrap(services.ErrConfiguration, "moderation", "scan", "build request", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Verdict{}, services.Wrap(services.ErrTransient, "moderation", "scan", "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		marker := services.ErrExternalTool
		if resp.StatusCode >= 500 {
			marker = services.ErrTransient
		}
		return Verdict{}, services.Wrap(marker, "moderation", "scan",
			fmt.Sprintf("moderation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	var verdict Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&verdict); err != nil {
		return Verdict{}, services.Wrap(services.ErrExternalTool, "moderation", "scan", "decode verdict", err)
	}
	return verdict, nil
}
