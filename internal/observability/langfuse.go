package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// LangfuseClient ships generation observations to Langfuse over its
// public ingestion API. It covers the LLM-specific telemetry (prompts,
// completions, latency per operation) that the OTel traces do not
// carry.
type LangfuseClient struct {
	baseURL    string
	publicKey  string
	secretKey  string
	httpClient *http.Client
	enabled    bool
}

// LangfuseConfig contains configuration for Langfuse integration.
type LangfuseConfig struct {
	// BaseURL is the Langfuse API endpoint (defaults to
	// cloud.langfuse.com). Must be HTTPS.
	BaseURL string

	// PublicKey is the Langfuse public key.
	PublicKey string

	// SecretKey is the Langfuse secret key.
	SecretKey string

	// Enabled controls whether events are sent at all.
	Enabled bool
}

// GenerationEvent is one model call as Langfuse ingests it.
type GenerationEvent struct {
	Name          string         `json:"name"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       time.Time      `json:"endTime"`
	Model         string         `json:"model"`
	Input         any            `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Level         string         `json:"level,omitempty"`
	StatusMessage string         `json:"statusMessage,omitempty"`
}

var (
	defaultLangfuse     *LangfuseClient
	defaultLangfuseOnce sync.Once
)

// InitLangfuse initializes the package-level Langfuse client from
// environment variables. Without credentials the client is disabled
// and every report is a no-op.
func InitLangfuse() error {
	cfg := LangfuseConfig{
		BaseURL:   getEnv("LANGFUSE_BASE_URL", "https://cloud.langfuse.com"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		Enabled:   getEnv("LANGFUSE_ENABLED", "true") == "true",
	}
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		cfg.Enabled = false
	}

	client, err := NewLangfuseClient(cfg)
	if err != nil {
		return err
	}
	defaultLangfuseOnce.Do(func() {
		defaultLangfuse = client
	})
	return nil
}

// NewLangfuseClient creates a Langfuse client. An enabled client
// requires an HTTPS endpoint; credentials travel in a basic-auth
// header.
func NewLangfuseClient(cfg LangfuseConfig) (*LangfuseClient, error) {
	if cfg.Enabled && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("langfuse base URL must use HTTPS: %q", cfg.BaseURL)
	}
	return &LangfuseClient{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		enabled:   cfg.Enabled,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Enabled reports whether the client will send events.
func (c *LangfuseClient) Enabled() bool {
	return c != nil && c.enabled
}

// TrackGeneration sends one generation observation.
func (c *LangfuseClient) TrackGeneration(ctx context.Context, ev *GenerationEvent) error {
	if !c.Enabled() {
		return nil
	}
	return c.ingest(ctx, "generation-create", ev)
}

func (c *LangfuseClient) ingest(ctx context.Context, eventType string, body any) error {
	payload := map[string]any{
		"type": eventType,
		"body": body,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	url := c.baseURL + "/api/public/ingestion"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s event: %w", eventType, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("langfuse API returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (c *LangfuseClient) Close() error {
	if c == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// ReportGeneration forwards one model call to the package-level
// Langfuse client. It is fire-and-forget: disabled clients and
// delivery failures are invisible to the caller.
func ReportGeneration(op, provider, prompt, output string, start, end time.Time, genErr error) {
	if !defaultLangfuse.Enabled() {
		return
	}

	ev := &GenerationEvent{
		Name:      "session." + op,
		StartTime: start,
		EndTime:   end,
		Model:     provider,
		Input:     prompt,
		Output:    output,
		Level:     "DEFAULT",
	}
	if genErr != nil {
		ev.Level = "ERROR"
		ev.StatusMessage = genErr.Error()
		ev.Output = nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = defaultLangfuse.TrackGeneration(ctx, ev)
	}()
}
