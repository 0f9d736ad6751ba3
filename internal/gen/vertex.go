package gen

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	vertexMaxRetries    = 3
	vertexBaseDelay     = 1 * time.Second
	vertexMaxDelay      = 16 * time.Second
	vertexJitterFactor  = 0.3
	vertexClientTimeout = 30 * time.Second
	vertexDefaultModel  = "gemini-1.5-flash"
)

func init() {
	RegisterFactory("vertex", func(config map[string]any) (Generator, error) {
		projectID := ""
		if id, ok := config["project_id"].(string); ok {
			projectID = id
		}
		if projectID == "" {
			projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if projectID == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT not set")
		}

		location := ""
		if loc, ok := config["location"].(string); ok {
			location = loc
		}
		if location == "" {
			location = "us-central1"
		}

		model := vertexDefaultModel
		if m, ok := config["model"].(string); ok && m != "" {
			model = m
		}

		return NewVertexGenerator(projectID, location, model)
	})
}

// VertexGenerator implements Generator on Google Vertex AI via the Gen AI SDK.
// It uses Application Default Credentials for authentication.
type VertexGenerator struct {
	projectID string
	location  string
	model     string
	client    *genai.Client
}

// NewVertexGenerator creates a Vertex AI backed generator.
func NewVertexGenerator(projectID, location, model string) (*VertexGenerator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), vertexClientTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}

	return &VertexGenerator{
		projectID: projectID,
		location:  location,
		model:     model,
		client:    client,
	}, nil
}

// Name returns the provider name.
func (g *VertexGenerator) Name() string {
	return "vertex"
}

// Generate produces a completion, retrying transient failures with
// exponential backoff. It respects the context deadline throughout.
func (g *VertexGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.7)),
	}

	var resp *genai.GenerateContentResponse
	var err error

	for attempt := 0; attempt < vertexMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(vertexBackoff(attempt)):
			}
		}

		resp, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}
		if !isRetryableVertexError(err) {
			return "", fmt.Errorf("vertex generate: %w", err)
		}
	}
	if err != nil {
		return "", fmt.Errorf("vertex generate: %w", err)
	}

	return vertexText(resp), nil
}

// vertexText extracts the concatenated text parts of the first candidate.
func vertexText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func isRetryableVertexError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "unavailable")
}

func vertexBackoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 31 {
		shift = 31
	}
	delay := time.Duration(1<<uint(shift)) * vertexBaseDelay
	if delay > vertexMaxDelay {
		delay = vertexMaxDelay
	}
	jitter := time.Duration(float64(delay) * vertexJitterFactor * (cryptoRandFloat64()*2 - 1))
	return delay + jitter
}

// cryptoRandFloat64 returns a uniform float64 in [0, 1).
func cryptoRandFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / float64(1<<53)
}
