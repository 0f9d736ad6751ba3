package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxgo-dev/voxgo/internal/gen"
	"github.com/voxgo-dev/voxgo/internal/observability"
)

const (
	maxTopicLen   = 50
	maxSummaryLen = 300
	// summaryWindow is how many recent interactions feed a summary.
	summaryWindow = 6
	// fallbackTopic is used when classification fails on the first turn.
	fallbackTopic = "General"
)

// engine builds bounded context windows and drives the generation
// collaborator. Every call except the base reply is best effort: a
// failed, timed-out, or empty result degrades the interaction instead
// of failing it.
type engine struct {
	gen     gen.Generator
	timeout time.Duration
	tracer  trace.Tracer
}

func newEngine(g gen.Generator, timeout time.Duration) *engine {
	return &engine{
		gen:     g,
		timeout: timeout,
		tracer:  observability.Tracer("voxgo/session"),
	}
}

// generate runs one collaborator call with a bounded deadline,
// recording a span and metrics for it.
func (e *engine) generate(ctx context.Context, op, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "generate."+op,
		trace.WithAttributes(attribute.String("gen.provider", e.gen.Name())))
	defer span.End()

	start := time.Now()
	text, err := e.gen.Generate(ctx, prompt)
	end := time.Now()
	observability.RecordGeneration(op, end.Sub(start), err)
	observability.ReportGeneration(op, e.gen.Name(), prompt, text, start, end, err)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// baseReply produces the reply for an utterance with no conversation
// context. This is the one generation call with no fallback.
func (e *engine) baseReply(ctx context.Context, utterance string) (string, error) {
	prompt := fmt.Sprintf("User said: %q. Identify the intent and respond as a helpful assistant. Give ONLY a short helpful response in plain text. Do NOT explain your reasoning or give multiple scenarios.", utterance)

	reply, err := e.generate(ctx, "base", prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if reply == "" {
		return "", fmt.Errorf("%w: empty base reply", ErrUpstream)
	}
	return reply, nil
}

// classifyTopic identifies the conversation topic from the first
// utterance. On failure it falls back to a generic topic.
func (e *engine) classifyTopic(ctx context.Context, utterance string) string {
	prompt := fmt.Sprintf("Analyze this message and identify the main topic:\n%q\n\nReturn just the topic in 2-3 words.", utterance)

	topic, err := e.generate(ctx, "classify", prompt)
	if err != nil || topic == "" {
		if err != nil {
			log.Printf("[Session] topic classification failed: %v", err)
		}
		return fallbackTopic
	}
	topic = strings.ReplaceAll(topic, `"`, "")
	return truncate(topic, maxTopicLen)
}

// enhancedAnswer is the JSON envelope the enhancement prompt asks for.
type enhancedAnswer struct {
	Answer string `json:"answer"`
}

// enhance asks for a context-aware rephrasing of the base reply. The
// second return value reports whether enhancement was used; on any
// failure the base reply is returned unchanged.
func (e *engine) enhance(ctx context.Context, utterance, base string, window []Interaction, topic, summary string) (string, bool) {
	var sb strings.Builder
	sb.WriteString("Previous conversation context:\n")
	for _, in := range window {
		fmt.Fprintf(&sb, "User said: %s\n", in.UserMessage)
		fmt.Fprintf(&sb, "Assistant said: %s\n", in.AssistantReply)
	}
	fmt.Fprintf(&sb, "\nCurrent topic: %s\n", topic)
	fmt.Fprintf(&sb, "Conversation summary: %s\n", summary)
	fmt.Fprintf(&sb, "\nUser now said: %q\n", utterance)
	sb.WriteString(`
Provide a contextually aware response that:
1. References previous conversation if relevant
2. Maintains conversation flow
3. Shows understanding of the ongoing topic
4. Responds helpfully to the current request

Respond in this JSON format:
{"answer": "Your contextually aware response."}
`)

	raw, err := e.generate(ctx, "enhance", sb.String())
	if err != nil {
		log.Printf("[Session] context enhancement failed, using base reply: %v", err)
		return base, false
	}

	var parsed enhancedAnswer
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		log.Printf("[Session] context enhancement returned malformed JSON, using base reply: %v", err)
		return base, false
	}

	answer := strings.TrimSpace(parsed.Answer)
	if answer == "" {
		return base, false
	}
	return answer, true
}

// summarize condenses the most recent interactions into a short
// summary. An error leaves the caller's existing summary untouched.
func (e *engine) summarize(ctx context.Context, window []Interaction) (string, error) {
	if len(window) > summaryWindow {
		window = window[len(window)-summaryWindow:]
	}

	var sb strings.Builder
	sb.WriteString("Summarize this conversation in 1-2 sentences, focusing on the main topics and context:\n\n")
	for _, in := range window {
		fmt.Fprintf(&sb, "User: %s\n", in.UserMessage)
		fmt.Fprintf(&sb, "Assistant: %s\n", in.AssistantReply)
	}
	sb.WriteString("\nSummary:")

	summary, err := e.generate(ctx, "summarize", sb.String())
	if err != nil {
		return "", err
	}
	return truncate(summary, maxSummaryLen), nil
}

// stripCodeFence removes a surrounding markdown code fence, which some
// models wrap JSON answers in despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.Trim(s, "`")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
