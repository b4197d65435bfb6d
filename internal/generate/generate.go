// Package generate requests candidate verses from the language model and
// parses its structured reply.
//
// Unlike retrieval, generation never degrades silently: a timeout, a provider
// error, a malformed reply or a reply with the wrong number of candidates is
// returned to the caller.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lybrarian/internal/genctx"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/pkg/provider/llm"
)

// DefaultCandidates is the number of candidates requested per batch.
const DefaultCandidates = 10

var (
	// ErrMalformedResponse is returned when the reply is not the expected
	// JSON structure or a candidate has no text.
	ErrMalformedResponse = errors.New("generate: malformed response")

	// ErrWrongCardinality is returned when the reply holds a different number
	// of candidates than requested.
	ErrWrongCardinality = errors.New("generate: wrong number of candidates")

	// ErrProvider wraps every error returned by the language model provider,
	// including timeouts.
	ErrProvider = errors.New("generate: provider failed")
)

// Candidate is one generated verse.
type Candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`

	// Fragments are the 1-based fragment indices the model says it drew on.
	// Indices outside the prompt's fragment list are dropped.
	Fragments []int `json:"fragments"`

	Rationale string `json:"rationale,omitempty"`
}

// Client produces candidate batches from an [llm.Provider].
type Client struct {
	llm         llm.Provider
	candidates  int
	temperature float64
	maxTokens   int
	timeout     time.Duration
	metrics     *observe.Metrics
	newID       func() string
}

// Option is a functional option for [New].
type Option func(*Client)

// WithCandidates sets the batch size. Defaults to [DefaultCandidates].
func WithCandidates(n int) Option {
	return func(c *Client) { c.candidates = n }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps the completion length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithTimeout bounds each provider call. Zero means no deadline beyond the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithIDGenerator overrides how candidate IDs are minted. Defaults to random
// UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) { c.newID = fn }
}

// New creates a Client over provider.
func New(provider llm.Provider, opts ...Option) *Client {
	c := &Client{
		llm:        provider,
		candidates: DefaultCandidates,
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	if c.candidates < 1 {
		c.candidates = DefaultCandidates
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Candidates returns the configured batch size.
func (c *Client) Candidates() int { return c.candidates }

// Generate sends p to the model and returns exactly [Client.Candidates]
// candidates. fragments is the number of fragments listed in p and bounds the
// accepted citation indices.
func (c *Client) Generate(ctx context.Context, p genctx.Prompt, fragments int) ([]Candidate, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanGenerate,
		trace.WithAttributes(
			observe.AttrCandidates.Int(c.candidates),
			observe.AttrFragments.Int(fragments),
		),
	)
	defer span.End()

	req := llm.CompletionRequest{
		SystemPrompt: p.System + "\n\n" + formatInstructions(c.candidates),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: p.User}},
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSON:         true,
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.llm.Complete(callCtx, req)
	c.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, "llm", "generation", "error")
		c.metrics.RecordProviderError(ctx, "llm", "generation")
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	c.metrics.RecordProviderRequest(ctx, "llm", "generation", "ok")
	if resp == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	out, err := Parse(resp.Content, c.candidates, fragments, c.newID)
	if err != nil {
		observe.FailSpan(span, err)
		observe.ComponentLogger(ctx, "generate").Warn("unusable generation reply",
			"err", err,
			"reply_bytes", len(resp.Content),
		)
		return nil, err
	}

	observe.ComponentLogger(ctx, "generate").Debug("candidates generated",
		"count", len(out),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return out, nil
}

func formatInstructions(n int) string {
	return fmt.Sprintf(`Respond with a single JSON object and nothing else, in exactly this form:
{"candidates": [{"text": "...", "fragments": [1, 3], "rationale": "..."}]}

Return exactly %d candidates. Separate the lines of a verse in "text" with \n. "fragments" lists the numbers of the fragments the candidate draws on; use [] when it draws on none.`, n)
}
