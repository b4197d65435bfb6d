// Package gemini provides an embeddings provider backed by the Google Gemini
// API.
//
// Queries are embedded with the RETRIEVAL_QUERY task type and corpus
// documents with RETRIEVAL_DOCUMENT, as the Gemini embedding models expect
// for asymmetric search.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
)

// DefaultModel is the default Gemini embeddings model.
const DefaultModel = "gemini-embedding-001"

const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

var _ embeddings.Provider = (*Provider)(nil)

// contentEmbedder is the subset of [genai.Models] used by Provider.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Provider implements embeddings.Provider using Gemini.
type Provider struct {
	models     contentEmbedder
	model      string
	dimensions int
}

type config struct {
	dimensions int
	baseURL    string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithDimensions requests vectors truncated to n dimensions.
func WithDimensions(n int) Option {
	return func(c *config) {
		c.dimensions = n
	}
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a Gemini embeddings Provider. If model is empty,
// DefaultModel is used.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("gemini embeddings: dimensions must not be negative, got %d", cfg.dimensions)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: create client: %w", err)
	}
	return &Provider{models: client.Models, model: model, dimensions: cfg.dimensions}, nil
}

// Embed implements embeddings.Provider using the RETRIEVAL_QUERY task type.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text}, taskQuery)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider using the RETRIEVAL_DOCUMENT
// task type.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts, taskDocument)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

func (p *Provider) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if p.dimensions > 0 {
		d := int32(p.dimensions)
		cfg.OutputDimensionality = &d
	}

	resp, err := p.models.EmbedContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	switch p.model {
	case "text-embedding-004":
		return 768
	default:
		return 3072
	}
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}
