package anyllm

import (
	"context"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lybrarian/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-sonnet-4-5"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a lyricist.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "write a verse"},
		},
		Temperature: 0.7,
		MaxTokens:   900,
	})

	if params.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are a lyricist." {
		t.Errorf("first message = %+v, want system prompt", params.Messages[0])
	}
	if params.Messages[1].Role != llm.RoleUser || params.Messages[1].ContentString() != "write a verse" {
		t.Errorf("second message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 900 {
		t.Errorf("MaxTokens = %v, want 900", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesUseDefaults(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message without system prompt, got %d", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature/max tokens should leave params unset")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("Complete without messages = nil error")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model      string
		wantWindow int
		wantOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-sonnet-4-5", 200_000, 8_192},
		{"Claude-3-5-Haiku-Latest", 200_000, 8_192},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.5-flash", 1_048_576, 8_192},
		{"llama3.1:8b", 32_768, 4_096},
		{"unknown", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			got := modelCapabilities(tt.model)
			if got.ContextWindow != tt.wantWindow || got.MaxOutputTokens != tt.wantOutput {
				t.Errorf("modelCapabilities(%q) = %+v, want window %d output %d", tt.model, got, tt.wantWindow, tt.wantOutput)
			}
			if got.SupportsJSONMode {
				t.Errorf("modelCapabilities(%q) reports JSON mode", tt.model)
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fn       func() (*Provider, error)
		wantName string
	}{
		{"New openai", func() (*Provider, error) { return New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test")) }, "openai"},
		{"NewAnthropic", func() (*Provider, error) {
			return NewAnthropic("claude-sonnet-4-5", anyllmlib.WithAPIKey("sk-ant-test"))
		}, "anthropic"},
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3.1") }, "ollama"},
		{"New llamacpp", func() (*Provider, error) { return New("llamacpp", "llama3.1") }, "llamacpp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.name != tt.wantName {
				t.Errorf("name = %q, want %q", p.name, tt.wantName)
			}
		})
	}
}
