package main

import (
	"context"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lybrarian/internal/config"
	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
	geminiembed "github.com/MrWong99/lybrarian/pkg/provider/embeddings/gemini"
	ollamaembed "github.com/MrWong99/lybrarian/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/lybrarian/pkg/provider/embeddings/openai"
	"github.com/MrWong99/lybrarian/pkg/provider/llm"
	"github.com/MrWong99/lybrarian/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/lybrarian/pkg/provider/llm/openai"
)

// ── Provider registration ─────────────────────────────────────────────────────

// registerBuiltinProviders registers a factory for every provider shipped in
// this repository. "openai" uses the native adapter, which supports the JSON
// response format; the other language models go through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaembed.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("gemini", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []geminiembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminiembed.WithBaseURL(entry.BaseURL))
		}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, geminiembed.WithDimensions(n))
		}
		return geminiembed.New(context.Background(), entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "dimensions"); ok {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes whole numbers as int; JSON-ish
// sources may yield float64.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optDuration parses a Go duration string. Invalid values are logged and
// ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
