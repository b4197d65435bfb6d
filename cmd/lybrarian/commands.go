package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lybrarian/internal/app"
	"github.com/MrWong99/lybrarian/internal/config"
	"github.com/MrWong99/lybrarian/internal/engine"
	"github.com/MrWong99/lybrarian/internal/maintenance"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// shutdownTimeout bounds subsystem teardown after the command finishes.
const shutdownTimeout = 15 * time.Second

// newApp builds providers from cfg and wires the application.
func newApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, providers)
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:        cfg.Telemetry.ServiceName,
				ServiceVersion:     version,
				StoreBackend:       string(cfg.Store.Backend),
				LLMProvider:        cfg.Providers.LLM.Name,
				EmbeddingsProvider: cfg.Providers.Embeddings.Name,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := otelShutdown(sctx); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			printStartupSummary(cfg)

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdown(a)

			slog.Info("server ready, press Ctrl+C to shut down")
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("goodbye")
			return nil
		},
	}
}

// ── generate ──────────────────────────────────────────────────────────────────

type generateFlags struct {
	adherence, rhythm, rhyme, meaning string
	theme, steer                      string
}

func (f generateFlags) settings() (strictness.Settings, error) {
	var (
		s    strictness.Settings
		errs []error
	)
	for _, p := range []struct {
		name  string
		value string
		dst   *strictness.Level
	}{
		{"adherence", f.adherence, &s.FragmentAdherence},
		{"rhythm", f.rhythm, &s.Rhythm},
		{"rhyme", f.rhyme, &s.Rhyme},
		{"meaning", f.meaning, &s.Meaning},
	} {
		level, err := strictness.ParseLevel(p.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", p.name, err))
			continue
		}
		*p.dst = level
	}
	s.Theme, s.Steer = f.theme, f.steer
	return s, errors.Join(errs...)
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate [text]",
		Short: "Generate candidates for one verse and print them as JSON",
		Long: `generate runs a single retrieval and generation round for the verse given
as arguments, or read from stdin when no arguments are given, and prints the
candidates with their diagnostics as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := f.settings()
			if err != nil {
				return err
			}
			text, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdown(a)

			res, err := a.Engine().RetrieveAndGenerate(cmd.Context(), engine.Request{
				Input:     text,
				Settings:  settings,
				Iteration: 1,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&f.adherence, "adherence", "loose", "fragment adherence: off, loose or strict")
	cmd.Flags().StringVar(&f.rhythm, "rhythm", "strict", "rhythm strictness: off, loose or strict")
	cmd.Flags().StringVar(&f.rhyme, "rhyme", "loose", "rhyme strictness: off, loose or strict")
	cmd.Flags().StringVar(&f.meaning, "meaning", "loose", "meaning strictness: off, loose or strict")
	cmd.Flags().StringVar(&f.theme, "theme", "", "optional theme passed to generation")
	cmd.Flags().StringVar(&f.steer, "steer", "", "optional steering text passed to generation")
	return cmd
}

// ── analyze ───────────────────────────────────────────────────────────────────

func newAnalyzeCmd() *cobra.Command {
	var dictionary string
	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Print the prosodic analysis of each line as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			var popts []prosody.Option
			if dictionary != "" {
				d, err := prosody.LoadDictionary(dictionary)
				if err != nil {
					return err
				}
				popts = append(popts, prosody.WithDictionary(d))
			}
			return printJSON(cmd.OutOrStdout(), prosody.New(popts...).AnalyzeVerse(text))
		},
	}
	cmd.Flags().StringVar(&dictionary, "dictionary", "", "CMU-format pronunciation dictionary replacing the built-in word list")
	return cmd
}

// ── maintenance ───────────────────────────────────────────────────────────────

func newReanalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reanalyze",
		Short: "Recompute the line prosody of every rhythmic fragment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMaintenance(cmd, opts, "reanalyze", (*maintenance.Runner).Reanalyze)
		},
	}
}

func newReembedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reembed",
		Short: "Embed every fragment that has no stored embedding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMaintenance(cmd, opts, "reembed", (*maintenance.Runner).Reembed)
		},
	}
}

func runMaintenance(cmd *cobra.Command, opts *rootOptions, name string,
	job func(*maintenance.Runner, context.Context) (maintenance.Report, error),
) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.BackendMemory {
		slog.Warn("the memory backend is not persisted; results are discarded on exit", "job", name)
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer shutdown(a)

	report, err := job(a.Maintenance(), cmd.Context())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d processed, %d skipped, %d failed in %s\n",
		name, report.Processed, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
	if report.Failed > 0 {
		return fmt.Errorf("%s: %d fragments failed", name, report.Failed)
	}
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// readInput joins args with spaces, or reads r when args is empty.
func readInput(args []string, r io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", errors.New("no input text given")
	}
	return text, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

