package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thushan/olla-link/internal/adapter/executor"
	"github.com/thushan/olla-link/internal/app"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/core/domain"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/version"
	"github.com/thushan/olla-link/pkg/format"
	"github.com/thushan/olla-link/pkg/nerdstats"
	"github.com/thushan/olla-link/pkg/profiler"
)

func probeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Resolve, validate and report the backend once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.adapter()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			waitErr := ready(ctx, a)
			printStatus(cmd.OutOrStdout(), a.Status())
			return waitErr
		},
	}
}

func printStatus(w io.Writer, status app.Status) {
	rows := pterm.TableData{
		{"State", status.State.String()},
		{"Reason", status.Reason},
		{"Endpoint", status.Endpoint},
		{"Origin", status.Origin},
		{"Required", strings.Join(status.Required, ", ")},
		{"Missing", strings.Join(status.Missing, ", ")},
		{"Cached", fmt.Sprintf("%t", status.FromCache)},
	}
	table, err := pterm.DefaultTable.WithData(rows).WithWriter(w).Srender()
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(w, table)
}

func serveCmd(c *cli) *cobra.Command {
	var pprofAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Initialise the adapter and serve readiness, status and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := c.setup(func(e fsnotify.Event, _ *config.Config, err error) {
				if err != nil {
					c.log.Warn("Config file changed but could not be reloaded", "file", e.Name, "error", err)
					return
				}
				// the adapter has settled on an endpoint, changes apply on restart
				c.log.Info("Config file changed, restart to apply", "file", e.Name, "op", e.Op.String())
			})
			if err != nil {
				return err
			}
			version.PrintVersionInfo(false, cmd.ErrOrStderr())
			c.log.Info("Initialising", "version", version.Version, "connection", c.cfg.ConnectionMode().String())

			a, err := app.New(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if pprofAddr != "" {
				pprofServer, err := profiler.Start(pprofAddr, c.slog)
				if err != nil {
					return fmt.Errorf("failed to start profiler: %w", err)
				}
				defer func() { _ = pprofServer.Close() }()
			}

			server := app.NewStatusServer(c.cfg.Server, a, c.log)
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start status server: %w", err)
			}

			go func() {
				if err := a.EnsureReady(ctx); err != nil && ctx.Err() == nil {
					c.log.Error("Adapter not usable, status server keeps running", "error", err)
				}
			}()

			<-ctx.Done()
			c.log.Info("Shutdown signal received")

			if err := server.Shutdown(context.Background()); err != nil {
				c.log.Error("Error during shutdown", "error", err)
			}
			reportProcessStats(c.log, c.startTime)
			c.log.Info("olla-link has shutdown")
			return nil
		},
	}
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "serve pprof on this address, e.g. localhost:6060")
	return cmd
}

func reportProcessStats(log logger.StyledLogger, startTime time.Time) {
	runtime.GC()
	stats := nerdstats.Snapshot(startTime)

	log.Info("Process memory",
		"heap_alloc", format.Bytes(int64(stats.HeapAlloc)),
		"heap_inuse", format.Bytes(int64(stats.HeapInuse)),
		"total_alloc", format.Bytes(int64(stats.TotalAlloc)),
		"memory_pressure", stats.MemoryPressure())
	log.Info("Process runtime",
		"uptime", format.Duration(stats.Uptime),
		"goroutines", stats.Goroutines,
		"goroutine_health", stats.GoroutineHealth(),
		"num_gc", stats.NumGC,
		"avg_gc_pause", stats.AverageGCPause())

	if build := nerdstats.BuildSettings(); len(build) > 0 {
		args := make([]any, 0, len(build)*2)
		for k, v := range build {
			args = append(args, k, v)
		}
		log.Debug("Build info", args...)
	}
}

func modelsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and manage models on the backend",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.adapter()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			models, err := a.Models(ctx)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), models)
		},
	})

	manage := func(use, short string, op func(*app.Adapter) func(context.Context, string) (domain.OperationResult, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <model>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := c.adapter()
				if err != nil {
					return err
				}
				defer a.Close()

				ctx, cancel := signalContext(cmd.Context())
				defer cancel()

				result, err := op(a)(ctx, args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", result.Identifier, result.Message, format.Latency(result.Duration))
				if !result.Success {
					return fmt.Errorf("%s %s failed", use, result.Identifier)
				}
				return nil
			},
		}
	}

	cmd.AddCommand(
		manage("pull", "Install a model unless it is already there", func(a *app.Adapter) func(context.Context, string) (domain.OperationResult, error) {
			return a.Pull
		}),
		manage("refresh", "Pull a model again to pick up new weights", func(a *app.Adapter) func(context.Context, string) (domain.OperationResult, error) {
			return a.Refresh
		}),
		manage("rm", "Remove an installed model", func(a *app.Adapter) func(context.Context, string) (domain.OperationResult, error) {
			return a.Remove
		}),
	)
	return cmd
}

func printModels(w io.Writer, models []domain.CapabilityDescriptor) error {
	rows := pterm.TableData{{"NAME", "SIZE", "DIGEST", "CHECKED"}}
	now := time.Now()
	for _, m := range models {
		digest := strings.TrimPrefix(m.Digest, "sha256:")
		if len(digest) > 12 {
			digest = digest[:12]
		}
		rows = append(rows, []string{m.Name, format.Bytes(m.Size), digest, format.Age(m.LastChecked, now)})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(w).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

func generateCmd(c *cli) *cobra.Command {
	var (
		model  string
		system string
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Run a completion against the backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.adapter()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			req := executor.GenerateRequest{Model: model, System: system, Prompt: strings.Join(args, " ")}
			out := cmd.OutOrStdout()

			if !stream {
				resp, err := a.Generate(ctx, req)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, resp.Response)
				return nil
			}

			s, err := a.GenerateStream(ctx, req)
			if err != nil {
				return err
			}
			return printStream(out, s)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use, defaults to default_model")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "print tokens as they arrive")
	return cmd
}

func chatCmd(c *cli) *cobra.Command {
	var (
		model  string
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a single chat message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.adapter()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			req := executor.ChatRequest{
				Model:    model,
				Messages: []executor.Message{{Role: "user", Content: strings.Join(args, " ")}},
			}
			out := cmd.OutOrStdout()

			if !stream {
				resp, err := a.Chat(ctx, req)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, resp.Message.Content)
				return nil
			}

			s, err := a.ChatStream(ctx, req)
			if err != nil {
				return err
			}
			return printStream(out, s)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use, defaults to default_model")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "print tokens as they arrive")
	return cmd
}

func printStream(w io.Writer, s *executor.Stream) error {
	defer func() { _ = s.Close() }()
	for chunk := range s.All() {
		_, _ = io.WriteString(w, chunk.Text)
	}
	_, _ = fmt.Fprintln(w)
	return s.Err()
}

func embedCmd(c *cli) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "embed <text>",
		Short: "Print the embedding vector for text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.adapter()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			resp, err := a.Embed(ctx, executor.EmbedRequest{Model: model, Prompt: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d dimensions\n%v\n", len(resp.Embedding), resp.Embedding)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "embedding model, defaults to default_model")
	return cmd
}

func configCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.setup(nil); err != nil {
				return err
			}
			out, err := yaml.Marshal(c.cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if c.cfg.Filename != "" {
				_, _ = fmt.Fprintf(w, "# loaded from %s\n", c.cfg.Filename)
			}
			_, err = w.Write(out)
			return err
		},
	})
	return cmd
}
