package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/thushan/olla-link/internal/app"
	"github.com/thushan/olla-link/internal/config"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries what every subcommand needs once the config is loaded
type cli struct {
	cfg        *config.Config
	log        logger.StyledLogger
	slog       *slog.Logger
	cleanup    func()
	configFile string
	connection string
	logLevel   string
	startTime  time.Time
}

func rootCmd() *cobra.Command {
	c := &cli{startTime: time.Now()}

	root := &cobra.Command{
		Use:           "olla-link",
		Short:         "Find, check and talk to an Ollama backend",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.cleanup != nil {
				c.cleanup()
			}
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "path to the configuration file")
	flags.StringVar(&c.connection, "connection", "", `backend URL, or "auto" to discover it`)
	flags.StringVar(&c.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		versionCmd(),
		probeCmd(c),
		serveCmd(c),
		modelsCmd(c),
		generateCmd(c),
		chatCmd(c),
		embedCmd(c),
		configCmd(c),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build details",
		Run: func(cmd *cobra.Command, _ []string) {
			version.PrintVersionInfo(true, cmd.OutOrStdout())
		},
	}
}

// setup loads configuration and builds the logger. With watch set, config
// file edits are reported through onChange.
func (c *cli) setup(onChange func(fsnotify.Event, *config.Config, error)) error {
	if c.configFile != "" {
		if err := os.Setenv(config.EnvConfigFile, c.configFile); err != nil {
			return err
		}
	}

	cfg, err := config.LoadAndWatch(onChange)
	if err != nil {
		return err
	}
	if c.connection != "" {
		cfg.Connection = c.connection
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}

	slogger, styled, cleanup, err := logger.NewWithTheme(logger.FromConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	slog.SetDefault(slogger)

	c.cfg = cfg
	c.log = styled
	c.slog = slogger
	c.cleanup = cleanup
	return nil
}

func (c *cli) adapter() (*app.Adapter, error) {
	if err := c.setup(nil); err != nil {
		return nil, err
	}
	return app.New(c.cfg, c.log)
}

// signalContext ends on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ready runs initialisation and turns a Failed adapter into a CLI error
func ready(ctx context.Context, a *app.Adapter) error {
	if _, err := a.WaitReady(ctx); err != nil {
		if app.IsReadinessFailure(err) {
			return fmt.Errorf("backend not usable: %w", err)
		}
		return err
	}
	return nil
}
