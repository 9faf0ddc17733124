package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/config"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

// app carries state shared by every command.
type app struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mailcapture",
		Short: "SMTP sink that captures CMS mail during acceptance tests",
		Long: `mailcapture accepts mail from a CMS over SMTP. While the mail-system
selector names TestingMailSystem, messages are appended to the capture
buffer; otherwise they are relayed upstream. Without a command it serves.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			setupLogger(cfg.Logging.Level, cmd.ErrOrStderr())
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "path to YAML configuration file (optional)")

	root.AddCommand(
		a.serveCmd(),
		a.enableCmd(),
		a.restoreCmd(),
		a.clearCmd(),
		a.listCmd(),
	)
	return root
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// openStore connects to Redis when an address is configured. Only the sink
// may fall back to the in-process store; the other commands would act on a
// store nobody else can see.
func (a *app) openStore(ctx context.Context, serving bool) (variable.Store, func(), error) {
	cfg := a.cfg
	if cfg.Redis.Addr == "" {
		if !serving {
			return nil, nil, errors.New("REDIS_ADDR is required for this command")
		}
		slog.Warn("no Redis configured, captured emails are only visible in-process")
		return variable.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := variable.NewRedis(client, cfg.Redis.Prefix)
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return store, func() { client.Close() }, nil
}

// withSwitch opens the store and runs fn with the buffer and switch over it.
func (a *app) withSwitch(ctx context.Context, serving bool, fn func(store variable.Store, buf *capture.Buffer, sw *mailsystem.Switch) error) error {
	store, closeStore, err := a.openStore(ctx, serving)
	if err != nil {
		return err
	}
	defer closeStore()

	buf := capture.NewBuffer(store, a.cfg.Capture.BufferKey)
	return fn(store, buf, mailsystem.NewSwitch(store, a.cfg.Capture.MailSystemKey, buf))
}
