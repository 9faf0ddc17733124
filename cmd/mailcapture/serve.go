package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/config"
	"github.com/shineum/smtp-capture-lite/internal/httpapi"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/provider"
	captureprovider "github.com/shineum/smtp-capture-lite/internal/provider/capture"
	"github.com/shineum/smtp-capture-lite/internal/provider/router"
	"github.com/shineum/smtp-capture-lite/internal/provider/ses"
	"github.com/shineum/smtp-capture-lite/internal/provider/stdout"
	"github.com/shineum/smtp-capture-lite/internal/smtp"
	smtptls "github.com/shineum/smtp-capture-lite/internal/tls"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP sink and, when api.listen is set, the inspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
}

func (a *app) serve(cmd *cobra.Command) error {
	// The sink logs to stdout like any long-running service.
	setupLogger(a.cfg.Logging.Level, cmd.OutOrStdout())

	ctx := cmd.Context()
	return a.withSwitch(ctx, true, func(store variable.Store, buf *capture.Buffer, sw *mailsystem.Switch) error {
		return run(ctx, a.cfg, store, buf, sw)
	})
}

func run(ctx context.Context, cfg *config.Config, store variable.Store, buf *capture.Buffer, sw *mailsystem.Switch) error {
	upstream, err := selectUpstream(ctx, cfg)
	if err != nil {
		return err
	}

	// With capture disabled the sink is a plain relay.
	prov := upstream
	if cfg.Capture.Enabled {
		prov = router.New(sw, captureprovider.New(buf), upstream)
	}

	var tlsConfig *tls.Config
	tlsMode := "disabled"
	if !cfg.TLS.Disabled {
		tlsConfig, err = smtptls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" {
			tlsMode = "file"
		}
	}

	server := smtp.New(smtp.Config{
		Addr:           cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Provider:       prov,
		TLS:            tlsConfig,
		Username:       cfg.SMTP.Username,
		Password:       cfg.SMTP.Password,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		IdleTimeout:    cfg.SMTP.IdleTimeout,
	})

	slog.Info("starting smtp-capture-lite",
		"listen", cfg.SMTP.Listen,
		"api_listen", cfg.API.Listen,
		"provider", prov.Name(),
		"upstream", upstream.Name(),
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
		"mail_system_key", cfg.Capture.MailSystemKey,
		"buffer_key", buf.Key(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("smtp server error: %w", err)
		}
		return nil
	})
	if cfg.API.Listen != "" {
		api := httpapi.Handler{Buffer: buf, Switch: sw}
		if p, ok := store.(httpapi.Pinger); ok {
			api.Store = p
		}
		g.Go(func() error {
			if err := httpapi.ListenAndServe(gctx, cfg.API.Listen, api.Routes()); err != nil {
				return fmt.Errorf("inspection API error: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("smtp-capture-lite stopped")
	return nil
}

// selectUpstream builds the provider that receives mail while the production
// mail system is selected.
func selectUpstream(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Upstream.Provider {
	case "ses":
		slog.Info("using AWS SES upstream",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "stdout":
		slog.Info("using stdout upstream")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown upstream provider %q", cfg.Upstream.Provider)
	}
}
