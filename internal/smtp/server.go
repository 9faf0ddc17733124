package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/smtp-capture-lite/internal/provider"
)

const (
	defaultHostname       = "localhost"
	defaultMaxMessageSize = 25 << 20
	defaultIdleTimeout    = time.Minute
	shutdownTimeout       = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":2525".
	Addr string

	// Hostname is announced in the greeting and EHLO reply.
	Hostname string

	// Provider receives every accepted message.
	Provider provider.Provider

	// TLS enables STARTTLS when non-nil.
	TLS *tls.Config

	// Username and Password require AUTH when both are set.
	Username string
	Password string

	// MaxMessageSize is advertised with SIZE and enforced on DATA.
	MaxMessageSize int64

	// IdleTimeout closes sessions that send nothing for this long.
	IdleTimeout time.Duration
}

// Server accepts SMTP connections and hands each message to a provider.
type Server struct {
	cfg   Config
	creds *Credentials

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates a Server, filling in defaults for unset limits.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = defaultHostname
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Server{cfg: cfg, creds: NewCredentials(cfg.Username, cfg.Password)}
}

// ListenAndServe listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// open sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	slog.Info("SMTP sink listening",
		"addr", ln.Addr().String(),
		"provider", s.cfg.Provider.Name(),
		"auth_required", s.creds.Required(),
		"starttls", s.cfg.TLS != nil,
	)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.drain()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).serve(ctx)
		}()
	}
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("SMTP sink stopped")
	case <-time.After(shutdownTimeout):
		slog.Warn("SMTP sink shutdown timed out with sessions still open")
	}
}
