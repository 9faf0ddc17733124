// Package httpapi exposes the capture buffer, the mail-system selector and
// Prometheus metrics over HTTP for test runners that cannot reach the
// variable store directly.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/match"
)

const shutdownTimeout = 5 * time.Second

// Pinger reports whether the variable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the inspection API.
type Handler struct {
	Buffer *capture.Buffer
	Switch *mailsystem.Switch

	// Store is checked by /health/ready when set.
	Store Pinger
}

// Routes returns the router:
//
//	GET    /health/live
//	GET    /health/ready
//	GET    /metrics
//	GET    /api/v1/emails              captured emails, filtered by query criteria
//	DELETE /api/v1/emails
//	GET    /api/v1/mail-system
//	POST   /api/v1/mail-system/enable  returns the replaced setting
//	PUT    /api/v1/mail-system         restores a setting
func (h Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", h.live)
	r.Get("/health/ready", h.ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/emails", h.listEmails)
		v.Delete("/emails", h.clearEmails)
		v.Get("/mail-system", h.currentSystem)
		v.Post("/mail-system/enable", h.enableSystem)
		v.Put("/mail-system", h.restoreSystem)
	})
	return r
}

func (h Handler) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listEmails treats every query parameter as a criterion, so
// ?to=user@example.com&subject=Welcome narrows the result.
func (h Handler) listEmails(w http.ResponseWriter, r *http.Request) {
	records, err := h.Buffer.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	criteria := email.Criteria{}
	for field, values := range r.URL.Query() {
		if len(values) > 0 {
			criteria[field] = values[0]
		}
	}
	writeJSON(w, http.StatusOK, match.Filter(records, criteria))
}

func (h Handler) clearEmails(w http.ResponseWriter, r *http.Request) {
	if err := h.Buffer.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handler) currentSystem(w http.ResponseWriter, r *http.Request) {
	cur, err := h.Switch.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (h Handler) enableSystem(w http.ResponseWriter, r *http.Request) {
	prev, err := h.Switch.Enable(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prev)
}

func (h Handler) restoreSystem(w http.ResponseWriter, r *http.Request) {
	var prev mailsystem.Setting
	if err := json.NewDecoder(r.Body).Decode(&prev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.Switch.Restore(r.Context(), prev)
	switch {
	case errors.Is(err, mailsystem.ErrNoPreviousSystem):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, prev)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve runs h on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("inspection API shutdown failed", "error", err)
		}
	})
	defer stop()

	slog.Info("inspection API listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h)
}
