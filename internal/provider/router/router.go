// Package router dispatches each message to the transport the mail-system
// selector currently names.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/provider"
)

// Selector returns the active mail-system setting.
type Selector interface {
	Current(ctx context.Context) (mailsystem.Setting, error)
}

// Router is a Provider that consults the selector on every message.
type Router struct {
	selector Selector
	capture  provider.Provider
	fallback provider.Provider
	systems  map[string]provider.Provider
}

// New creates a Router. Messages go to capture while the selector names
// mailsystem.TestingSystem, and to fallback for any system with no
// registered provider.
func New(selector Selector, capture, fallback provider.Provider) *Router {
	return &Router{
		selector: selector,
		capture:  capture,
		fallback: fallback,
		systems: map[string]provider.Provider{
			mailsystem.TestingSystem: capture,
			mailsystem.DefaultSystem: fallback,
		},
	}
}

// Register routes messages to p while the selector names system.
func (r *Router) Register(system string, p provider.Provider) {
	r.systems[system] = p
}

// Route returns the provider for the active mail system.
func (r *Router) Route(ctx context.Context) (provider.Provider, string, error) {
	setting, err := r.selector.Current(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read mail system: %w", err)
	}

	system := setting.System()
	p, ok := r.systems[system]
	if !ok {
		slog.Debug("no provider registered for mail system, using fallback",
			"system", system,
			"fallback", r.fallback.Name(),
		)
		p = r.fallback
	}
	return p, system, nil
}

// Send delivers msg through the provider for the active mail system.
func (r *Router) Send(ctx context.Context, msg *email.Email) error {
	p, system, err := r.Route(ctx)
	if err != nil {
		DeliveriesTotal.WithLabelValues("unknown", "none", "error").Inc()
		return err
	}

	slog.Debug("routing message", "system", system, "provider", p.Name())
	if err := p.Send(ctx, msg); err != nil {
		DeliveriesTotal.WithLabelValues(system, p.Name(), "error").Inc()
		return err
	}
	DeliveriesTotal.WithLabelValues(system, p.Name(), "ok").Inc()
	return nil
}

// Name returns the provider name.
func (r *Router) Name() string {
	return "router"
}
