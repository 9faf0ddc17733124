// Package provider defines the transports a message accepted by the SMTP
// sink can be handed to.
package provider

import (
	"context"

	"github.com/shineum/smtp-capture-lite/internal/email"
)

// Provider delivers or records a parsed message.
type Provider interface {
	// Send hands msg to the transport.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the transport name used in logs.
	Name() string
}

// Func adapts a function to the Provider interface.
type Func struct {
	ProviderName string
	SendFunc     func(ctx context.Context, msg *email.Email) error
}

// Send calls SendFunc.
func (f Func) Send(ctx context.Context, msg *email.Email) error {
	return f.SendFunc(ctx, msg)
}

// Name returns ProviderName.
func (f Func) Name() string {
	return f.ProviderName
}
