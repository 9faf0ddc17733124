// Package capture implements the capturing transport: messages are recorded
// in the capture buffer instead of being delivered.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/email"
)

// Provider appends every message to a capture buffer.
type Provider struct {
	buffer *capture.Buffer
}

// New creates a capturing Provider writing to buffer.
func New(buffer *capture.Buffer) *Provider {
	return &Provider{buffer: buffer}
}

// Send records msg. Each record gets a unique id so tests can tell
// otherwise identical messages apart.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	r := msg.Record()
	r[email.FieldID] = uuid.NewString()

	if err := p.buffer.Append(ctx, r); err != nil {
		return fmt.Errorf("failed to capture message: %w", err)
	}

	slog.Debug("message captured",
		"id", r[email.FieldID],
		"to", r[email.FieldTo],
		"subject", r[email.FieldSubject],
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "capture"
}
