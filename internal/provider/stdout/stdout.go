// Package stdout implements the development upstream: messages that are not
// captured are printed instead of delivered.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/smtp-capture-lite/internal/email"
)

const separator = "----------------------------------------\n"

// Provider writes a readable rendering of each message to a writer.
type Provider struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Provider writing to os.Stdout.
func New() *Provider {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a Provider writing to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{w: w}
}

// Send renders msg. Sessions run concurrently, so writes are serialised to
// keep messages from interleaving.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString(separator)
	writeHeader(&b, "From", msg.From)
	writeHeader(&b, "To", strings.Join(msg.To, ", "))
	writeHeader(&b, "Cc", strings.Join(msg.Cc, ", "))
	writeHeader(&b, "Subject", msg.Subject)
	writeHeader(&b, "Message-Id", msg.MessageID)

	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		writeHeader(&b, "Attachments", strings.Join(names, ", "))
	}

	body := msg.TextBody
	if body == "" {
		body = msg.HtmlBody
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(body, "\r\n"))
	b.WriteString("\n")
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.w, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// writeHeader skips empty values.
func writeHeader(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

func formatSize(n int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
