package mailtest

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/assert"

	"github.com/shineum/smtp-capture-lite/internal/match"
)

type tHelper interface {
	Helper()
}

// SeeSentEmail asserts that at least one captured email satisfies every
// criterion, e.g. Criteria{"to": "user@example.com", "body": "hello world"}.
func (m *Module) SeeSentEmail(ctx context.Context, t assert.TestingT, criteria Criteria) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	records, ok := m.grab(ctx, t)
	if !ok {
		return false
	}
	return assert.True(t, match.MatchesAny(records, criteria),
		"expected a sent email matching %v, got %s", criteria, describe(records))
}

// DontSeeSentEmail asserts that no captured email satisfies every criterion.
func (m *Module) DontSeeSentEmail(ctx context.Context, t assert.TestingT, criteria Criteria) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	records, ok := m.grab(ctx, t)
	if !ok {
		return false
	}
	found, hit := match.Find(records, criteria)
	return assert.False(t, hit,
		"expected no sent email matching %v, found %s", criteria, found)
}

// SeeNumberOfEmailsSent asserts that exactly count emails were captured.
func (m *Module) SeeNumberOfEmailsSent(ctx context.Context, t assert.TestingT, count int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	records, ok := m.grab(ctx, t)
	if !ok {
		return false
	}
	return assert.True(t, match.CountEquals(records, count),
		"expected %d sent emails, got %d", count, len(records))
}

// DontSeeNumberOfEmailsSent asserts that any number of emails other than
// count were captured.
func (m *Module) DontSeeNumberOfEmailsSent(ctx context.Context, t assert.TestingT, count int) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	records, ok := m.grab(ctx, t)
	if !ok {
		return false
	}
	return assert.False(t, match.CountEquals(records, count),
		"expected a number of sent emails other than %d", count)
}

// GrabSentEmail returns the first captured email satisfying every criterion.
func (m *Module) GrabSentEmail(ctx context.Context, criteria Criteria) (Record, bool, error) {
	records, err := m.buffer.List(ctx)
	if err != nil {
		return nil, false, err
	}
	r, ok := match.Find(records, criteria)
	return r, ok, nil
}

func (m *Module) grab(ctx context.Context, t assert.TestingT) ([]Record, bool) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	records, err := m.buffer.List(ctx)
	if !assert.NoError(t, err, "failed to read sent emails") {
		return nil, false
	}
	return records, true
}

func describe(records []Record) string {
	if len(records) == 0 {
		return "no emails"
	}
	return fmt.Sprintf("%d emails %v", len(records), records)
}
