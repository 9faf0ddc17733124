package router

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/provider"
	captureprovider "github.com/shineum/smtp-capture-lite/internal/provider/capture"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

type countingProvider struct {
	name  string
	calls int
}

func (c *countingProvider) Send(context.Context, *email.Email) error {
	c.calls++
	return nil
}

func (c *countingProvider) Name() string { return c.name }

type brokenSelector struct{}

func (brokenSelector) Current(context.Context) (mailsystem.Setting, error) {
	return mailsystem.Setting{}, errors.New("redis down")
}

func setup(t *testing.T) (*Router, *mailsystem.Switch, *capture.Buffer, *countingProvider) {
	t.Helper()
	store := variable.NewMemory()
	buf := capture.NewBuffer(store, "")
	sw := mailsystem.NewSwitch(store, "", buf)
	upstream := &countingProvider{name: "upstream"}
	return New(sw, captureprovider.New(buf), upstream), sw, buf, upstream
}

func TestSend_CapturesWhileTesting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, sw, buf, upstream := setup(t)

	prev, err := sw.Enable(ctx)
	require.NoError(t, err)

	msg := &email.Email{From: "site@example.com", To: []string{"a@x.com"}, Subject: "Welcome"}
	require.NoError(t, r.Send(ctx, msg))

	records, err := buf.List(ctx)
	require.NoError(t, err)
	if len(records) != 1 {
		t.Fatalf("captured: got %d, want 1", len(records))
	}
	if records[0][email.FieldSubject] != "Welcome" {
		t.Errorf("subject: got %q", records[0][email.FieldSubject])
	}
	if records[0][email.FieldID] == "" {
		t.Error("expected captured record to carry an id")
	}
	if upstream.calls != 0 {
		t.Errorf("upstream calls: got %d, want 0", upstream.calls)
	}

	require.NoError(t, sw.Restore(ctx, prev))
	require.NoError(t, r.Send(ctx, msg))
	if upstream.calls != 1 {
		t.Errorf("upstream calls after restore: got %d, want 1", upstream.calls)
	}
	records, err = buf.List(ctx)
	require.NoError(t, err)
	if len(records) != 1 {
		t.Errorf("captured after restore: got %d, want 1", len(records))
	}
}

func TestRoute_RegisteredAndUnknownSystems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := variable.NewMemory()
	buf := capture.NewBuffer(store, "")
	sw := mailsystem.NewSwitch(store, "", buf)

	upstream := &countingProvider{name: "upstream"}
	r := New(sw, captureprovider.New(buf), upstream)
	r.Register("SmtpMailSystem", provider.Func{
		ProviderName: "smtp",
		SendFunc:     func(context.Context, *email.Email) error { return nil },
	})

	require.NoError(t, variable.Put(ctx, store, mailsystem.DefaultKey, mailsystem.Setting{DefaultSystem: "SmtpMailSystem"}))
	p, system, err := r.Route(ctx)
	require.NoError(t, err)
	if p.Name() != "smtp" || system != "SmtpMailSystem" {
		t.Errorf("Route: got %s/%s, want smtp/SmtpMailSystem", p.Name(), system)
	}

	require.NoError(t, variable.Put(ctx, store, mailsystem.DefaultKey, mailsystem.Setting{DefaultSystem: "MimeMailSystem"}))
	p, _, err = r.Route(ctx)
	require.NoError(t, err)
	if p.Name() != "upstream" {
		t.Errorf("Route unknown: got %s, want upstream", p.Name())
	}
}

func TestSend_SelectorError(t *testing.T) {
	t.Parallel()

	upstream := &countingProvider{name: "upstream"}
	r := New(brokenSelector{}, upstream, upstream)
	if err := r.Send(context.Background(), &email.Email{}); err == nil {
		t.Fatal("expected error when the selector fails")
	}
	if upstream.calls != 0 {
		t.Errorf("no provider should be called, got %d calls", upstream.calls)
	}
	if r.Name() != "router" {
		t.Errorf("Name: got %q", r.Name())
	}
}

// Not parallel: the counters are process-wide.
func TestSend_CountsDeliveries(t *testing.T) {
	ctx := context.Background()
	store := variable.NewMemory()
	buf := capture.NewBuffer(store, "")
	sw := mailsystem.NewSwitch(store, "", buf)

	fail := false
	r := New(sw, captureprovider.New(buf), &countingProvider{name: "upstream"})
	r.Register("MeteredMailSystem", provider.Func{
		ProviderName: "metered",
		SendFunc: func(context.Context, *email.Email) error {
			if fail {
				return errors.New("rejected")
			}
			return nil
		},
	})
	require.NoError(t, variable.Put(ctx, store, mailsystem.DefaultKey, mailsystem.Setting{DefaultSystem: "MeteredMailSystem"}))

	ok := DeliveriesTotal.WithLabelValues("MeteredMailSystem", "metered", "ok")
	failed := DeliveriesTotal.WithLabelValues("MeteredMailSystem", "metered", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	require.NoError(t, r.Send(ctx, &email.Email{}))
	require.NoError(t, r.Send(ctx, &email.Email{}))
	fail = true
	require.Error(t, r.Send(ctx, &email.Email{}))

	require.Equal(t, 2.0, testutil.ToFloat64(ok)-okBefore)
	require.Equal(t, 1.0, testutil.ToFloat64(failed)-failedBefore)
}
