package mailsystem

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

func newSwitch(t *testing.T) (*Switch, *capture.Buffer, variable.Store) {
	t.Helper()
	store := variable.NewMemory()
	buf := capture.NewBuffer(store, "")
	return NewSwitch(store, "", buf), buf, store
}

func TestEnable_NoPriorSetting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw, _, store := newSwitch(t)

	prev, err := sw.Enable(ctx)
	require.NoError(t, err)
	if prev.DefaultSystem != DefaultSystem {
		t.Errorf("previous: got %q, want %q", prev.DefaultSystem, DefaultSystem)
	}

	cur, err := variable.Get(ctx, store, DefaultKey, Setting{})
	require.NoError(t, err)
	if cur.DefaultSystem != TestingSystem {
		t.Errorf("current: got %q, want %q", cur.DefaultSystem, TestingSystem)
	}

	require.NoError(t, sw.Restore(ctx, prev))
	cur, err = sw.Current(ctx)
	require.NoError(t, err)
	if cur.DefaultSystem != prev.DefaultSystem {
		t.Errorf("after Restore: got %q, want %q", cur.DefaultSystem, prev.DefaultSystem)
	}
}

func TestEnable_RemembersCustomSystem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw, _, store := newSwitch(t)

	custom := Setting{DefaultSystem: "SmtpMailSystem"}
	require.NoError(t, variable.Put(ctx, store, DefaultKey, custom))

	prev, err := sw.Enable(ctx)
	require.NoError(t, err)
	if prev.DefaultSystem != custom.DefaultSystem {
		t.Errorf("previous: got %q, want %q", prev.DefaultSystem, custom.DefaultSystem)
	}

	require.NoError(t, sw.Restore(ctx, prev))
	raw, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	if string(raw) != `{"default-system":"SmtpMailSystem"}` {
		t.Errorf("restored value: got %s", raw)
	}
}

func TestEnable_EmptySettingUsesDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw, _, store := newSwitch(t)

	require.NoError(t, store.Set(ctx, DefaultKey, []byte(`{}`)))

	prev, err := sw.Enable(ctx)
	require.NoError(t, err)
	if prev.DefaultSystem != DefaultSystem {
		t.Errorf("previous: got %q, want %q", prev.DefaultSystem, DefaultSystem)
	}
}

func TestEnable_ClearsBuffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw, buf, _ := newSwitch(t)

	require.NoError(t, buf.Append(ctx, email.Record{"to": "stale@x.com"}))

	_, err := sw.Enable(ctx)
	require.NoError(t, err)

	got, err := buf.List(ctx)
	require.NoError(t, err)
	if len(got) != 0 {
		t.Errorf("buffer after Enable: got %d records, want 0", len(got))
	}
}

func TestRestore_WithoutPrevious(t *testing.T) {
	t.Parallel()
	sw, _, _ := newSwitch(t)

	err := sw.Restore(context.Background(), Setting{})
	if !errors.Is(err, ErrNoPreviousSystem) {
		t.Errorf("Restore: got %v, want ErrNoPreviousSystem", err)
	}
}

func TestRestore_KeepsEveryEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw, _, store := newSwitch(t)

	const stored = `{"default-system":"SmtpMailSystem", "mimemail":"MimeMailSystem"}`
	require.NoError(t, store.Set(ctx, DefaultKey, []byte(stored)))

	prev, err := sw.Enable(ctx)
	require.NoError(t, err)
	if prev.DefaultSystem != "SmtpMailSystem" {
		t.Errorf("previous: got %q, want SmtpMailSystem", prev.DefaultSystem)
	}

	raw, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"default-system":"TestingMailSystem"}`, string(raw))

	require.NoError(t, sw.Restore(ctx, prev))
	raw, err = store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	if string(raw) != stored {
		t.Errorf("restored value: got %s, want %s", raw, stored)
	}
}

func TestRestore_MappingWithoutDefaultSystem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sw, _, store := newSwitch(t)

	const stored = `{"mimemail":"MimeMailSystem"}`
	require.NoError(t, store.Set(ctx, DefaultKey, []byte(stored)))

	prev, err := sw.Enable(ctx)
	require.NoError(t, err)
	if prev.IsZero() {
		t.Fatal("previous: got zero setting, want the stored mapping")
	}
	if prev.System() != DefaultSystem {
		t.Errorf("System: got %q, want %q", prev.System(), DefaultSystem)
	}

	require.NoError(t, sw.Restore(ctx, prev))
	raw, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	if string(raw) != stored {
		t.Errorf("restored value: got %s, want %s", raw, stored)
	}
}

func TestSetting_Raw(t *testing.T) {
	t.Parallel()

	var s Setting
	require.NoError(t, json.Unmarshal([]byte(`{"default-system":"SmtpMailSystem","mimemail":"MimeMailSystem"}`), &s))

	s.DefaultSystem = "DefaultMailSystem"
	raw, err := s.Raw()
	require.NoError(t, err)
	require.JSONEq(t, `{"default-system":"DefaultMailSystem","mimemail":"MimeMailSystem"}`, string(raw))

	raw, err = Setting{}.Raw()
	require.NoError(t, err)
	if string(raw) != `{}` {
		t.Errorf("zero setting: got %s, want {}", raw)
	}

	if err := json.Unmarshal([]byte(`{"default-system":7}`), &s); err == nil {
		t.Error("expected error for a non-string default-system")
	}
}
