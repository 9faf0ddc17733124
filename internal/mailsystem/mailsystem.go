// Package mailsystem switches the CMS mail-system selector between its
// production transport and the capturing transport.
package mailsystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

// Known mail-system names.
const (
	DefaultSystem = "DefaultMailSystem"
	TestingSystem = "TestingMailSystem"
)

// DefaultKey is the variable holding the mail-system selector.
const DefaultKey = "mail_system"

// ErrNoPreviousSystem is returned by Restore when no prior setting was
// captured. It signals a hook ordering mistake.
var ErrNoPreviousSystem = errors.New("previous mail system has not been set yet")

const systemField = "default-system"

// Setting is the mail-system selector value, a mapping from mail keys to
// transport names. DefaultSystem mirrors its default-system entry.
//
// A decoded Setting keeps the bytes it was decoded from, so entries other
// than default-system survive being read and written back.
type Setting struct {
	DefaultSystem string

	raw    json.RawMessage
	system string // default-system as found in raw
	others int    // entries in raw besides default-system
}

// IsZero reports whether the setting holds no entries at all.
func (s Setting) IsZero() bool {
	return s.DefaultSystem == "" && s.others == 0
}

// System returns the transport used for mail no other entry claims. A
// mapping without a default-system entry falls back to DefaultSystem.
func (s Setting) System() string {
	if s.DefaultSystem == "" {
		return DefaultSystem
	}
	return s.DefaultSystem
}

// UnmarshalJSON decodes a selector mapping and keeps a copy of data.
func (s *Setting) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var system string
	others := len(fields)
	if v, ok := fields[systemField]; ok {
		others--
		if err := json.Unmarshal(v, &system); err != nil {
			return fmt.Errorf("invalid %s: %w", systemField, err)
		}
	}

	*s = Setting{
		DefaultSystem: system,
		raw:           append(json.RawMessage(nil), data...),
		system:        system,
		others:        others,
	}
	return nil
}

// MarshalJSON encodes s as returned by Raw.
func (s Setting) MarshalJSON() ([]byte, error) {
	return s.Raw()
}

// Raw returns the stored form of s. The decoded bytes come back unchanged
// unless DefaultSystem was modified, in which case only the default-system
// entry is rewritten.
func (s Setting) Raw() (json.RawMessage, error) {
	if s.raw != nil && s.DefaultSystem == s.system {
		return s.raw, nil
	}

	fields := map[string]json.RawMessage{}
	if s.raw != nil {
		if err := json.Unmarshal(s.raw, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	if s.DefaultSystem == "" {
		delete(fields, systemField)
	} else {
		v, err := json.Marshal(s.DefaultSystem)
		if err != nil {
			return nil, err
		}
		fields[systemField] = v
	}
	return json.Marshal(fields)
}

// Switch reads and writes the mail-system selector.
type Switch struct {
	store  variable.Store
	key    string
	buffer *capture.Buffer
}

// NewSwitch creates a Switch over store. An empty key uses DefaultKey.
// Enable clears buffer after switching.
func NewSwitch(store variable.Store, key string, buffer *capture.Buffer) *Switch {
	if key == "" {
		key = DefaultKey
	}
	return &Switch{store: store, key: key, buffer: buffer}
}

// Current returns the active setting, defaulting to DefaultSystem when the
// selector is unset or empty.
func (s *Switch) Current(ctx context.Context) (Setting, error) {
	def := Setting{DefaultSystem: DefaultSystem}
	cur, err := variable.Get(ctx, s.store, s.key, def)
	if err != nil {
		return def, err
	}
	if cur.IsZero() {
		return def, nil
	}
	return cur, nil
}

// Enable points the selector at the capturing transport, clears the capture
// buffer and returns the setting it replaced.
func (s *Switch) Enable(ctx context.Context) (Setting, error) {
	prev, err := s.Current(ctx)
	if err != nil {
		return Setting{}, err
	}

	if err := variable.Put(ctx, s.store, s.key, Setting{DefaultSystem: TestingSystem}); err != nil {
		return Setting{}, err
	}
	if err := s.buffer.Clear(ctx); err != nil {
		return Setting{}, err
	}

	slog.Debug("testing mail system enabled", "previous", prev.System())
	return prev, nil
}

// Restore writes previous back to the selector exactly as Enable read it.
func (s *Switch) Restore(ctx context.Context, previous Setting) error {
	if previous.IsZero() {
		return ErrNoPreviousSystem
	}
	raw, err := previous.Raw()
	if err != nil {
		return fmt.Errorf("failed to encode variable %q: %w", s.key, err)
	}
	if err := s.store.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("failed to write variable %q: %w", s.key, err)
	}

	slog.Debug("mail system restored", "system", previous.System())
	return nil
}
