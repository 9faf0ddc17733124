package variable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store, used when the CMS and the test suite share
// a process or when no Redis is configured.
type Memory struct {
	mu   sync.Mutex
	vars map[string][]byte
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{vars: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vars[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vars[key] = append([]byte(nil), value...)
	return nil
}

// Unset removes key.
func (m *Memory) Unset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.vars, key)
	return nil
}

// Append adds value to the JSON array stored under key. The array stays
// readable through Get.
func (m *Memory) Append(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.items(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(append(items, json.RawMessage(value)))
	if err != nil {
		return fmt.Errorf("failed to append to %q: %w", key, err)
	}
	m.vars[key] = raw
	return nil
}

// Range returns the elements of the JSON array stored under key.
func (m *Memory) Range(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.items(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = append([]byte(nil), item...)
	}
	return out, nil
}

func (m *Memory) items(key string) ([]json.RawMessage, error) {
	v, ok := m.vars[key]
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("variable %q is not a list: %w", key, err)
	}
	return items, nil
}
