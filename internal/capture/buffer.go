// Package capture reads and writes the capture buffer: the list of message
// records the capturing transport has recorded.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

// DefaultKey is the variable holding the capture buffer.
const DefaultKey = "drupal_test_email_collector"

// Buffer accesses the capture buffer stored in a variable store. Stores
// implementing variable.ListStore append atomically; any other store falls
// back to a read-modify-write that is only safe within this Buffer.
type Buffer struct {
	store variable.Store
	key   string

	// mu serialises read-modify-write appends on stores without lists.
	mu sync.Mutex
}

// NewBuffer creates a Buffer over store. An empty key uses DefaultKey.
func NewBuffer(store variable.Store, key string) *Buffer {
	if key == "" {
		key = DefaultKey
	}
	return &Buffer{store: store, key: key}
}

// Key returns the variable name the buffer is stored under.
func (b *Buffer) Key() string {
	return b.key
}

// Clear removes the buffer entirely.
func (b *Buffer) Clear(ctx context.Context) error {
	if err := b.store.Unset(ctx, b.key); err != nil {
		return fmt.Errorf("failed to clear capture buffer: %w", err)
	}
	return nil
}

// List returns the captured records in the order they were sent.
// An absent buffer yields an empty slice.
func (b *Buffer) List(ctx context.Context) ([]email.Record, error) {
	if ls, ok := b.store.(variable.ListStore); ok {
		items, err := ls.Range(ctx, b.key)
		if err != nil {
			return nil, fmt.Errorf("failed to read capture buffer: %w", err)
		}
		records := make([]email.Record, 0, len(items))
		for _, item := range items {
			var r email.Record
			if err := json.Unmarshal(item, &r); err != nil {
				return nil, fmt.Errorf("failed to decode captured email: %w", err)
			}
			records = append(records, r)
		}
		return records, nil
	}

	records, err := variable.Get(ctx, b.store, b.key, []email.Record{})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []email.Record{}
	}
	return records, nil
}

// Append adds a record to the end of the buffer.
func (b *Buffer) Append(ctx context.Context, r email.Record) error {
	if ls, ok := b.store.(variable.ListStore); ok {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode captured email: %w", err)
		}
		if err := ls.Append(ctx, b.key, raw); err != nil {
			return fmt.Errorf("failed to append to capture buffer: %w", err)
		}
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	records, err := b.List(ctx)
	if err != nil {
		return err
	}
	return variable.Put(ctx, b.store, b.key, append(records, r))
}
