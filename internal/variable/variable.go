// Package variable provides the key/value variable store the capture
// session and the capturing transport share.
package variable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store.Get when the key is not set.
var ErrNotFound = errors.New("variable not found")

// Store is a persistent variable store holding raw JSON values.
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Unset removes key. Removing an absent key is not an error.
	Unset(ctx context.Context, key string) error
}

// ListStore is a Store that can also hold list values and append to them
// atomically, so concurrent writers never overwrite each other's elements.
// Unset removes a list like any other value.
type ListStore interface {
	Store

	// Append adds value to the end of the list stored under key, creating
	// the list when key is not set.
	Append(ctx context.Context, key string, value []byte) error

	// Range returns the elements of the list stored under key, oldest
	// first. A missing key yields no elements.
	Range(ctx context.Context, key string) ([][]byte, error)
}

// Get decodes the value stored under key into a T, returning def when the
// key is not set.
func Get[T any](ctx context.Context, s Store, key string, def T) (T, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read variable %q: %w", key, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("failed to decode variable %q: %w", key, err)
	}
	return v, nil
}

// Put encodes v as JSON and stores it under key.
func Put[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode variable %q: %w", key, err)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write variable %q: %w", key, err)
	}
	return nil
}
