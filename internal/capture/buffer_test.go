package capture

import (
	"context"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

func TestList_EmptyWhenAbsent(t *testing.T) {
	t.Parallel()

	b := NewBuffer(variable.NewMemory(), "")
	if b.Key() != DefaultKey {
		t.Errorf("Key: got %q, want %q", b.Key(), DefaultKey)
	}

	got, err := b.List(context.Background())
	require.NoError(t, err)
	if got == nil || len(got) != 0 {
		t.Errorf("List: got %v, want empty non-nil slice", got)
	}
}

func TestAppendListClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := NewBuffer(variable.NewMemory(), "collector")
	require.NoError(t, b.Append(ctx, email.Record{"to": "a@x.com", "subject": "Welcome"}))
	require.NoError(t, b.Append(ctx, email.Record{"to": "b@x.com", "subject": "Invoice"}))

	got, err := b.List(ctx)
	require.NoError(t, err)
	if len(got) != 2 {
		t.Fatalf("List: got %d records, want 2", len(got))
	}
	if got[0]["subject"] != "Welcome" || got[1]["subject"] != "Invoice" {
		t.Errorf("List order: got %v", got)
	}

	require.NoError(t, b.Clear(ctx))
	require.NoError(t, b.Clear(ctx), "clearing an absent buffer must succeed")

	got, err = b.List(ctx)
	require.NoError(t, err)
	if len(got) != 0 {
		t.Errorf("List after Clear: got %d records, want 0", len(got))
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := NewBuffer(variable.NewMemory(), "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Append(ctx, email.Record{"to": "x@x.com"})
		}()
	}
	wg.Wait()

	got, err := b.List(ctx)
	require.NoError(t, err)
	if len(got) != 20 {
		t.Errorf("List: got %d records, want 20", len(got))
	}
}

func listStores(t *testing.T) map[string]variable.ListStore {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]variable.ListStore{
		"memory": variable.NewMemory(),
		"redis":  variable.NewRedis(client, ""),
	}
}

// interleaved runs before ahead of every append it forwards, standing in
// for a writer in another process.
type interleaved struct {
	variable.ListStore
	before func()
}

func (s interleaved) Append(ctx context.Context, key string, value []byte) error {
	s.before()
	return s.ListStore.Append(ctx, key, value)
}

func TestAppend_ClearFromAnotherBuffer(t *testing.T) {
	ctx := context.Background()
	for name, store := range listStores(t) {
		t.Run(name, func(t *testing.T) {
			suite := NewBuffer(store, "")
			require.NoError(t, suite.Append(ctx, email.Record{"subject": "stale"}))

			sink := NewBuffer(interleaved{ListStore: store, before: func() {
				require.NoError(t, suite.Clear(ctx))
			}}, "")
			require.NoError(t, sink.Append(ctx, email.Record{"subject": "new"}))

			got, err := suite.List(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			if got[0]["subject"] != "new" {
				t.Errorf("List: got %v, want only the new record", got)
			}
		})
	}
}

func TestAppend_ConcurrentBuffers(t *testing.T) {
	ctx := context.Background()
	for name, store := range listStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = NewBuffer(store, "").Append(ctx, email.Record{"to": "x@x.com"})
				}()
			}
			wg.Wait()

			got, err := NewBuffer(store, "").List(ctx)
			require.NoError(t, err)
			if len(got) != 20 {
				t.Errorf("List: got %d records, want 20", len(got))
			}

			require.NoError(t, NewBuffer(store, "").Clear(ctx))
			got, err = NewBuffer(store, "").List(ctx)
			require.NoError(t, err)
			if len(got) != 0 {
				t.Errorf("List after Clear: got %d records, want 0", len(got))
			}
		})
	}
}
