package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

// withRedis points the CLI at a fresh miniredis and returns a store that
// sees the same keys.
func withRedis(t *testing.T) variable.Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("REDIS_PREFIX", "")
	t.Setenv("UPSTREAM", "")
	t.Setenv("LOG_LEVEL", "")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return variable.NewRedis(client, "")
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_EnableListClearRestore(t *testing.T) {
	ctx := context.Background()
	store := withRedis(t)

	require.NoError(t, variable.Put(ctx, store, mailsystem.DefaultKey, mailsystem.Setting{DefaultSystem: "SmtpMailSystem"}))

	out, err := runCmd(t, "enable")
	require.NoError(t, err)
	var prev mailsystem.Setting
	require.NoError(t, json.Unmarshal([]byte(out), &prev))
	assert.Equal(t, "SmtpMailSystem", prev.DefaultSystem)

	buf := capture.NewBuffer(store, "")
	require.NoError(t, buf.Append(ctx, email.Record{"to": "a@x.com", "subject": "Hi"}))

	out, err = runCmd(t, "list")
	require.NoError(t, err)
	var records []email.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Hi", records[0]["subject"])

	_, err = runCmd(t, "clear")
	require.NoError(t, err)
	out, err = runCmd(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	_, err = runCmd(t, "restore", `{"default-system":"SmtpMailSystem"}`)
	require.NoError(t, err)
	cur, err := mailsystem.NewSwitch(store, "", buf).Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SmtpMailSystem", cur.DefaultSystem)
}

func TestRun_EnableRestoreKeepsMapping(t *testing.T) {
	ctx := context.Background()
	store := withRedis(t)

	const stored = `{"default-system":"SmtpMailSystem","mimemail":"MimeMailSystem"}`
	require.NoError(t, store.Set(ctx, mailsystem.DefaultKey, []byte(stored)))

	out, err := runCmd(t, "enable")
	require.NoError(t, err)
	require.JSONEq(t, stored, out)

	_, err = runCmd(t, "restore", strings.TrimSpace(out))
	require.NoError(t, err)

	raw, err := store.Get(ctx, mailsystem.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, stored, string(raw))
}

func TestRun_RestoreErrors(t *testing.T) {
	withRedis(t)

	_, err := runCmd(t, "restore", `{}`)
	assert.ErrorIs(t, err, mailsystem.ErrNoPreviousSystem)

	_, err = runCmd(t, "restore", `not json`)
	assert.Error(t, err)

	_, err = runCmd(t, "restore")
	assert.Error(t, err)
}

func TestRun_UsageErrors(t *testing.T) {
	withRedis(t)

	_, err := runCmd(t, "purge")
	assert.ErrorContains(t, err, "unknown command")

	_, err = runCmd(t, "--nope")
	assert.ErrorContains(t, err, "unknown flag")

	_, err = runCmd(t, "list", "extra")
	assert.Error(t, err)
}

func TestRun_AdminCommandsNeedRedis(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("UPSTREAM", "")
	t.Setenv("LOG_LEVEL", "")

	_, err := runCmd(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("UPSTREAM", "carrier-pigeon")

	_, err := runCmd(t, "list")
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestRun_ConfigFlag(t *testing.T) {
	store := withRedis(t)
	t.Setenv("CAPTURE_BUFFER_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capture:\n  buffer_key: from_file\n"), 0o644))

	ctx := context.Background()
	require.NoError(t, capture.NewBuffer(store, "from_file").Append(ctx, email.Record{"subject": "From file"}))

	out, err := runCmd(t, "--config", path, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "From file")
}

func TestServe_StopsOnCancel(t *testing.T) {
	withRedis(t)
	t.Setenv("SMTP_LISTEN", "127.0.0.1:0")
	t.Setenv("API_LISTEN", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}
