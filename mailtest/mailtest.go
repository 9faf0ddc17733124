// Package mailtest lets acceptance tests inspect the emails a CMS sends.
//
// A Module is created once per test binary. Its suite hooks point the CMS
// mail-system selector at the capturing transport and restore it afterwards;
// its per-test hook empties the capture buffer. Wire it from TestMain:
//
//	var mails *mailtest.Module
//
//	func TestMain(m *testing.M) {
//		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDR")})
//		var err error
//		mails, err = mailtest.New(mailtest.Config{Enabled: true}, mailtest.NewRedisStore(client, ""))
//		if err != nil {
//			log.Fatal(err)
//		}
//		os.Exit(mails.Run(context.Background(), m.Run))
//	}
//
// and call BeforeTest at the top of each test that sends mail.
package mailtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shineum/smtp-capture-lite/internal/capture"
	"github.com/shineum/smtp-capture-lite/internal/email"
	"github.com/shineum/smtp-capture-lite/internal/mailsystem"
	"github.com/shineum/smtp-capture-lite/internal/variable"
)

// ErrMissingStore is returned by New when no variable store is provided.
var ErrMissingStore = errors.New("mailtest requires a variable store")

type (
	// Record is one captured message, keyed by field name
	// (to, from, cc, subject, body, html, message_id, attachments, header:<name>).
	Record = email.Record

	// Criteria maps a Record field to a substring it must contain.
	Criteria = email.Criteria

	// Store is the variable store shared with the capturing transport.
	Store = variable.Store

	// Setting is the mail-system selector value.
	Setting = mailsystem.Setting
)

// NewMemoryStore returns an in-process Store.
func NewMemoryStore() Store {
	return variable.NewMemory()
}

// NewRedisStore returns a Store over client. An empty prefix uses the
// prefix the capturing transport defaults to.
func NewRedisStore(client *redis.Client, prefix string) Store {
	return variable.NewRedis(client, prefix)
}

// Config controls a Module.
type Config struct {
	// Enabled gates every hook. When false the hooks do nothing; the
	// assertions still read whatever the buffer holds.
	Enabled bool

	// MailSystemKey and BufferKey override the variable names. Empty values
	// use mail_system and drupal_test_email_collector.
	MailSystemKey string
	BufferKey     string
}

// Module is the per-suite session holding the remembered mail system and
// the one-shot preserve flag. Its hooks must not be called concurrently.
type Module struct {
	cfg    Config
	buffer *capture.Buffer
	sw     *mailsystem.Switch

	previous mailsystem.Setting
	preserve bool
}

// New creates a Module over store. A nil store, including a nil
// *variable.Memory or *variable.Redis, yields ErrMissingStore.
func New(cfg Config, store Store) (*Module, error) {
	if isNilStore(store) {
		return nil, ErrMissingStore
	}

	buf := capture.NewBuffer(store, cfg.BufferKey)
	return &Module{
		cfg:    cfg,
		buffer: buf,
		sw:     mailsystem.NewSwitch(store, cfg.MailSystemKey, buf),
	}, nil
}

func isNilStore(store Store) bool {
	switch s := store.(type) {
	case nil:
		return true
	case *variable.Memory:
		return s == nil
	case *variable.Redis:
		return s == nil
	}
	return false
}

// Enabled reports whether the hooks are active.
func (m *Module) Enabled() bool {
	return m.cfg.Enabled
}

// BeforeSuite switches the CMS to the capturing transport and remembers the
// setting it replaced.
func (m *Module) BeforeSuite(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	prev, err := m.sw.Enable(ctx)
	if err != nil {
		return fmt.Errorf("failed to enable testing mail system: %w", err)
	}
	m.previous = prev

	slog.Info("capturing sent emails", "previous_mail_system", prev.System())
	return nil
}

// AfterSuite restores the mail system remembered by BeforeSuite.
func (m *Module) AfterSuite(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	if err := m.sw.Restore(ctx, m.previous); err != nil {
		return fmt.Errorf("failed to restore mail system: %w", err)
	}

	slog.Info("mail system restored", "mail_system", m.previous.System())
	return nil
}

// BeforeTest empties the capture buffer unless PreserveEmails was called
// since the previous test. The preserve flag is reset either way.
func (m *Module) BeforeTest(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	preserve := m.preserve
	m.preserve = false

	if preserve {
		slog.Debug("preserving sent emails for this test")
		return nil
	}
	return m.ClearSentEmails(ctx)
}

// Run calls BeforeSuite, run and AfterSuite in order and returns an exit
// code for os.Exit. A failing suite hook makes the code non-zero.
func (m *Module) Run(ctx context.Context, run func() int) int {
	if err := m.BeforeSuite(ctx); err != nil {
		slog.Error("mailtest suite setup failed", "error", err)
		return 1
	}

	code := run()

	if err := m.AfterSuite(ctx); err != nil {
		slog.Error("mailtest suite teardown failed", "error", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// PreserveEmails keeps the captured emails through the next BeforeTest.
func (m *Module) PreserveEmails() {
	m.preserve = true
}

// ClearSentEmails empties the capture buffer.
func (m *Module) ClearSentEmails(ctx context.Context) error {
	return m.buffer.Clear(ctx)
}

// GrabSentEmails returns the emails captured so far, oldest first.
func (m *Module) GrabSentEmails(ctx context.Context) ([]Record, error) {
	return m.buffer.List(ctx)
}
