package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/smtp-capture-lite/internal/parser"
)

// session is one client connection.
type session struct {
	srv  *Server
	conn net.Conn
	text *textproto.Conn

	greeted bool
	authed  bool
	tls     bool

	from string
	rcpt []string
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{srv: srv, conn: conn, text: textproto.NewConn(conn)}
}

func (s *session) serve(ctx context.Context) {
	defer func() { s.text.Close() }()

	remote := s.conn.RemoteAddr().String()
	slog.Debug("SMTP session opened", "remote", remote)
	defer slog.Debug("SMTP session closed", "remote", remote)

	// Unblock a pending read on shutdown. The raw conn also backs any TLS
	// conn installed by STARTTLS.
	raw := s.conn
	stop := context.AfterFunc(ctx, func() { _ = raw.SetReadDeadline(time.Now()) })
	defer stop()

	s.reply(220, "%s ESMTP smtp-capture-lite", s.srv.cfg.Hostname)

	for ctx.Err() == nil {
		line, err := s.readLine()
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("SMTP read failed", "remote", remote, "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg, _ := strings.Cut(line, " ")
		if quit := s.dispatch(ctx, strings.ToUpper(verb), strings.TrimSpace(arg)); quit {
			return
		}
	}
	s.reply(421, "Service shutting down")
}

func (s *session) dispatch(ctx context.Context, verb, arg string) bool {
	switch verb {
	case "HELO", "EHLO":
		s.hello(verb, arg)
	case "STARTTLS":
		s.startTLS()
	case "AUTH":
		s.auth(arg)
	case "MAIL":
		s.mail(arg)
	case "RCPT":
		s.recipient(arg)
	case "DATA":
		s.data(ctx)
	case "RSET":
		s.reset()
		s.reply(250, "OK")
	case "NOOP":
		s.reply(250, "OK")
	case "VRFY":
		s.reply(252, "Cannot VRFY user, but will accept message")
	case "QUIT":
		s.reply(221, "Bye")
		return true
	default:
		s.reply(500, "Unrecognized command")
	}
	return false
}

func (s *session) hello(verb, arg string) {
	if arg == "" {
		s.reply(501, "Syntax: %s hostname", verb)
		return
	}
	s.greeted = true
	s.reset()

	if verb == "HELO" {
		s.reply(250, "%s Hello %s", s.srv.cfg.Hostname, arg)
		return
	}

	lines := []string{s.srv.cfg.Hostname + " Hello " + arg, "8BITMIME", "PIPELINING"}
	if s.srv.cfg.TLS != nil && !s.tls {
		lines = append(lines, "STARTTLS")
	}
	if s.srv.creds.Required() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, "SIZE "+strconv.FormatInt(s.srv.cfg.MaxMessageSize, 10))
	s.replyLines(250, lines)
}

func (s *session) startTLS() {
	switch {
	case s.srv.cfg.TLS == nil:
		s.reply(454, "TLS not available")
		return
	case s.tls:
		s.reply(503, "TLS already active")
		return
	}

	s.reply(220, "Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.cfg.TLS)
	if err := tlsConn.Handshake(); err != nil {
		slog.Warn("TLS handshake failed", "error", err)
		return
	}

	// RFC 3207: the client must greet again after the handshake.
	s.conn = tlsConn
	s.text = textproto.NewConn(tlsConn)
	s.tls = true
	s.greeted = false
	s.authed = false
	s.reset()
}

func (s *session) auth(arg string) {
	switch {
	case !s.greeted:
		s.reply(503, "Send EHLO/HELO first")
		return
	case !s.srv.creds.Required():
		s.reply(503, "AUTH not available")
		return
	case s.authed:
		s.reply(503, "Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		if initial == "" {
			if initial, err = s.challenge(""); err != nil {
				return
			}
		}
		if initial == "*" {
			s.reply(501, "Authentication cancelled")
			return
		}
		err = s.srv.creds.VerifyPlain(initial)
	case "LOGIN":
		var user, pass string
		if user, err = s.challenge("VXNlcm5hbWU6"); err != nil {
			return
		}
		if user == "*" {
			s.reply(501, "Authentication cancelled")
			return
		}
		if pass, err = s.challenge("UGFzc3dvcmQ6"); err != nil {
			return
		}
		if pass == "*" {
			s.reply(501, "Authentication cancelled")
			return
		}
		err = s.srv.creds.VerifyLogin(user, pass)
	default:
		s.reply(504, "Unrecognized authentication type")
		return
	}

	if err != nil {
		slog.Debug("SMTP AUTH rejected", "mechanism", mechanism, "error", err)
		s.reply(535, "Authentication failed")
		return
	}
	s.authed = true
	s.reply(235, "Authentication successful")
}

// challenge sends a 334 prompt and returns the client's response line.
func (s *session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.replyRaw("334 ")
	} else {
		s.reply(334, "%s", prompt)
	}
	return s.readLine()
}

func (s *session) mail(arg string) {
	switch {
	case !s.greeted:
		s.reply(503, "Send EHLO/HELO first")
		return
	case s.srv.creds.Required() && !s.authed:
		s.reply(530, "Authentication required")
		return
	case s.from != "":
		s.reply(503, "Sender already specified")
		return
	}

	addr, ok := pathArg(arg, "FROM:")
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}
	// Null reverse-path is allowed for bounces; record it as "<>".
	if addr == "" {
		addr = "<>"
	}
	s.from = addr
	s.rcpt = nil
	s.reply(250, "OK")
}

func (s *session) recipient(arg string) {
	if s.from == "" {
		s.reply(503, "Send MAIL FROM first")
		return
	}

	addr, ok := pathArg(arg, "TO:")
	if !ok || addr == "" {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}
	s.rcpt = append(s.rcpt, addr)
	s.reply(250, "OK")
}

func (s *session) data(ctx context.Context) {
	if len(s.rcpt) == 0 {
		s.reply(503, "Send RCPT TO first")
		return
	}
	defer s.reset()

	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	limit := s.srv.cfg.MaxMessageSize
	_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.IdleTimeout))
	dot := s.text.DotReader()
	raw, err := io.ReadAll(io.LimitReader(dot, limit+1))
	if err != nil {
		slog.Warn("failed to read DATA", "error", err)
		return
	}
	if int64(len(raw)) > limit {
		// Consume the rest so the connection stays in sync.
		_, _ = io.Copy(io.Discard, dot)
		s.reply(552, "Message exceeds fixed maximum message size")
		return
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Warn("failed to parse message", "error", err)
		s.reply(554, "Transaction failed: unparseable message")
		return
	}
	if msg.From == "" && s.from != "<>" {
		msg.From = s.from
	}
	if len(msg.To) == 0 {
		msg.To = append([]string(nil), s.rcpt...)
	}

	if err := s.srv.cfg.Provider.Send(ctx, msg); err != nil {
		slog.Error("provider send failed",
			"provider", s.srv.cfg.Provider.Name(),
			"error", err,
		)
		s.reply(451, "Temporary failure, please try again later")
		return
	}

	slog.Info("message accepted",
		"from", msg.From,
		"to", strings.Join(msg.To, ", "),
		"subject", msg.Subject,
		"provider", s.srv.cfg.Provider.Name(),
	)
	s.reply(250, "OK message accepted")
}

func (s *session) reset() {
	s.from = ""
	s.rcpt = nil
}

func (s *session) readLine() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.IdleTimeout)); err != nil {
		return "", err
	}
	return s.text.ReadLine()
}

func (s *session) reply(code int, format string, args ...any) {
	if err := s.text.PrintfLine("%d "+format, append([]any{code}, args...)...); err != nil {
		slog.Debug("SMTP write failed", "error", err)
	}
}

func (s *session) replyRaw(line string) {
	if err := s.text.PrintfLine("%s", line); err != nil {
		slog.Debug("SMTP write failed", "error", err)
	}
}

// replyLines writes a multi-line reply: every line but the last uses "code-".
func (s *session) replyLines(code int, lines []string) {
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		s.replyRaw(strconv.Itoa(code) + sep + l)
	}
}

// pathArg extracts the address from "FROM:<addr> [params]" style arguments.
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])

	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return "", false
		}
		return rest[1:end], true
	}

	addr, _, _ := strings.Cut(rest, " ")
	return addr, addr != ""
}
