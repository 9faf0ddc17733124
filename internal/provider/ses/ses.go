// Package ses implements an upstream that relays uncaptured messages
// through AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-capture-lite/internal/email"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = time.Second
)

// Config configures the SES upstream.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender overrides the envelope sender; SES only accepts verified
	// identities.
	Sender string

	// Retries is the number of extra attempts after a failed call.
	Retries    int
	RetryDelay time.Duration
}

// Client is the subset of the SES v2 client the provider calls.
type Client interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider relays messages through SES.
type Provider struct {
	client     Client
	sender     string
	retries    int
	retryDelay time.Duration
}

// New loads AWS configuration and creates a Provider. Static credentials
// are used when both keys are set; otherwise the default chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient creates a Provider over an existing client.
func NewWithClient(client Client, cfg Config) *Provider {
	p := &Provider{
		client:     client,
		sender:     cfg.Sender,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
	}
	if p.retries <= 0 {
		p.retries = defaultRetries
	}
	if p.retryDelay <= 0 {
		p.retryDelay = defaultRetryDelay
	}
	return p
}

// Send relays msg, retrying with exponential backoff on failure.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	input, err := p.input(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, p.retryDelay<<(attempt-1)); err != nil {
				return fmt.Errorf("SES retry aborted: %w", err)
			}
		}

		if _, lastErr = p.client.SendEmail(ctx, input); lastErr == nil {
			return nil
		}
		slog.Warn("SES send failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("SES send failed after %d attempts: %w", p.retries+1, lastErr)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

func (p *Provider) input(msg *email.Email) (*sesv2.SendEmailInput, error) {
	from := p.sender
	if from == "" {
		from = msg.From
	}

	if len(msg.Attachments) == 0 {
		return simpleInput(from, msg), nil
	}

	raw, err := rawMessage(from, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	return &sesv2.SendEmailInput{
		Content: &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	}, nil
}

func simpleInput(from string, msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = utf8(msg.TextBody)
	}
	if msg.HtmlBody != "" {
		body.Html = utf8(msg.HtmlBody)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8(msg.Subject),
				Body:    body,
			},
		},
	}
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// rawMessage renders a multipart/mixed MIME message for messages with
// attachments.
func rawMessage(from string, msg *email.Email) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := [][2]string{
		{"From", from},
		{"To", strings.Join(msg.To, ", ")},
		{"Cc", strings.Join(msg.Cc, ", ")},
		{"Subject", mime.QEncoding.Encode("UTF-8", msg.Subject)},
		{"Message-ID", msg.MessageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary())},
	}
	for _, h := range headers {
		if h[1] != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
		}
	}
	buf.WriteString("\r\n")

	contentType, body := "text/plain; charset=UTF-8", msg.TextBody
	if msg.HtmlBody != "" {
		contentType, body = "text/html; charset=UTF-8", msg.HtmlBody
	}
	if body != "" {
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(body)); err != nil {
			return nil, err
		}
	}

	for _, att := range msg.Attachments {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {att.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", mime.QEncoding.Encode("UTF-8", att.Filename))},
		})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(wrapBase64(att.Content)); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrapBase64 encodes data with 76-column lines (RFC 2045).
func wrapBase64(data []byte) []byte {
	const width = 76
	enc := base64.StdEncoding.EncodeToString(data)

	var out bytes.Buffer
	for len(enc) > width {
		out.WriteString(enc[:width])
		out.WriteString("\r\n")
		enc = enc[width:]
	}
	out.WriteString(enc)
	return out.Bytes()
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
