// Package parser turns the DATA of an SMTP transaction into an email.Email.
package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/smtp-capture-lite/internal/email"
)

var decoder = &mime.WordDecoder{}

// Parse parses an RFC 5322 message, including multipart bodies, encoded
// headers and base64 or quoted-printable transfer encodings.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	h := msg.Header
	out := &email.Email{
		From:       decodeHeader(h.Get("From")),
		To:         addressList(h.Get("To")),
		Cc:         addressList(h.Get("Cc")),
		Bcc:        addressList(h.Get("Bcc")),
		Subject:    decodeHeader(h.Get("Subject")),
		MessageID:  h.Get("Message-Id"),
		RawHeaders: make(map[string][]string, len(h)),
	}
	for k, v := range h {
		out.RawHeaders[k] = v
	}

	if err := readEntity(out, h.Get("Content-Type"), h.Get("Content-Transfer-Encoding"), "", msg.Body, true); err != nil {
		return nil, err
	}
	return out, nil
}

// readEntity stores one MIME entity in out: as the text or HTML body, as an
// attachment, or by recursing into a multipart container. Only a top-level
// entity of unknown type is kept as the text body.
func readEntity(out *email.Email, contentType, encoding, disposition string, body io.Reader, top bool) error {
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("unparseable content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return errors.New("multipart message missing boundary")
		}
		return readMultipart(out, multipart.NewReader(body, boundary))
	}

	content, err := io.ReadAll(transferDecoder(encoding, body))
	if err != nil {
		return fmt.Errorf("failed to read %s body: %w", mediaType, err)
	}

	filename := dispositionFilename(disposition)
	if filename == "" {
		filename = params["name"]
	}
	isAttachment := strings.HasPrefix(strings.ToLower(disposition), "attachment")

	switch {
	case !isAttachment && mediaType == "text/plain" && out.TextBody == "":
		out.TextBody = string(content)
	case !isAttachment && mediaType == "text/html" && out.HtmlBody == "":
		out.HtmlBody = string(content)
	case isAttachment || filename != "":
		if filename == "" {
			filename = fallbackFilename(mediaType)
		}
		out.Attachments = append(out.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
		})
	case top:
		slog.Warn("unrecognized content type, keeping as text body", "content_type", mediaType)
		out.TextBody = string(content)
	default:
		slog.Warn("skipping MIME part", "content_type", mediaType)
	}
	return nil
}

func readMultipart(out *email.Email, r *multipart.Reader) error {
	for {
		// NextRawPart keeps Content-Transfer-Encoding visible so every
		// entity is decoded by the same path.
		part, err := r.NextRawPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read multipart body: %w", err)
		}

		err = readEntity(out,
			part.Header.Get("Content-Type"),
			part.Header.Get("Content-Transfer-Encoding"),
			part.Header.Get("Content-Disposition"),
			part,
			false,
		)
		if err != nil {
			slog.Warn("failed to read MIME part", "error", err)
		}
	}
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		// The stdlib decoder skips CR and LF, so wrapped lines decode as is.
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return decodeHeader(params["filename"])
}

func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

func decodeHeader(v string) string {
	decoded, err := decoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// addressList returns bare addresses, falling back to a comma split when
// the list is not valid RFC 5322.
func addressList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
