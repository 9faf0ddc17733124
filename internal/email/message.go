// Package email defines the message model shared by the SMTP sink, the
// capturing transport and the assertion helpers.
package email

import (
	"fmt"
	"strings"
)

// Record field names written by the capturing transport.
const (
	FieldID          = "id"
	FieldTo          = "to"
	FieldFrom        = "from"
	FieldCc          = "cc"
	FieldSubject     = "subject"
	FieldBody        = "body"
	FieldHTML        = "html"
	FieldMessageID   = "message_id"
	FieldAttachments = "attachments"

	// headerPrefix namespaces raw headers inside a Record.
	headerPrefix = "header:"
)

// Email represents a parsed email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Record is a captured message flattened to field name/value pairs.
type Record map[string]string

// Criteria maps a Record field name to a substring that field must contain.
type Criteria map[string]string

// Record flattens the message into the shape stored in the capture buffer.
// Address lists are joined with ", ". The body field carries the text part,
// or the HTML part when no text part exists.
func (e *Email) Record() Record {
	r := Record{
		FieldTo:      strings.Join(e.To, ", "),
		FieldFrom:    e.From,
		FieldSubject: e.Subject,
		FieldBody:    e.TextBody,
	}
	if r[FieldBody] == "" {
		r[FieldBody] = e.HtmlBody
	}
	if len(e.Cc) > 0 {
		r[FieldCc] = strings.Join(e.Cc, ", ")
	}
	if e.HtmlBody != "" {
		r[FieldHTML] = e.HtmlBody
	}
	if e.MessageID != "" {
		r[FieldMessageID] = e.MessageID
	}
	if len(e.Attachments) > 0 {
		names := make([]string, 0, len(e.Attachments))
		for _, att := range e.Attachments {
			names = append(names, att.Filename)
		}
		r[FieldAttachments] = strings.Join(names, ", ")
	}
	for name, values := range e.RawHeaders {
		if len(values) == 0 {
			continue
		}
		r[headerPrefix+strings.ToLower(name)] = values[0]
	}
	return r
}

// Header returns the first value of the named raw header, if captured.
func (r Record) Header(name string) (string, bool) {
	v, ok := r[headerPrefix+strings.ToLower(name)]
	return v, ok
}

// String renders the record's summary fields for failure messages.
func (r Record) String() string {
	return fmt.Sprintf("to=%q from=%q subject=%q", r[FieldTo], r[FieldFrom], r[FieldSubject])
}
