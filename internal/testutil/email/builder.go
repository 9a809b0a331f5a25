// Package email builds raw RFC 822 / MIME messages for tests.
package email

import (
	"encoding/base64"
	"strings"
)

// Part is one MIME body part. Headers are written in order; Body is written
// as-is after the blank line.
type Part struct {
	Headers [][2]string
	Body    string
}

// Attachment returns a base64 part with the given disposition filename.
func Attachment(filename, contentType string, data []byte) Part {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Part{
		Headers: [][2]string{
			{"Content-Type", contentType + `; name="` + filename + `"`},
			{"Content-Disposition", `attachment; filename="` + filename + `"`},
			{"Content-Transfer-Encoding", "base64"},
		},
		Body: base64.StdEncoding.EncodeToString(data),
	}
}

// Message returns a message/rfc822 part carrying raw.
func Message(raw []byte) Part {
	return Part{
		Headers: [][2]string{{"Content-Type", "message/rfc822"}},
		Body:    string(raw),
	}
}

// Text returns an inline text part of the given subtype ("plain", "html").
func Text(subtype, body string) Part {
	return Part{
		Headers: [][2]string{{"Content-Type", "text/" + subtype + `; charset="utf-8"`}},
		Body:    body,
	}
}

// MessageBuilder constructs messages with a fluent API. Lines end in \n
// unless CRLF is set.
type MessageBuilder struct {
	headers   [][2]string
	body      string
	html      string
	multipart string
	parts     []Part
	boundary  string
	crlf      bool
}

// NewMessage returns a builder with From, To, Subject and Date set.
func NewMessage() *MessageBuilder {
	b := &MessageBuilder{
		body:     "This is a test message body.",
		boundary: "boundary123",
	}
	b.Header("From", "sender@example.com")
	b.Header("To", "recipient@example.com")
	b.Header("Subject", "Test Message")
	b.Header("Date", "Mon, 01 Jan 2024 12:00:00 +0000")
	return b
}

// Header sets name to value, replacing an existing header of the same name
// (case-insensitive) in place, or appending it.
func (b *MessageBuilder) Header(name, value string) *MessageBuilder {
	for i, h := range b.headers {
		if strings.EqualFold(h[0], name) {
			b.headers[i] = [2]string{name, value}
			return b
		}
	}
	return b.HeaderAppend(name, value)
}

// HeaderAppend appends a header even when one of the same name exists.
func (b *MessageBuilder) HeaderAppend(name, value string) *MessageBuilder {
	b.headers = append(b.headers, [2]string{name, value})
	return b
}

// Without removes every header called name.
func (b *MessageBuilder) Without(name string) *MessageBuilder {
	kept := b.headers[:0]
	for _, h := range b.headers {
		if !strings.EqualFold(h[0], name) {
			kept = append(kept, h)
		}
	}
	b.headers = kept
	return b
}

// Subject sets the Subject header.
func (b *MessageBuilder) Subject(v string) *MessageBuilder { return b.Header("Subject", v) }

// Body sets the plain text body.
func (b *MessageBuilder) Body(v string) *MessageBuilder { b.body = v; return b }

// HTML adds an HTML alternative to the plain text body.
func (b *MessageBuilder) HTML(v string) *MessageBuilder { b.html = v; return b }

// Boundary sets the multipart boundary.
func (b *MessageBuilder) Boundary(v string) *MessageBuilder { b.boundary = v; return b }

// Multipart sets the multipart subtype used when parts are added
// ("mixed" by default).
func (b *MessageBuilder) Multipart(subtype string) *MessageBuilder { b.multipart = subtype; return b }

// WithPart appends a body part after the text body.
func (b *MessageBuilder) WithPart(p Part) *MessageBuilder { b.parts = append(b.parts, p); return b }

// WithAttachment appends a base64 attachment.
func (b *MessageBuilder) WithAttachment(filename, contentType string, data []byte) *MessageBuilder {
	return b.WithPart(Attachment(filename, contentType, data))
}

// WithMessage appends raw as an attached message/rfc822 part.
func (b *MessageBuilder) WithMessage(raw []byte) *MessageBuilder {
	return b.WithPart(Message(raw))
}

// CRLF switches to \r\n line endings.
func (b *MessageBuilder) CRLF() *MessageBuilder { b.crlf = true; return b }

// Bytes renders the message.
func (b *MessageBuilder) Bytes() []byte {
	nl := "\n"
	if b.crlf {
		nl = "\r\n"
	}
	var s strings.Builder
	for _, h := range b.headers {
		s.WriteString(h[0] + ": " + h[1] + nl)
	}

	var parts []Part
	if b.html != "" {
		parts = append(parts, Text("plain", b.body), Text("html", b.html))
	}
	if len(b.parts) == 0 && len(parts) == 0 {
		if !b.has("Content-Type") {
			s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl)
		}
		s.WriteString(nl + b.body + nl)
		return []byte(s.String())
	}
	if len(parts) == 0 {
		parts = append(parts, Text("plain", b.body))
	}
	parts = append(parts, b.parts...)

	subtype := b.multipart
	if subtype == "" {
		subtype = "mixed"
		if len(b.parts) == 0 {
			subtype = "alternative"
		}
	}
	s.WriteString("MIME-Version: 1.0" + nl)
	s.WriteString("Content-Type: multipart/" + subtype + `; boundary="` + b.boundary + `"` + nl)
	s.WriteString(nl)
	for _, p := range parts {
		s.WriteString("--" + b.boundary + nl)
		for _, h := range p.Headers {
			s.WriteString(h[0] + ": " + h[1] + nl)
		}
		s.WriteString(nl + p.Body + nl)
	}
	s.WriteString("--" + b.boundary + "--" + nl)
	return []byte(s.String())
}

func (b *MessageBuilder) has(name string) bool {
	for _, h := range b.headers {
		if strings.EqualFold(h[0], name) {
			return true
		}
	}
	return false
}
