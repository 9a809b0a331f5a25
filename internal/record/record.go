// Package record defines the per-message output shape shared by the .eml
// and .msg readers and the error taxonomy surfaced to callers.
package record

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime"

	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/header"
	"github.com/wesm/msgextract/internal/mime"
)

// Attachment is a non-message attachment with its decoded content.
type Attachment struct {
	Name     string `json:"Name"`
	MimeType string `json:"MimeType,omitempty"`
	Data     []byte `json:"Data"`
}

// Message is one parsed message or embedded message. It is not modified
// after Assemble returns.
type Message struct {
	FileName   string      `json:"FileName,omitempty"`
	HeadersMap *header.Map `json:"HeadersMap"`
	RawHeaders string      `json:"RawHeaders"`
	From       string      `json:"From"`
	To         string      `json:"To"`
	CC         string      `json:"CC"`
	BCC        string      `json:"BCC"`
	Subject    string      `json:"Subject"`
	MessageID  string      `json:"MessageID,omitempty"`
	// Date is the sent time in UTC, nil when the message carries none.
	Date       *time.Time  `json:"Date,omitempty"`
	Text       *string     `json:"Text"`
	HTML       *string     `json:"HTML"`
	Format     string      `json:"Format"`

	// AttachmentNames lists every attachment, nested messages included, in
	// declaration order. AttachmentData holds only the non-message ones. An
	// embedded Outlook message that is not expanded (depth limit) is listed
	// in AttachmentData with nil Data: it is a storage inside the compound
	// file, not a byte stream.
	AttachmentNames []string     `json:"AttachmentNames"`
	AttachmentData  []Attachment `json:"AttachmentsData"`
	Depth           int          `json:"Depth"`
}

// BodyText returns the plain text body, or the HTML body stripped of
// markup when the plain text is missing or blank.
func (m *Message) BodyText() string {
	if nonBlank(m.Text) {
		return *m.Text
	}
	if m.HTML != nil {
		return mime.StripHTML(*m.HTML)
	}
	return ""
}

// HasContent reports whether the message has a non-blank body or any
// attachment.
func (m *Message) HasContent() bool {
	return nonBlank(m.Text) || nonBlank(m.HTML) || len(m.AttachmentNames) > 0
}

func nonBlank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// InputAttachment is one attachment as seen by the reader. Nested marks an
// attachment that was expanded into its own record.
type InputAttachment struct {
	Name     string
	MimeType string
	Data     []byte
	Nested   bool
}

// Input is what a reader hands to Assemble.
type Input struct {
	FileName   string
	RawHeaders string
	// Headers holds undecoded values; Assemble decodes them.
	Headers *header.Map
	// Subject overrides the Subject header when set (MSG property).
	Subject string
	// Date is the sent time; zero means unknown.
	Date        time.Time
	Text        *string
	HTML        *string
	Format      string
	Attachments []InputAttachment
	Depth       int
}

// Assemble builds the final record from reader output.
func Assemble(in Input) (Message, []codec.Notice) {
	raw := in.Headers
	if raw == nil {
		raw = header.NewMap()
	}
	decoded, notices := raw.Decoded()

	m := Message{
		FileName:   in.FileName,
		HeadersMap: decoded,
		RawHeaders: in.RawHeaders,
		From:       firstAddress(raw.Get("From"), decoded.Get("From")),
		To:         addressList(raw.Get("To"), decoded.Get("To")),
		CC:         addressList(raw.Get("CC"), decoded.Get("CC")),
		BCC:        addressList(raw.Get("BCC"), decoded.Get("BCC")),
		Subject:    decoded.Get("Subject"),
		MessageID:  strings.TrimSpace(decoded.Get("Message-ID")),
		Text:       in.Text,
		HTML:       in.HTML,
		Format:     in.Format,
		Depth:      in.Depth,
	}
	if in.Subject != "" {
		m.Subject = in.Subject
	}
	if !in.Date.IsZero() {
		d := in.Date.UTC()
		m.Date = &d
	}
	for _, a := range in.Attachments {
		m.AttachmentNames = append(m.AttachmentNames, a.Name)
		if !a.Nested {
			m.AttachmentData = append(m.AttachmentData, Attachment{Name: a.Name, MimeType: a.MimeType, Data: a.Data})
		}
	}
	return m, notices
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-'!#$&*/=?^{|}~]+@[A-Za-z0-9.\-]+[A-Za-z0-9]`)

// parseAddresses returns the bare addresses in a header value. enmime's
// tolerant parser goes first, then go-message's, and when both reject the
// list the decoded value is scanned for anything shaped like an address.
func parseAddresses(raw, decoded string) []string {
	raw = strings.TrimSpace(header.Unfold(raw))
	if raw == "" {
		return nil
	}
	var list []*mail.Address
	if l, err := enmime.ParseAddressList(raw); err == nil {
		list = l
	} else if l, err := gomail.ParseAddressList(raw); err == nil {
		for _, a := range l {
			list = append(list, (*mail.Address)(a))
		}
	}
	var out []string
	for _, a := range list {
		if a != nil && a.Address != "" {
			out = append(out, a.Address)
		}
	}
	if len(out) > 0 {
		return out
	}
	return emailRe.FindAllString(header.Unfold(decoded), -1)
}

func addressList(raw, decoded string) string {
	return strings.Join(parseAddresses(raw, decoded), ", ")
}

func firstAddress(raw, decoded string) string {
	if addrs := parseAddresses(raw, decoded); len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}
