// Package msg reads Outlook .msg files: a compound file whose storages hold
// MAPI properties for the message, its recipients and its attachments.
// Attachments that are themselves messages are resolved lazily through
// Attachment.Embedded so the caller controls recursion.
package msg

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	htmlcharset "golang.org/x/net/html/charset"

	"github.com/wesm/msgextract/internal/cfb"
	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/header"
	"github.com/wesm/msgextract/internal/rtf"
	"github.com/wesm/msgextract/internal/textutil"
)

// ErrNotMessage is returned for a compound file that carries no message
// properties (a Word document, for instance).
var ErrNotMessage = errors.New("compound file is not an Outlook message")

// RecipientType is PR_RECIPIENT_TYPE.
type RecipientType int

const (
	RecipientTo  RecipientType = 1
	RecipientCC  RecipientType = 2
	RecipientBCC RecipientType = 3
)

// Recipient is one entry of the recipient table.
type Recipient struct {
	Name  string
	Email string
	Type  RecipientType
}

// Message is the decoded content of one message storage.
type Message struct {
	Class       string
	Subject     string
	SenderName  string
	SenderEmail string
	DisplayTo   string
	DisplayCC   string
	DisplayBCC  string
	MessageID   string
	Date        time.Time

	// TransportHeaders is PR_TRANSPORT_MESSAGE_HEADERS, the original RFC 822
	// header block, when the message arrived over SMTP.
	TransportHeaders string

	Body *string
	HTML *string
	RTF  []byte

	Recipients  []Recipient
	Attachments []*Attachment
	Codepage    int
	Notices     []codec.Notice
}

// Parse opens data as a compound file and reads the top-level message.
func Parse(data []byte) (*Message, error) {
	f, err := cfb.Open(data)
	if err != nil {
		return nil, err
	}
	return FromStorage(f, f.Root(), headerTopLevel, 0)
}

// FromStorage reads the message held in storage e. headerSize is the size
// of the property table header: 32 for the top-level message, 24 for an
// embedded one. inheritedCP is used when the storage declares no codepage.
func FromStorage(f *cfb.File, e *cfb.Entry, headerSize, inheritedCP int) (*Message, error) {
	ps, err := loadProperties(f, e, headerSize)
	if err != nil {
		return nil, err
	}
	if ps.Len() == 0 {
		return nil, ErrNotMessage
	}
	ps.codepage = inheritedCP
	if cp, ok := ps.Int(propMessageCodepage); ok && cp > 0 {
		ps.codepage = cp
	} else if cp, ok := ps.Int(propInternetCPID); ok && cp > 0 {
		ps.codepage = cp
	}

	m := &Message{Codepage: ps.codepage}
	str := func(id uint16) (string, bool, error) {
		s, ok, notices, err := ps.String(id)
		m.Notices = append(m.Notices, notices...)
		return s, ok, err
	}

	fields := []struct {
		id  uint16
		dst *string
	}{
		{propMessageClass, &m.Class},
		{propSubject, &m.Subject},
		{propSenderName, &m.SenderName},
		{propDisplayTo, &m.DisplayTo},
		{propDisplayCC, &m.DisplayCC},
		{propDisplayBCC, &m.DisplayBCC},
		{propInternetMsgID, &m.MessageID},
		{propTransportHeaders, &m.TransportHeaders},
	}
	for _, fd := range fields {
		if *fd.dst, _, err = str(fd.id); err != nil {
			return nil, err
		}
	}
	for _, id := range []uint16{propSenderSMTP, propSenderEmail} {
		s, ok, err := str(id)
		if err != nil {
			return nil, err
		}
		if ok && strings.Contains(s, "@") {
			m.SenderEmail = s
			break
		}
	}
	if t, ok := ps.Time(propSubmitTime); ok {
		m.Date = t
	} else if t, ok := ps.Time(propDeliveryTime); ok {
		m.Date = t
	}

	if err := m.readBodies(ps); err != nil {
		return nil, err
	}
	if err := m.readChildren(f, e); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) readBodies(ps *propertySet) error {
	if s, ok, notices, err := ps.String(propBody); err != nil {
		return err
	} else if ok {
		m.Notices = append(m.Notices, notices...)
		m.Body = &s
	}

	p, err := ps.Get(propHTML)
	if err != nil {
		return err
	}
	if p != nil {
		var s string
		switch p.Kind {
		case KindString:
			var notices []codec.Notice
			s, notices = DecodeString(p.Raw, p.Type, ps.codepage)
			m.Notices = append(m.Notices, notices...)
		case KindBinary:
			s = m.decodeHTML(p.Raw, ps)
		}
		if p.Kind == KindString || p.Kind == KindBinary {
			m.HTML = &s
		}
	}

	compressed, ok, err := ps.Binary(propRTFCompressed)
	if err != nil || !ok {
		return err
	}
	raw, err := rtf.Decompress(compressed)
	if err != nil {
		m.Notices = append(m.Notices, codec.Notice{Message: "compressed RTF body could not be read", Detail: err.Error()})
		return nil
	}
	m.RTF = raw
	if m.HTML == nil {
		if h, ok := rtf.ExtractHTML(raw); ok {
			m.HTML = &h
		}
	}
	if m.Body == nil && m.HTML == nil {
		t := rtf.ExtractText(raw)
		m.Body = &t
	}
	return nil
}

// decodeHTML decodes a binary PR_HTML body with the internet codepage, or
// by sniffing the markup when none is declared.
func (m *Message) decodeHTML(raw []byte, ps *propertySet) string {
	if cp, ok := ps.Int(propInternetCPID); ok {
		if cs := textutil.CodepageCharset(cp); cs != "" {
			s, notices := codec.DecodeBytes(raw, cs)
			m.Notices = append(m.Notices, notices...)
			return s
		}
	}
	enc, _, _ := htmlcharset.DetermineEncoding(raw, "text/html")
	if out, err := enc.NewDecoder().Bytes(raw); err == nil {
		return textutil.SanitizeUTF8(string(out))
	}
	return textutil.SanitizeUTF8(string(raw))
}

// readChildren loads the recipient and attachment storages in index order.
func (m *Message) readChildren(f *cfb.File, e *cfb.Entry) error {
	var recips, attachs []*cfb.Entry
	for _, c := range e.Children() {
		if !c.IsStorage() {
			continue
		}
		switch {
		case strings.HasPrefix(c.Name, recipPrefix):
			recips = append(recips, c)
		case strings.HasPrefix(c.Name, attachPrefix):
			attachs = append(attachs, c)
		}
	}
	byName := func(s []*cfb.Entry) {
		sort.SliceStable(s, func(i, j int) bool { return strings.ToUpper(s[i].Name) < strings.ToUpper(s[j].Name) })
	}
	byName(recips)
	byName(attachs)

	for _, r := range recips {
		ps, err := loadProperties(f, r, headerChild)
		if err != nil {
			return fmt.Errorf("recipient %s: %w", r.Name, err)
		}
		ps.codepage = m.Codepage
		var rc Recipient
		var notices []codec.Notice
		rc.Name, _, notices, err = ps.String(propDisplayName)
		if err != nil {
			return fmt.Errorf("recipient %s: %w", r.Name, err)
		}
		m.Notices = append(m.Notices, notices...)
		for _, id := range []uint16{propSMTPAddress, propEmailAddress} {
			s, ok, notices, err := ps.String(id)
			if err != nil {
				return fmt.Errorf("recipient %s: %w", r.Name, err)
			}
			m.Notices = append(m.Notices, notices...)
			if ok && strings.Contains(s, "@") {
				rc.Email = s
				break
			}
		}
		rc.Type = RecipientTo
		if t, ok := ps.Int(propRecipientType); ok {
			rc.Type = RecipientType(t & 0x0F)
		}
		m.Recipients = append(m.Recipients, rc)
	}

	for _, a := range attachs {
		att, err := readAttachment(f, a, m.Codepage)
		if err != nil {
			return fmt.Errorf("attachment %s: %w", a.Name, err)
		}
		m.Notices = append(m.Notices, att.notices...)
		m.Attachments = append(m.Attachments, att)
	}
	return nil
}

// IsSMIME reports whether the message is an S/MIME wrapper whose content is
// carried by a single MIME attachment.
func (m *Message) IsSMIME() bool {
	return strings.HasPrefix(strings.ToUpper(m.Class), "IPM.NOTE.SMIME")
}

// Headers returns the raw header block and its parsed map. The transport
// headers are used when present; otherwise a block is synthesized from the
// message properties so both sources have the same shape.
func (m *Message) Headers() (string, *header.Map) {
	if strings.TrimSpace(m.TransportHeaders) != "" {
		block := m.TransportHeaders
		if b, _ := header.Split([]byte(block)); len(b) > 0 {
			block = string(b)
		}
		return block, header.Parse(block)
	}

	var b strings.Builder
	add := func(name, value string) {
		if value != "" {
			b.WriteString(name + ": " + value + "\r\n")
		}
	}
	if m.SenderEmail != "" || m.SenderName != "" {
		add("From", formatAddress(m.SenderName, m.SenderEmail))
	}
	add("To", m.recipientList(RecipientTo, m.DisplayTo))
	add("CC", m.recipientList(RecipientCC, m.DisplayCC))
	if !m.Date.IsZero() {
		add("Date", m.Date.Format(time.RFC1123Z))
	}
	add("Subject", m.Subject)
	add("Message-ID", m.MessageID)
	if ct := m.Format(); ct != "" {
		add("Content-Type", ct)
	}
	block := b.String()
	return block, header.Parse(block)
}

func (m *Message) recipientList(t RecipientType, display string) string {
	var parts []string
	for _, r := range m.Recipients {
		if r.Type == t {
			parts = append(parts, formatAddress(r.Name, r.Email))
		}
	}
	if len(parts) == 0 {
		return display
	}
	return strings.Join(parts, ", ")
}

func formatAddress(name, email string) string {
	switch {
	case email == "":
		return name
	case name == "" || name == email:
		return email
	}
	return (&mail.Address{Name: name, Address: email}).String()
}

// Format returns the primary content type: the Content-Type of the
// transport headers when present, else derived from which bodies exist.
func (m *Message) Format() string {
	if m.TransportHeaders != "" {
		block, _ := header.Split([]byte(m.TransportHeaders))
		if ct := header.Parse(string(block)).Get("Content-Type"); ct != "" {
			if i := strings.IndexByte(ct, ';'); i >= 0 {
				ct = ct[:i]
			}
			if ct = strings.ToLower(strings.TrimSpace(ct)); ct != "" {
				return ct
			}
		}
	}
	switch {
	case m.Body != nil:
		return "text/plain"
	case m.HTML != nil:
		return "text/html"
	}
	return ""
}
