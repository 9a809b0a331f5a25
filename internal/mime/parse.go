// Package mime reads RFC 822 / MIME messages into bodies, attachments and
// nested messages. Parsing is tolerant: malformed structure degrades to
// attachments or plain text rather than failing.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/header"
)

// ErrEmpty is returned for input with no content at all.
var ErrEmpty = errors.New("empty message")

// PartKind classifies a leaf part.
type PartKind int

const (
	TextPart PartKind = iota
	HTMLPart
	AttachmentPart
	NestedMessagePart
)

func (k PartKind) String() string {
	switch k {
	case TextPart:
		return "text"
	case HTMLPart:
		return "html"
	case AttachmentPart:
		return "attachment"
	case NestedMessagePart:
		return "message"
	}
	return fmt.Sprintf("PartKind(%d)", int(k))
}

// Part is a leaf that did not become a body: an attachment or a nested
// message. Data is transfer-decoded.
type Part struct {
	Kind        PartKind
	Name        string
	ContentType string
	ContentID   string
	Inline      bool
	Data        []byte
}

// Message is a parsed RFC 822 message.
type Message struct {
	// RawHeaders is the top-level header block exactly as it appeared.
	RawHeaders string
	// Headers holds the top-level fields unfolded but not decoded.
	Headers *header.Map
	// Date is the Date header in UTC, zero when missing or unreadable.
	Date time.Time
	// Format is the media type of the top-level Content-Type, or "" when
	// the message does not declare one.
	Format string

	Text *string
	HTML *string

	// Parts lists attachments and nested messages in declaration order.
	Parts []Part
	// Placeholders counts the unknown_file_name%d names handed out, so a
	// caller listing more attachments after Parts can continue the series.
	Placeholders int
	Notices      []codec.Notice
}

// Limits on hostile structure. Parts beyond them are skipped with a notice.
const (
	maxParts          = 10000
	maxMultipartDepth = 64
)

// MsgStructureLimit is the notice emitted when parts are skipped because the
// MIME tree is too deep or too large.
const MsgStructureLimit = "MIME structure exceeds nesting limits, remaining parts skipped"

// newParser builds the enmime parser used for every tree. Content is kept
// raw so transfer and charset decoding stay with codec, and media types go
// through the tolerant parser in params.go so a stray separator does not
// lose a boundary.
func newParser() *enmime.Parser {
	return enmime.NewParser(
		enmime.RawContent(true),
		enmime.SkipMalformedParts(true),
		enmime.MultipartWOBoundaryAsSinglePart(true),
		enmime.SetCustomParseMediaType(func(ctype string) (string, map[string]string, []string, error) {
			head, params := parseParams(strings.TrimSpace(ctype))
			return strings.ToLower(head), params, nil, nil
		}),
	)
}

type node struct {
	part        *enmime.Part
	defaultType string
	depth       int
	// fallback is the content used when part has none of its own, such as
	// the body of a multipart root whose delimiters never appear.
	fallback []byte
}

// Parse reads raw as an RFC 822 message and walks its MIME tree in
// pre-order with an explicit stack.
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmpty
	}
	raw = header.Strip(raw)
	block, body := header.Split(raw)
	m := &Message{
		RawHeaders: string(block),
		Headers:    header.Parse(string(block)),
	}
	if d := m.Headers.Get("Date"); d != "" {
		m.Date = parseDate(d)
	}
	if ct := m.Headers.Get("Content-Type"); ct != "" {
		m.Format, _ = parseMediaType(ct, "text/plain")
	}

	w := &walker{msg: m}
	root, err := newParser().ReadParts(bytes.NewReader(raw))
	if err != nil {
		// The tree is unreadable; what follows the header block is the body.
		m.Notices = append(m.Notices, codec.Notice{Message: "unreadable MIME structure, keeping the body as text", Detail: err.Error()})
		text, notices := codec.DecodeBytes(body, "")
		m.Notices = append(m.Notices, notices...)
		m.Text = &text
		return m, nil
	}
	w.walk(node{part: root, defaultType: "text/plain", fallback: body})
	m.Placeholders = w.placeholders
	return m, nil
}

type walker struct {
	msg          *Message
	parts        int
	placeholders int
	limited      bool
}

func (w *walker) walk(start node) {
	stack := []node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children := w.visit(n)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// entity is a part's header with its parsed type information.
type entity struct {
	header     textproto.MIMEHeader
	mediaType  string
	params     map[string]string
	rawType    string
	encoding   string
	disp       string
	dispParams map[string]string
	rawDisp    string
}

func newEntity(h textproto.MIMEHeader, defaultType string) entity {
	e := entity{header: h}
	e.rawType = h.Get("Content-Type")
	e.mediaType, e.params = parseMediaType(e.rawType, defaultType)
	e.encoding = h.Get("Content-Transfer-Encoding")
	e.rawDisp = h.Get("Content-Disposition")
	if e.rawDisp != "" {
		e.disp, e.dispParams = parseDisposition(e.rawDisp)
	}
	return e
}

// visit classifies one part and returns its children, if any.
func (w *walker) visit(n node) []node {
	if w.parts >= maxParts || n.depth > maxMultipartDepth {
		w.limit()
		return nil
	}
	w.parts++
	e := newEntity(n.part.Header, n.defaultType)

	if strings.HasPrefix(e.mediaType, "multipart/") {
		childType := "application/octet-stream"
		if e.mediaType == "multipart/digest" {
			childType = "message/rfc822"
		}
		var children []node
		for c := n.part.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, node{part: c, defaultType: childType, depth: n.depth + 1})
		}
		if len(children) > 0 {
			return children
		}
		if len(n.part.Content) == 0 && len(n.fallback) == 0 {
			return nil
		}
		// A multipart without usable parts is read as text.
		e.mediaType = "text/plain"
	}

	content := n.part.Content
	if len(content) == 0 {
		content = n.fallback
	}
	data := codec.DecodeTransfer(e.encoding, content)

	switch e.mediaType {
	case "message/rfc822", "message/global":
		w.addPart(e, NestedMessagePart, data)
		return nil
	case "application/pkcs7-mime", "application/x-pkcs7-mime":
		if looksLikeEntity(data) {
			if inner, err := newParser().ReadParts(bytes.NewReader(data)); err == nil {
				return []node{{part: inner, defaultType: "text/plain", depth: n.depth + 1}}
			}
		}
	case "text/plain", "text/html":
		if !e.isAttachment() && w.setBody(e, data) {
			return nil
		}
	}
	w.addPart(e, AttachmentPart, data)
	return nil
}

// limit records the structure notice once per message.
func (w *walker) limit() {
	if w.limited {
		return
	}
	w.limited = true
	w.msg.Notices = append(w.msg.Notices, codec.Notice{Message: MsgStructureLimit})
}

// isAttachment reports whether a text part is marked as a file rather than
// body content.
func (e entity) isAttachment() bool {
	if e.disp == "attachment" {
		return true
	}
	return e.dispParams["filename"] != "" || e.params["name"] != "" ||
		hasExtParam(e.rawDisp, "filename") || hasExtParam(e.rawType, "name")
}

// setBody stores the first text/plain and first text/html leaf. It returns
// false when the slot is already taken.
func (w *walker) setBody(e entity, data []byte) bool {
	slot := &w.msg.Text
	if e.mediaType == "text/html" {
		slot = &w.msg.HTML
	}
	if *slot != nil {
		return false
	}
	text, notices := codec.DecodeBytes(data, e.params["charset"])
	w.msg.Notices = append(w.msg.Notices, notices...)
	*slot = &text
	return true
}

func (w *walker) addPart(e entity, kind PartKind, data []byte) {
	name := w.filename(e)
	if name == "" {
		name = fmt.Sprintf("unknown_file_name%d", w.placeholders)
		w.placeholders++
	}
	cid := strings.Trim(e.header.Get("Content-ID"), "<> ")
	w.msg.Parts = append(w.msg.Parts, Part{
		Kind:        kind,
		Name:        name,
		ContentType: e.mediaType,
		ContentID:   cid,
		Inline:      e.disp == "inline",
		Data:        data,
	})
}

// filename resolves the attachment name. RFC 2231 extended values come
// first, disposition filename* then type name*, ahead of the plain
// disposition filename and type name.
func (w *walker) filename(e entity) string {
	for _, ext := range []struct{ value, param string }{
		{e.rawDisp, "filename"},
		{e.rawType, "name"},
	} {
		if v, ok := extParam(ext.value, ext.param); ok {
			s, notices := codec.DecodeBytes(v.value, v.charset)
			w.msg.Notices = append(w.msg.Notices, notices...)
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	for _, c := range []string{e.dispParams["filename"], e.params["name"]} {
		c, notices := codec.ConvertToUnicode(c)
		w.msg.Notices = append(w.msg.Notices, notices...)
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// looksLikeEntity reports whether data starts with a header field, which is
// how a MIME entity wrapped in signed-data looks once decoded.
func looksLikeEntity(data []byte) bool {
	block, _ := header.Split(data)
	if len(block) == 0 {
		return false
	}
	h := header.Parse(string(block))
	return h.Has("Content-Type") || h.Has("MIME-Version")
}
