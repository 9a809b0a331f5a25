// Package extract turns an .eml, .emlx or .msg container into a flat, pre-order
// list of message records, expanding attachments that are themselves
// messages down to a configurable depth.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/emlx"
	"github.com/wesm/msgextract/internal/mime"
	"github.com/wesm/msgextract/internal/msg"
	"github.com/wesm/msgextract/internal/record"
)

// Selection chooses which records Extract returns. It never changes the
// traversal itself.
type Selection string

const (
	SelectAll   Selection = "all"
	SelectOuter Selection = "outer"
	SelectInner Selection = "inner"
)

// ParseSelection reads a selection name. "outer-only" and "inner-only" are
// accepted as aliases; an empty string means all.
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return SelectAll, nil
	case "outer", "outer-only":
		return SelectOuter, nil
	case "inner", "inner-only":
		return SelectInner, nil
	}
	return "", fmt.Errorf("invalid nesting selection %q (want all, outer or inner)", s)
}

// Options configures Extract.
type Options struct {
	// FileName names the input in records and errors.
	FileName string
	// TypeHint is an optional description of the input type, used only when
	// the bytes are inconclusive.
	TypeHint string
	// MaxDepth bounds expansion: a nested message at depth d is parsed only
	// when d < *MaxDepth. Nil means unbounded.
	MaxDepth *int
	// Selection picks the returned records (default all).
	Selection Selection
	// Logger receives notices at debug level. Nil discards them.
	Logger *slog.Logger
}

// Result is the outcome of a successful Extract.
type Result struct {
	Records []record.Message
	Notices []codec.Notice
}

// source is a parsed message waiting to become a record.
type source struct {
	eml *mime.Message
	msg *msg.Message
}

// item is one pending entry of the worklist.
type item struct {
	src    source
	name   string
	depth  int
	parent int
}

type extractor struct {
	opts    Options
	log     *slog.Logger
	notices []codec.Notice
}

// Extract parses data and every nested message within reach of MaxDepth.
// Records are in pre-order: a parent precedes its descendants and siblings
// follow attachment order. A nested payload that cannot be read stays an
// ordinary attachment; only a failure of the top-level container is fatal.
func Extract(data []byte, opts Options) (*Result, error) {
	if opts.Selection == "" {
		opts.Selection = SelectAll
	}
	x := &extractor{opts: opts, log: opts.Logger}
	if x.log == nil {
		x.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	format, err := DetectFormat(data, opts.FileName, opts.TypeHint)
	if err != nil {
		return nil, err
	}
	x.log.Debug("detected format", "file", opts.FileName, "format", format)

	root, err := x.parseRoot(data, format)
	if err != nil {
		return nil, err
	}

	var records []record.Message
	stack := []item{{src: root, name: opts.FileName, parent: -1}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rec, children := x.expand(it)
		index := len(records)
		records = append(records, rec)
		for i := len(children) - 1; i >= 0; i-- {
			children[i].parent = index
			stack = append(stack, children[i])
		}
	}

	if !records[0].HasContent() {
		return nil, &record.NoExtractableContentError{Name: opts.FileName}
	}

	switch opts.Selection {
	case SelectOuter:
		records = records[:1]
	case SelectInner:
		records = records[len(records)-1:]
	}
	return &Result{Records: records, Notices: x.notices}, nil
}

func (x *extractor) parseRoot(data []byte, format Format) (source, error) {
	if format == FormatEMLX {
		data = x.unwrapEMLX(data, x.opts.FileName)
	}
	switch format {
	case FormatMSG:
		m, err := msg.Parse(data)
		switch {
		case errors.Is(err, msg.ErrNotMessage):
			return source{}, &record.UnsupportedFormatError{Name: x.opts.FileName}
		case err != nil:
			return source{}, &record.CorruptContainerError{Name: x.opts.FileName, Err: err}
		}
		return source{msg: m}, nil
	default:
		m, err := mime.Parse(data)
		if err != nil {
			return source{}, &record.CorruptContainerError{Name: x.opts.FileName, Err: err}
		}
		return source{eml: m}, nil
	}
}

func (x *extractor) notice(n ...codec.Notice) {
	for _, v := range n {
		x.log.Debug(v.Message, "detail", v.Detail, "file", x.opts.FileName)
	}
	x.notices = append(x.notices, n...)
}

// allowed reports whether a nested message at depth d may be parsed.
func (x *extractor) allowed(d int) bool {
	return x.opts.MaxDepth == nil || d < *x.opts.MaxDepth
}

// expand builds the record for it and parses the nested messages among its
// attachments, returning them as child items in declaration order.
func (x *extractor) expand(it item) (record.Message, []item) {
	var (
		in       record.Input
		children []item
	)
	switch {
	case it.src.msg != nil:
		in, children = x.fromMSG(it.src.msg, it.depth)
	default:
		in, children = x.fromEML(it.src.eml, it.depth)
	}
	in.FileName = it.name
	in.Depth = it.depth

	rec, notices := record.Assemble(in)
	x.notice(notices...)
	x.log.Debug("assembled record", "file", x.opts.FileName, "name", it.name,
		"depth", it.depth, "parent", it.parent, "attachments", len(in.Attachments), "nested", len(children))
	return rec, children
}

func (x *extractor) fromEML(m *mime.Message, depth int) (record.Input, []item) {
	x.notice(m.Notices...)
	in := record.Input{
		RawHeaders: m.RawHeaders,
		Headers:    m.Headers,
		Date:       m.Date,
		Text:       m.Text,
		HTML:       m.HTML,
		Format:     m.Format,
	}
	var children []item
	for _, p := range m.Parts {
		att := record.InputAttachment{Name: p.Name, MimeType: p.ContentType, Data: p.Data}
		if child, ok := x.nested(att, p.Kind == mime.NestedMessagePart, depth+1); ok {
			att.Nested = true
			children = append(children, child)
		}
		in.Attachments = append(in.Attachments, att)
	}
	return in, children
}

func (x *extractor) fromMSG(m *msg.Message, depth int) (record.Input, []item) {
	x.notice(m.Notices...)
	raw, headers := m.Headers()
	in := record.Input{
		RawHeaders: raw,
		Headers:    headers,
		Subject:    m.Subject,
		Date:       m.Date,
		Text:       m.Body,
		HTML:       m.HTML,
		Format:     m.Format(),
	}

	attachments := m.Attachments
	var children []item
	placeholders := 0
	if m.IsSMIME() {
		var carried *mime.Message
		carried, attachments = x.unwrapSMIME(m)
		if carried != nil {
			// The carried MIME content is the message proper: its parts come
			// first and the remaining MSG attachments continue its
			// placeholder series.
			if in.Text == nil {
				in.Text = carried.Text
			}
			if in.HTML == nil {
				in.HTML = carried.HTML
			}
			if in.Format == "" {
				in.Format = carried.Format
			}
			cin, cchildren := x.fromEML(carried, depth)
			in.Attachments = append(in.Attachments, cin.Attachments...)
			children = append(children, cchildren...)
			placeholders = carried.Placeholders
		}
	}

	for _, a := range attachments {
		name := a.Filename()
		if name == "" {
			name = fmt.Sprintf("unknown_file_name%d", placeholders)
			placeholders++
		}
		att := record.InputAttachment{Name: name, MimeType: a.MimeTag, Data: a.Data}
		if a.IsMessage() {
			if child, ok := x.embedded(a, name, depth+1); ok {
				att.Nested = true
				children = append(children, child)
			}
		} else if child, ok := x.nested(att, false, depth+1); ok {
			att.Nested = true
			children = append(children, child)
		}
		in.Attachments = append(in.Attachments, att)
	}
	return in, children
}

// embedded resolves an attachment that holds a message storage.
func (x *extractor) embedded(a *msg.Attachment, name string, depth int) (item, bool) {
	if !x.allowed(depth) {
		x.log.Debug("depth limit reached", "name", name, "depth", depth)
		return item{}, false
	}
	m, err := a.Embedded()
	if err != nil {
		x.notice(codec.Notice{Message: "embedded message could not be read, keeping it as an attachment", Detail: name + ": " + err.Error()})
		return item{}, false
	}
	return item{src: source{msg: m}, name: name, depth: depth}, true
}

// nested decides whether att is a message and parses it when it is. A
// payload is a candidate when its type or name says so (declared). An
// undeclared payload is only sniffed when its type is missing or generic and
// its name is not an ordinary document's; base64 text that decodes to a
// message is then unwrapped.
func (x *extractor) nested(att record.InputAttachment, declared bool, depth int) (item, bool) {
	declared = declared || messageType(att.MimeType) || nestedExt(att.Name) != FormatUnknown
	if !declared && !sniffable(att.MimeType, att.Name) {
		return item{}, false
	}
	data := att.Data
	format := sniff(data)
	if format == FormatUnknown {
		if decoded := unwrapBase64(data); decoded != nil {
			data, format = decoded, sniff(decoded)
		}
	}
	if format == FormatUnknown {
		if !declared {
			return item{}, false
		}
		format = nestedExt(att.Name)
		if format != FormatMSG {
			format = FormatEML
		}
		if format == FormatEML && !plausibleText(data) {
			x.notice(codec.Notice{Message: "attachment is labelled as a message but is not one, keeping it as an attachment", Detail: att.Name})
			return item{}, false
		}
	}
	if !x.allowed(depth) {
		x.log.Debug("depth limit reached", "name", att.Name, "depth", depth)
		return item{}, false
	}

	switch format {
	case FormatMSG:
		m, err := msg.Parse(data)
		if errors.Is(err, msg.ErrNotMessage) {
			return item{}, false
		}
		if err != nil {
			x.notice(codec.Notice{Message: "nested message could not be read, keeping it as an attachment", Detail: att.Name + ": " + err.Error()})
			return item{}, false
		}
		return item{src: source{msg: m}, name: att.Name, depth: depth}, true
	case FormatEMLX:
		data = x.unwrapEMLX(data, att.Name)
		fallthrough
	default:
		m, err := mime.Parse(data)
		if err != nil {
			x.notice(codec.Notice{Message: "nested message could not be read, keeping it as an attachment", Detail: att.Name + ": " + err.Error()})
			return item{}, false
		}
		return item{src: source{eml: m}, name: att.Name, depth: depth}, true
	}
}

// unwrapEMLX strips the Apple Mail byte count and plist from data. The
// metadata is only logged; records carry what the message headers say.
func (x *extractor) unwrapEMLX(data []byte, name string) []byte {
	m, err := emlx.Parse(data)
	if err != nil {
		return data
	}
	x.log.Debug("apple mail metadata", "name", name,
		"date_sent", m.Meta.DateSent, "flags", m.Meta.Flags, "mailbox", m.Meta.Mailbox)
	return m.Raw
}

// unwrapSMIME finds the attachment of an S/MIME message that carries the
// MIME content and parses it. The remaining attachments are returned.
func (x *extractor) unwrapSMIME(m *msg.Message) (*mime.Message, []*msg.Attachment) {
	for i, a := range m.Attachments {
		if a.IsMessage() || !carriesMIME(a) {
			continue
		}
		carried, err := mime.Parse(a.Data)
		if err != nil {
			x.notice(codec.Notice{Message: "S/MIME content could not be read", Detail: err.Error()})
			break
		}
		rest := make([]*msg.Attachment, 0, len(m.Attachments)-1)
		rest = append(rest, m.Attachments[:i]...)
		rest = append(rest, m.Attachments[i+1:]...)
		return carried, rest
	}
	return nil, m.Attachments
}

func carriesMIME(a *msg.Attachment) bool {
	tag := strings.ToLower(a.MimeTag)
	name := strings.ToLower(a.Filename())
	switch {
	case strings.HasPrefix(tag, "multipart/signed"),
		strings.Contains(tag, "pkcs7-mime"),
		strings.HasSuffix(name, ".p7m"):
		return looksLikeMessage(a.Data)
	}
	return false
}

// plausibleText reports whether data could be an RFC 822 message whose
// header block failed to sniff: non-empty and free of NUL bytes near the
// start.
func plausibleText(data []byte) bool {
	head := data[:min(len(data), 512)]
	return len(bytes.TrimSpace(data)) > 0 && bytes.IndexByte(head, 0) < 0
}
