// Package msgtest builds Outlook .msg fixtures in memory on top of cfbtest.
package msgtest

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/wesm/msgextract/internal/testutil/cfbtest"
)

// Message describes the properties to write. Zero-valued fields are
// omitted. Strings are written as PT_UNICODE unless listed in Raw8.
type Message struct {
	Class            string
	Subject          string
	SenderName       string
	SenderEmail      string
	DisplayTo        string
	DisplayCC        string
	MessageID        string
	TransportHeaders string
	Body             string
	HTML             string
	HTMLBinary       []byte
	RTFCompressed    []byte
	Codepage         int
	InternetCPID     int
	SubmitTime       uint64

	// Raw8 holds PT_STRING8 properties by id, written byte-for-byte.
	Raw8 map[uint16][]byte

	Recipients  []Recipient
	Attachments []Attachment
}

// Recipient is one recipient row.
type Recipient struct {
	Name  string
	Email string
	Type  int
}

// Attachment is one attachment storage. Embedded takes precedence over Data.
type Attachment struct {
	LongName    string
	ShortName   string
	DisplayName string
	MimeTag     string
	Method      int
	Data        []byte
	Embedded    *Message
}

// Build returns a version 3 compound file holding m.
func Build(m *Message) []byte {
	return cfbtest.Build(3, nodes(m, 32)...)
}

// BuildV4 returns a version 4 compound file holding m.
func BuildV4(m *Message) []byte {
	return cfbtest.Build(4, nodes(m, 32)...)
}

// Unicode encodes s as UTF-16LE.
func Unicode(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

func substg(id, typ uint16) string {
	return fmt.Sprintf("__substg1.0_%04X%04X", id, typ)
}

type fixed struct {
	id    uint16
	typ   uint16
	value uint64
}

func propertyStream(headerSize int, props []fixed) *cfbtest.Node {
	b := make([]byte, headerSize, headerSize+16*len(props))
	for _, p := range props {
		e := make([]byte, 16)
		binary.LittleEndian.PutUint16(e[0:], p.typ)
		binary.LittleEndian.PutUint16(e[2:], p.id)
		binary.LittleEndian.PutUint32(e[4:], 0x6)
		binary.LittleEndian.PutUint64(e[8:], p.value)
		b = append(b, e...)
	}
	return cfbtest.Stream("__properties_version1.0", b)
}

func unicodeProp(out []*cfbtest.Node, id uint16, s string) []*cfbtest.Node {
	if s == "" {
		return out
	}
	return append(out, cfbtest.Stream(substg(id, 0x001F), Unicode(s)))
}

func nodes(m *Message, headerSize int) []*cfbtest.Node {
	var out []*cfbtest.Node
	var props []fixed
	if m.Codepage != 0 {
		props = append(props, fixed{0x3FFD, 0x0003, uint64(m.Codepage)})
	}
	if m.InternetCPID != 0 {
		props = append(props, fixed{0x3FDE, 0x0003, uint64(m.InternetCPID)})
	}
	if m.SubmitTime != 0 {
		props = append(props, fixed{0x0039, 0x0040, m.SubmitTime})
	}
	out = append(out, propertyStream(headerSize, props))

	out = unicodeProp(out, 0x001A, m.Class)
	out = unicodeProp(out, 0x0037, m.Subject)
	out = unicodeProp(out, 0x0C1A, m.SenderName)
	out = unicodeProp(out, 0x5D01, m.SenderEmail)
	out = unicodeProp(out, 0x0E04, m.DisplayTo)
	out = unicodeProp(out, 0x0E03, m.DisplayCC)
	out = unicodeProp(out, 0x1035, m.MessageID)
	out = unicodeProp(out, 0x007D, m.TransportHeaders)
	out = unicodeProp(out, 0x1000, m.Body)
	out = unicodeProp(out, 0x1013, m.HTML)
	if m.HTMLBinary != nil {
		out = append(out, cfbtest.Stream(substg(0x1013, 0x0102), m.HTMLBinary))
	}
	if m.RTFCompressed != nil {
		out = append(out, cfbtest.Stream(substg(0x1009, 0x0102), m.RTFCompressed))
	}
	for id, raw := range m.Raw8 {
		out = append(out, cfbtest.Stream(substg(id, 0x001E), raw))
	}

	for i, r := range m.Recipients {
		var children []*cfbtest.Node
		children = append(children, propertyStream(8, []fixed{{0x0C15, 0x0003, uint64(r.Type)}}))
		children = unicodeProp(children, 0x3001, r.Name)
		children = unicodeProp(children, 0x39FE, r.Email)
		out = append(out, cfbtest.Storage(fmt.Sprintf("__recip_version1.0_#%08X", i), children...))
	}

	for i, a := range m.Attachments {
		method := a.Method
		if method == 0 {
			method = 1
			if a.Embedded != nil {
				method = 5
			}
		}
		var children []*cfbtest.Node
		children = append(children, propertyStream(8, []fixed{{0x3705, 0x0003, uint64(method)}}))
		children = unicodeProp(children, 0x3707, a.LongName)
		children = unicodeProp(children, 0x3704, a.ShortName)
		children = unicodeProp(children, 0x3001, a.DisplayName)
		children = unicodeProp(children, 0x370E, a.MimeTag)
		if a.Embedded != nil {
			children = append(children, cfbtest.Storage(substg(0x3701, 0x000D), nodes(a.Embedded, 24)...))
		} else if a.Data != nil {
			children = append(children, cfbtest.Stream(substg(0x3701, 0x0102), a.Data))
		}
		out = append(out, cfbtest.Storage(fmt.Sprintf("__attach_version1.0_#%08X", i), children...))
	}
	return out
}
