package msg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/wesm/msgextract/internal/cfb"
	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/textutil"
)

// PropType is a MAPI property type code.
type PropType uint16

const (
	TypeInt32   PropType = 0x0003
	TypeBool    PropType = 0x000B
	TypeObject  PropType = 0x000D
	TypeString8 PropType = 0x001E
	TypeUnicode PropType = 0x001F
	TypeTime    PropType = 0x0040
	TypeBinary  PropType = 0x0102
)

// Property ids read by this package.
const (
	propMessageClass     = 0x001A
	propSubject          = 0x0037
	propSubmitTime       = 0x0039
	propTransportHeaders = 0x007D
	propSenderName       = 0x0C1A
	propSenderEmail      = 0x0C1F
	propRecipientType    = 0x0C15
	propDisplayBCC       = 0x0E02
	propDisplayCC        = 0x0E03
	propDisplayTo        = 0x0E04
	propDeliveryTime     = 0x0E06
	propBody             = 0x1000
	propRTFCompressed    = 0x1009
	propHTML             = 0x1013
	propInternetMsgID    = 0x1035
	propDisplayName      = 0x3001
	propEmailAddress     = 0x3003
	propAttachData       = 0x3701
	propAttachFilename   = 0x3704
	propAttachMethod     = 0x3705
	propAttachLongName   = 0x3707
	propAttachMimeTag    = 0x370E
	propAttachContentID  = 0x3712
	propSMTPAddress      = 0x39FE
	propInternetCPID     = 0x3FDE
	propMessageCodepage  = 0x3FFD
	propSenderSMTP       = 0x5D01
)

const (
	substgPrefix   = "__substg1.0_"
	propertiesName = "__properties_version1.0"
	recipPrefix    = "__recip_version1.0_#"
	attachPrefix   = "__attach_version1.0_#"
)

// Property header sizes in __properties_version1.0.
const (
	headerTopLevel = 32
	headerEmbedded = 24
	headerChild    = 8
	propEntrySize  = 16
)

// Kind is the closed set of property value shapes.
type Kind int

const (
	KindString Kind = iota
	KindBinary
	KindInt
	KindObject
)

// Property is one resolved property value.
type Property struct {
	ID      uint16
	Type    PropType
	Kind    Kind
	Raw     []byte
	Int     uint32
	Storage *cfb.Entry
}

// propertySet indexes the properties of one storage: variable-length
// values live in __substg1.0_ streams (or storages for objects), fixed-width
// values in the __properties_version1.0 table.
type propertySet struct {
	file     *cfb.File
	streams  map[uint16][]*cfb.Entry
	types    map[*cfb.Entry]PropType
	fixed    map[uint16]uint64
	codepage int
}

func loadProperties(f *cfb.File, e *cfb.Entry, headerSize int) (*propertySet, error) {
	ps := &propertySet{
		file:    f,
		streams: make(map[uint16][]*cfb.Entry),
		types:   make(map[*cfb.Entry]PropType),
		fixed:   make(map[uint16]uint64),
	}
	for _, c := range e.Children() {
		name := c.Name
		if !strings.HasPrefix(name, substgPrefix) || len(name) < len(substgPrefix)+8 {
			continue
		}
		tag, err := strconv.ParseUint(name[len(substgPrefix):len(substgPrefix)+8], 16, 32)
		if err != nil {
			continue
		}
		id := uint16(tag >> 16)
		ps.streams[id] = append(ps.streams[id], c)
		ps.types[c] = PropType(tag & 0xFFFF)
	}

	if pe := e.Child(propertiesName); pe != nil && pe.Type == cfb.TypeStream {
		data, err := f.ReadStream(pe)
		if err != nil {
			return nil, fmt.Errorf("read property table: %w", err)
		}
		for off := min(headerSize, len(data)); off+propEntrySize <= len(data); off += propEntrySize {
			typ := PropType(binary.LittleEndian.Uint16(data[off:]))
			id := binary.LittleEndian.Uint16(data[off+2:])
			switch typ {
			case TypeInt32, TypeBool, TypeTime:
				ps.fixed[id] = binary.LittleEndian.Uint64(data[off+8:])
			}
		}
	}
	return ps, nil
}

// Len returns the number of distinct properties present.
func (ps *propertySet) Len() int {
	return len(ps.streams) + len(ps.fixed)
}

// Get resolves id into a Property, preferring a Unicode string over an
// 8-bit one when both are present.
func (ps *propertySet) Get(id uint16) (*Property, error) {
	if v, ok := ps.fixed[id]; ok {
		return &Property{ID: id, Type: TypeInt32, Kind: KindInt, Int: uint32(v)}, nil
	}
	entries := ps.streams[id]
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[0]
	for _, c := range entries {
		if ps.types[c] == TypeUnicode {
			e = c
		}
	}
	p := &Property{ID: id, Type: ps.types[e]}
	switch p.Type {
	case TypeObject:
		p.Kind = KindObject
		p.Storage = e
		return p, nil
	case TypeUnicode, TypeString8:
		p.Kind = KindString
	default:
		p.Kind = KindBinary
	}
	if e.Type != cfb.TypeStream {
		p.Kind = KindObject
		p.Storage = e
		return p, nil
	}
	raw, err := ps.file.ReadStream(e)
	if err != nil {
		return nil, fmt.Errorf("read property %04X%04X: %w", id, uint16(p.Type), err)
	}
	p.Raw = raw
	return p, nil
}

// String returns a string property decoded with the set's codepage.
func (ps *propertySet) String(id uint16) (string, bool, []codec.Notice, error) {
	p, err := ps.Get(id)
	if err != nil || p == nil || p.Kind != KindString {
		return "", false, nil, err
	}
	s, notices := DecodeString(p.Raw, p.Type, ps.codepage)
	return s, true, notices, nil
}

// Binary returns the raw bytes of a binary or string property.
func (ps *propertySet) Binary(id uint16) ([]byte, bool, error) {
	p, err := ps.Get(id)
	if err != nil || p == nil || (p.Kind != KindBinary && p.Kind != KindString) {
		return nil, false, err
	}
	return p.Raw, true, nil
}

// Int returns a 32-bit integer property.
func (ps *propertySet) Int(id uint16) (int, bool) {
	v, ok := ps.fixed[id]
	return int(int32(uint32(v))), ok
}

// Time returns a PT_SYSTIME property.
func (ps *propertySet) Time(id uint16) (time.Time, bool) {
	v, ok := ps.fixed[id]
	if !ok || v == 0 {
		return time.Time{}, false
	}
	return filetime(v), true
}

// filetime converts 100ns intervals since 1601-01-01 UTC.
func filetime(v uint64) time.Time {
	const epochDelta = 116444736000000000
	if v < epochDelta {
		return time.Time{}
	}
	d := v - epochDelta
	return time.Unix(int64(d/10000000), int64(d%10000000)*100).UTC()
}

// DecodeString converts the raw bytes of a string property. Bytes that form
// plausible UTF-16LE (the PT_UNICODE type, or an 8-bit property that is
// evidently UTF-16) decode as UTF-16LE. Everything else decodes in the
// declared codepage, defaulting to UTF-8 with replacement characters.
func DecodeString(raw []byte, typ PropType, codepage int) (string, []codec.Notice) {
	if len(raw)%2 == 0 && (typ == TypeUnicode || looksUTF16LE(raw)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(raw); err == nil {
			return strings.TrimRight(textutil.SanitizeUTF8(string(out)), "\x00"), nil
		}
	}
	raw = bytes.TrimRight(raw, "\x00")
	charset := "utf-8"
	if codepage != 0 {
		charset = textutil.CodepageCharset(codepage)
		if charset == "" {
			charset = "cp" + strconv.Itoa(codepage)
		}
	}
	return codec.DecodeBytes(raw, charset)
}

// looksUTF16LE reports whether raw starts with a UTF-16LE byte-order mark or
// has NUL high bytes in most code units, which is how Latin text looks in
// UTF-16LE and never how it looks in an 8-bit codepage.
func looksUTF16LE(raw []byte) bool {
	if len(raw) < 2 {
		return false
	}
	if raw[0] == 0xFF && raw[1] == 0xFE {
		return true
	}
	zeros := 0
	for i := 1; i < len(raw); i += 2 {
		if raw[i] == 0 {
			zeros++
		}
	}
	return zeros*2 > len(raw)/2
}
