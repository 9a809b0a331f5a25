// Package header splits RFC 822 header blocks into ordered, multi-valued
// maps and handles header folding.
package header

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/wesm/msgextract/internal/codec"
)

// foldRe matches a line break plus the continuation whitespace that
// follows it, along with any trailing whitespace before the break.
var foldRe = regexp.MustCompile(`[ \t]*(?:\r\n|\r|\n)[ \t]+`)

// Unfold joins folded header lines: every line break followed by spaces or
// tabs becomes a single space. A line break with no following whitespace is
// kept as-is.
func Unfold(v string) string {
	return foldRe.ReplaceAllString(v, " ")
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Strip drops a leading byte-order mark and an mbox "From " envelope line.
func Strip(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, bom)
	if bytes.HasPrefix(raw, []byte("From ")) {
		nl := bytes.IndexByte(raw, '\n')
		if nl < 0 {
			return nil
		}
		raw = raw[nl+1:]
	}
	return raw
}

// Split separates a raw message into its header block and body, after
// Strip. The separator is the first empty line; when there is none the
// whole input is treated as headers.
func Split(raw []byte) (block, body []byte) {
	raw = Strip(raw)
	for i := 0; i < len(raw); {
		nl := bytes.IndexByte(raw[i:], '\n')
		if nl < 0 {
			return raw, nil
		}
		line := bytes.TrimSuffix(raw[i:i+nl], []byte("\r"))
		if len(line) == 0 {
			return raw[:i], raw[i+nl+1:]
		}
		i += nl + 1
	}
	return raw, nil
}

// validName reports whether s is a syntactically valid field name:
// printable US-ASCII excluding space and colon.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= ' ' || c > '~' || c == ':' {
			return false
		}
	}
	return true
}

// Map is an ordered, multi-valued header map. Names keep the spelling of
// their first occurrence; lookups are case-insensitive. Values of a
// repeated header keep their original order.
type Map struct {
	names  []string
	values [][]string
	index  map[string]int
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// Add appends a value for name.
func (m *Map) Add(name, value string) {
	key := strings.ToLower(name)
	if i, ok := m.index[key]; ok {
		m.values[i] = append(m.values[i], value)
		return
	}
	m.index[key] = len(m.names)
	m.names = append(m.names, name)
	m.values = append(m.values, []string{value})
}

// Names returns header names in order of first appearance.
func (m *Map) Names() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.names...)
}

// Len returns the number of distinct header names.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Has reports whether name is present.
func (m *Map) Has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[strings.ToLower(name)]
	return ok
}

// Get returns the first value for name, or "".
func (m *Map) Get(name string) string {
	if v := m.Values(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value for name in original order.
func (m *Map) Values(name string) []string {
	if m == nil {
		return nil
	}
	i, ok := m.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return append([]string(nil), m.values[i]...)
}

// Decoded returns a copy of m with every value passed through RFC 2047
// decoding.
func (m *Map) Decoded() (*Map, []codec.Notice) {
	out := NewMap()
	var notices []codec.Notice
	if m == nil {
		return out, nil
	}
	for i, name := range m.names {
		for _, v := range m.values[i] {
			d, n := codec.ConvertToUnicode(v)
			notices = append(notices, n...)
			out.Add(name, d)
		}
	}
	return out, notices
}

// MarshalJSON encodes the map as an object in header order. A header with
// one value is a string; a repeated header is an array.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, name := range m.names {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			var v []byte
			if len(m.values[i]) == 1 {
				v, err = json.Marshal(m.values[i][0])
			} else {
				v, err = json.Marshal(m.values[i])
			}
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse builds a Map from a raw header block. Values are unfolded but not
// decoded. Continuation lines and stray lines that are not a valid
// "name: value" field are joined onto the previous field.
func Parse(block string) *Map {
	m := NewMap()
	var (
		name  string
		value strings.Builder
		open  bool
	)
	emit := func() {
		if open {
			m.Add(name, strings.TrimSpace(Unfold(value.String())))
		}
		open = false
		value.Reset()
	}

	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if open {
				value.WriteString("\n")
				value.WriteString(line)
			}
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon > 0 && validName(strings.TrimRight(line[:colon], " \t")) {
			emit()
			name = strings.TrimRight(line[:colon], " \t")
			value.WriteString(strings.TrimLeft(line[colon+1:], " \t"))
			open = true
			continue
		}
		// A field broken by a raw line break without continuation
		// whitespace still belongs to the previous field.
		if open {
			value.WriteString("\n ")
			value.WriteString(line)
		}
	}
	emit()
	return m
}
