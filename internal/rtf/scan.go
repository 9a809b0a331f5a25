package rtf

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/wesm/msgextract/internal/textutil"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokGroupStart
	tokGroupEnd
	tokWord
	tokSymbol
	tokHex
)

type token struct {
	kind     tokenKind
	b        byte
	word     string
	param    int
	hasParam bool
}

// scanner splits RTF into groups, control words, control symbols, hex
// escapes and literal bytes. Bare line breaks are dropped.
type scanner struct {
	data []byte
	pos  int
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (s *scanner) next() (token, bool) {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '{':
			return token{kind: tokGroupStart}, true
		case '}':
			return token{kind: tokGroupEnd}, true
		case '\r', '\n':
			continue
		case '\\':
			return s.control(), true
		default:
			return token{kind: tokText, b: c}, true
		}
	}
	return token{}, false
}

func (s *scanner) control() token {
	if s.pos >= len(s.data) {
		return token{kind: tokSymbol, b: '\\'}
	}
	c := s.data[s.pos]
	if !isLetter(c) {
		s.pos++
		switch c {
		case '\'':
			if s.pos+1 < len(s.data) {
				hi, ok1 := unhex(s.data[s.pos])
				lo, ok2 := unhex(s.data[s.pos+1])
				if ok1 && ok2 {
					s.pos += 2
					return token{kind: tokHex, b: hi<<4 | lo}
				}
			}
			return token{kind: tokSymbol, b: '\''}
		case '\r', '\n':
			return token{kind: tokWord, word: "par"}
		}
		return token{kind: tokSymbol, b: c}
	}

	start := s.pos
	for s.pos < len(s.data) && isLetter(s.data[s.pos]) && s.pos-start < 32 {
		s.pos++
	}
	t := token{kind: tokWord, word: string(s.data[start:s.pos])}

	pstart := s.pos
	if s.pos < len(s.data) && s.data[s.pos] == '-' {
		s.pos++
	}
	dstart := s.pos
	for s.pos < len(s.data) && isDigit(s.data[s.pos]) && s.pos-dstart < 10 {
		s.pos++
	}
	if s.pos > dstart {
		t.param, _ = strconv.Atoi(string(s.data[pstart:s.pos]))
		t.hasParam = true
	} else {
		s.pos = pstart
	}
	if s.pos < len(s.data) && s.data[s.pos] == ' ' {
		s.pos++
	}
	return t
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// destinations are groups whose content is never visible text.
var destinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "header": true, "footer": true,
	"headerl": true, "headerr": true, "footerl": true, "footerr": true,
	"listtable": true, "listoverridetable": true, "rsidtbl": true,
	"generator": true, "xmlnstbl": true, "themedata": true,
	"colorschememapping": true, "datastore": true, "latentstyles": true,
	"fldinst": true, "filetbl": true, "revtbl": true, "mmathPr": true,
}

// symbols maps control words that stand for a single character.
var symbols = map[string]string{
	"emdash": "—", "endash": "–", "bullet": "•",
	"lquote": "‘", "rquote": "’",
	"ldblquote": "“", "rdblquote": "”",
	"emspace": "\u2003", "enspace": "\u2002", "qmspace": "\u2005",
}

var ansiCodepageRe = regexp.MustCompile(`\\ansicpg(\d+)`)

// documentEncoding returns the encoding named by \ansicpgN, defaulting to
// Windows-1252.
func documentEncoding(data []byte) encoding.Encoding {
	if m := ansiCodepageRe.FindSubmatch(data); m != nil {
		if cp, err := strconv.Atoi(string(m[1])); err == nil {
			if enc := textutil.LookupCharset(textutil.CodepageCharset(cp)); enc != nil {
				return enc
			}
		}
	}
	return textutil.LookupCharset("windows-1252")
}

// output accumulates decoded text. Literal and hex-escaped bytes are in the
// document code page and are buffered until a Unicode run is written.
type output struct {
	b       strings.Builder
	pending []byte
	dec     *encoding.Decoder
}

func newOutput(data []byte) *output {
	o := &output{}
	if enc := documentEncoding(data); enc != nil {
		o.dec = enc.NewDecoder()
	}
	return o
}

func (o *output) raw(c byte) {
	o.pending = append(o.pending, c)
}

func (o *output) str(s string) {
	o.flush()
	o.b.WriteString(s)
}

func (o *output) flush() {
	if len(o.pending) == 0 {
		return
	}
	if o.dec != nil {
		if text, err := o.dec.Bytes(o.pending); err == nil {
			o.b.Write(text)
			o.pending = o.pending[:0]
			return
		}
	}
	o.b.WriteString(textutil.SanitizeUTF8(string(o.pending)))
	o.pending = o.pending[:0]
}

func (o *output) String() string {
	o.flush()
	return o.b.String()
}

// group is the state scoped to one brace level.
type group struct {
	skip    bool
	htmltag bool
	htmlrtf bool
	uc      int
	first   bool
	starred bool
}

// unicodeRune converts a \uN parameter, which is a signed 16-bit value.
func unicodeRune(n int) rune {
	if n < 0 {
		n += 65536
	}
	return rune(n)
}
