package codec

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/wesm/msgextract/internal/textutil"
)

// encodedWordRe matches one RFC 2047 encoded-word. The charset may carry an
// RFC 2231 language suffix ("utf-8*en").
var encodedWordRe = regexp.MustCompile(`=\?([^?\s]+)\?([bBqQ])\?([^?\s]*)\?=`)

// maxDecodePasses bounds repeated decoding of encoded-words that were
// themselves encoded a second time.
const maxDecodePasses = 3

// ConvertToUnicode decodes every encoded-word in s. Text outside
// encoded-words is left untouched (invalid UTF-8 there is repaired).
// Whitespace between two adjacent encoded-words is dropped, and adjacent
// words in the same charset are joined at the byte level before decoding so
// multi-byte sequences split across words survive.
func ConvertToUnicode(s string) (string, []Notice) {
	var notices []Notice
	out := s
	for pass := 0; pass < maxDecodePasses; pass++ {
		if !strings.Contains(out, "=?") {
			break
		}
		next, n := decodeWords(out)
		notices = append(notices, n...)
		if next == out {
			break
		}
		out = next
	}
	if !utf8.ValidString(out) {
		out = textutil.EnsureUTF8(out)
	}
	return out, notices
}

type wordRun struct {
	charset string
	raw     []byte
}

func decodeWords(s string) (string, []Notice) {
	matches := encodedWordRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var (
		b       strings.Builder
		notices []Notice
		run     *wordRun
		last    int
	)
	flush := func() {
		if run == nil {
			return
		}
		text, n := DecodeBytes(run.raw, run.charset)
		notices = append(notices, n...)
		b.WriteString(text)
		run = nil
	}

	for _, m := range matches {
		between := s[last:m[0]]
		if run != nil && strings.TrimSpace(between) != "" {
			flush()
		}
		if run == nil {
			b.WriteString(between)
		}

		charset := s[m[2]:m[3]]
		if i := strings.IndexByte(charset, '*'); i >= 0 {
			charset = charset[:i]
		}
		payload := decodeWordPayload(s[m[4]:m[5]], s[m[6]:m[7]])

		if run != nil && !strings.EqualFold(run.charset, charset) {
			flush()
		}
		if run == nil {
			run = &wordRun{charset: charset}
		}
		run.raw = append(run.raw, payload...)
		last = m[1]
	}
	flush()
	b.WriteString(s[last:])
	return b.String(), notices
}

func decodeWordPayload(enc, text string) []byte {
	if enc == "B" || enc == "b" {
		return DecodeBase64Lenient([]byte(text))
	}
	return decodeQ(text)
}

// decodeQ decodes the RFC 2047 "Q" encoding: '_' is a space and =XX is a
// hex escape. Malformed escapes stay literal.
func decodeQ(text string) []byte {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '_':
			out = append(out, ' ')
		case c == '=' && i+2 < len(text):
			hi, ok1 := unhex(text[i+1])
			lo, ok2 := unhex(text[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}
