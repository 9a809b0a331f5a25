package codec

import (
	"encoding/base64"
	"strings"
)

// DecodeTransfer undoes a Content-Transfer-Encoding. Unknown encodings and
// 7bit/8bit/binary return the body unchanged.
func DecodeTransfer(encoding string, body []byte) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return DecodeBase64Lenient(body)
	case "quoted-printable":
		return DecodeQuotedPrintable(body)
	default:
		return body
	}
}

func isBase64Char(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/'
}

// DecodeBase64Lenient decodes base64 without failing. Characters outside
// the alphabet are skipped, URL-safe characters are accepted, padding may be
// missing or repeated, and a dangling partial quantum is dropped. Padding
// inside the data ends one run and starts the next, which handles
// concatenated base64 blocks.
func DecodeBase64Lenient(src []byte) []byte {
	out := make([]byte, 0, len(src)*3/4)
	run := make([]byte, 0, len(src))

	flush := func() {
		n := len(run)
		if n%4 == 1 {
			n--
		}
		if n > 0 {
			buf := make([]byte, base64.RawStdEncoding.DecodedLen(n))
			m, err := base64.RawStdEncoding.Decode(buf, run[:n])
			if err == nil {
				out = append(out, buf[:m]...)
			} else {
				out = append(out, decodeQuantums(run[:n])...)
			}
		}
		run = run[:0]
	}

	for _, c := range src {
		switch {
		case isBase64Char(c):
			run = append(run, c)
		case c == '-':
			run = append(run, '+')
		case c == '_':
			run = append(run, '/')
		case c == '=':
			flush()
		}
	}
	flush()
	return out
}

// decodeQuantums decodes 4-character groups one at a time, skipping any
// group the standard decoder rejects.
func decodeQuantums(run []byte) []byte {
	var out []byte
	buf := make([]byte, 3)
	for i := 0; i < len(run); i += 4 {
		end := min(i+4, len(run))
		if end-i < 2 {
			break
		}
		if m, err := base64.RawStdEncoding.Decode(buf, run[i:end]); err == nil {
			out = append(out, buf[:m]...)
		}
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// DecodeQuotedPrintable decodes RFC 2045 quoted-printable. A '=' at the end
// of a line is a soft break: it is removed together with the line
// terminator so the two physical lines join with nothing inserted. Trailing
// literal whitespace before a hard break is dropped; malformed escapes are
// kept as literal text.
func DecodeQuotedPrintable(b []byte) []byte {
	out := make([]byte, 0, len(b))
	var pending []byte // literal trailing whitespace, dropped at a hard break
	n := len(b)

	for i := 0; i < n; {
		c := b[i]
		switch {
		case c == '=':
			j := i + 1
			for j < n && (b[j] == ' ' || b[j] == '\t') {
				j++
			}
			if j == n {
				i = n
				continue
			}
			if b[j] == '\r' || b[j] == '\n' {
				i = skipNewline(b, j)
				continue
			}
			if i+2 < n {
				hi, ok1 := unhex(b[i+1])
				lo, ok2 := unhex(b[i+2])
				if ok1 && ok2 {
					out = append(out, pending...)
					pending = pending[:0]
					out = append(out, hi<<4|lo)
					i += 3
					continue
				}
			}
			out = append(out, pending...)
			pending = pending[:0]
			out = append(out, '=')
			i++
		case c == ' ' || c == '\t':
			pending = append(pending, c)
			i++
		case c == '\r' || c == '\n':
			pending = pending[:0]
			next := skipNewline(b, i)
			out = append(out, b[i:next]...)
			i = next
		default:
			out = append(out, pending...)
			pending = pending[:0]
			out = append(out, c)
			i++
		}
	}
	return append(out, pending...)
}

// skipNewline returns the index just past the line terminator at b[i].
func skipNewline(b []byte, i int) int {
	if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
		return i + 2
	}
	return i + 1
}
