// Package emlx unwraps Apple Mail .emlx files.
//
// An .emlx file stores one message:
//   - Line 1: decimal byte count of the message
//   - Next N bytes: the RFC 822 message
//   - Remainder (optional): XML plist with Apple Mail metadata
package emlx

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"howett.net/plist"
)

// ErrNotEmlx is returned when the leading byte count line is missing or
// does not fit the data.
var ErrNotEmlx = errors.New("not an emlx file")

// maxCountDigits bounds the byte count line; a longer run of digits is not
// an .emlx prefix.
const maxCountDigits = 12

// appleEpoch is the reference date of plist date-sent values.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Meta is the Apple Mail metadata from the trailing plist.
type Meta struct {
	DateSent time.Time // Zero when absent
	Flags    int64
	Mailbox  string // original-mailbox URL
}

// Message is an unwrapped .emlx file.
type Message struct {
	Raw  []byte
	Meta Meta
}

// Parse splits data into the message and its metadata. The plist is read
// best-effort: a malformed plist leaves Meta empty.
func Parse(data []byte) (*Message, error) {
	count, start, err := byteCount(data)
	if err != nil {
		return nil, err
	}
	end := start + count
	if end > len(data) {
		return nil, fmt.Errorf("%w: byte count %d exceeds the %d bytes available", ErrNotEmlx, count, len(data)-start)
	}
	m := &Message{Raw: data[start:end]}
	if end < len(data) {
		m.Meta = readMeta(data[end:])
	}
	return m, nil
}

// Looks reports whether data opens with a byte count line whose count fits
// the data and leaves a non-empty message.
func Looks(data []byte) bool {
	count, start, err := byteCount(data)
	return err == nil && count > 0 && start+count <= len(data)
}

// byteCount reads the count line and returns the count and the offset of
// the message.
func byteCount(data []byte) (count, start int, err error) {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return 0, 0, fmt.Errorf("%w: no newline after byte count", ErrNotEmlx)
	}
	digits := bytes.TrimSpace(data[:nl])
	if len(digits) == 0 || len(digits) > maxCountDigits {
		return 0, 0, fmt.Errorf("%w: invalid byte count %q", ErrNotEmlx, digits)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("%w: invalid byte count %q", ErrNotEmlx, digits)
		}
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid byte count %q", ErrNotEmlx, digits)
	}
	return n, nl + 1, nil
}

// readMeta decodes the Apple Mail plist trailer. A trailer that is not a
// plist dict yields an empty Meta.
func readMeta(trailer []byte) Meta {
	var m Meta
	i := bytes.Index(trailer, []byte("<plist"))
	if i < 0 {
		return m
	}
	var dict map[string]interface{}
	if _, err := plist.Unmarshal(trailer[i:], &dict); err != nil {
		return m
	}
	if secs, ok := number(dict["date-sent"]); ok {
		m.DateSent = appleEpoch.Add(time.Duration(secs * float64(time.Second)))
	}
	if flags, ok := number(dict["flags"]); ok {
		m.Flags = int64(flags)
	}
	m.Mailbox, _ = dict["original-mailbox"].(string)
	return m
}

// number accepts both <integer> and <real> values.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
