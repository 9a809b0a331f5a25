// Package codec decodes the text encodings found in email containers:
// declared charsets, RFC 2047 encoded-words and the base64 and
// quoted-printable transfer encodings. Every decoder here is best-effort and
// never fails; problems are reported as Notices.
package codec

import (
	"bytes"
	"io"
	"unicode/utf8"

	gomsgcharset "github.com/emersion/go-message/charset"

	"github.com/wesm/msgextract/internal/textutil"
)

// MsgUnknownEncoding is the notice text emitted when a charset label cannot
// be resolved and the bytes are decoded as UTF-8 instead.
const MsgUnknownEncoding = "Could not find the encoding type of the string, decoding by default with utf-8"

// Notice is a non-fatal decoding diagnostic.
type Notice struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// DecodeBytes converts b to text using the declared charset. An empty
// charset means "undeclared": valid UTF-8 is kept, anything else goes
// through charset detection. Unknown labels fall back to UTF-8.
func DecodeBytes(b []byte, charset string) (string, []Notice) {
	if charset == "" {
		if utf8.Valid(b) {
			return string(b), nil
		}
		return textutil.EnsureUTF8(string(b)), nil
	}
	enc := textutil.LookupCharset(charset)
	if enc == nil {
		// Last resort: the go-message label table.
		if r, err := gomsgcharset.Reader(textutil.NormalizeCharset(charset), bytes.NewReader(b)); err == nil {
			if out, err := io.ReadAll(r); err == nil {
				return textutil.SanitizeUTF8(string(out)), nil
			}
		}
		return textutil.SanitizeUTF8(string(b)), []Notice{{Message: MsgUnknownEncoding, Detail: charset}}
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return textutil.SanitizeUTF8(string(b)), []Notice{{
			Message: "charset decode failed, decoding by default with utf-8",
			Detail:  charset + ": " + err.Error(),
		}}
	}
	return textutil.SanitizeUTF8(string(out)), nil
}
