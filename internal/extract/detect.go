package extract

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wesm/msgextract/internal/cfb"
	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/emlx"
	"github.com/wesm/msgextract/internal/header"
	"github.com/wesm/msgextract/internal/record"
)

// Format is a container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatEML
	FormatMSG
	FormatEMLX
)

func (f Format) String() string {
	switch f {
	case FormatEML:
		return "eml"
	case FormatMSG:
		return "msg"
	case FormatEMLX:
		return "emlx"
	}
	return "unknown"
}

// DetectFormat decides how to read data. The bytes win over the name and
// hint: a compound-file signature means MSG and an RFC 822 header block
// means EML. An Apple Mail byte-count line ahead of such a header block
// means EMLX. When the bytes are inconclusive, an .eml/.p7m name or a
// message-ish type hint (as reported by file(1), for instance) selects EML.
func DetectFormat(data []byte, name, hint string) (Format, error) {
	switch {
	case cfb.IsCompound(data):
		return FormatMSG, nil
	case isEMLX(data):
		return FormatEMLX, nil
	case looksLikeMessage(data):
		return FormatEML, nil
	}
	if len(bytes.TrimSpace(data)) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		h := strings.ToLower(hint)
		if ext == ".eml" || ext == ".emlx" || ext == ".p7m" ||
			strings.Contains(h, "rfc822") || strings.Contains(h, "multipart/") ||
			strings.Contains(h, "mail") && !strings.Contains(h, "outlook") {
			return FormatEML, nil
		}
	}
	return FormatUnknown, &record.UnsupportedFormatError{Name: name}
}

// messageFields are header names that mark the start of an RFC 822
// message when found in the leading header block.
var messageFields = map[string]bool{
	"received":     true,
	"from":         true,
	"to":           true,
	"subject":      true,
	"date":         true,
	"return-path":  true,
	"mime-version": true,
	"message-id":   true,
	"delivered-to": true,
	"content-type": true,
	"reply-to":     true,
	"sender":       true,
}

var fieldLineRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]*)[ \t]*:`)

// looksLikeMessage reports whether data opens with a header block that
// carries at least one message header.
func looksLikeMessage(data []byte) bool {
	block, _ := header.Split(bytes.TrimLeft(data, " \t\r\n"))
	if len(block) == 0 {
		return false
	}
	first := block
	if i := bytes.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	if !fieldLineRe.Match(first) {
		return false
	}
	h := header.Parse(string(block))
	for _, name := range h.Names() {
		n := strings.ToLower(name)
		if messageFields[n] || strings.HasPrefix(n, "x-") {
			return true
		}
	}
	return false
}

// sniff classifies a payload by its leading bytes.
func sniff(data []byte) Format {
	switch {
	case cfb.IsCompound(data):
		return FormatMSG
	case isEMLX(data):
		return FormatEMLX
	case looksLikeMessage(data):
		return FormatEML
	}
	return FormatUnknown
}

// isEMLX reports whether data is an Apple Mail wrapper around a message.
func isEMLX(data []byte) bool {
	if !emlx.Looks(data) {
		return false
	}
	m, err := emlx.Parse(data)
	return err == nil && looksLikeMessage(m.Raw)
}

// unwrapBase64 returns the decoded payload when data is nothing but base64
// text that decodes into a message, and nil otherwise.
func unwrapBase64(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) < 16 {
		return nil
	}
	for _, c := range trimmed {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '+', c == '/', c == '=', c == '\r', c == '\n', c == ' ', c == '\t':
		default:
			return nil
		}
	}
	decoded := codec.DecodeBase64Lenient(trimmed)
	if sniff(decoded) == FormatUnknown {
		return nil
	}
	return decoded
}

// nestedExt reports the format implied by a nested attachment's name.
func nestedExt(name string) Format {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".eml":
		return FormatEML
	case ".msg":
		return FormatMSG
	case ".emlx":
		return FormatEMLX
	}
	return FormatUnknown
}

// genericTypes are declared types that say nothing about the payload.
var genericTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"application/unknown":      true,
	"application/binary":       true,
	"binary/octet-stream":      true,
	"unknown/unknown":          true,
}

// plainExts are extensions of files that are never messages, whatever their
// first lines look like.
var plainExts = map[string]bool{
	".txt": true, ".text": true, ".log": true, ".md": true, ".csv": true, ".tsv": true,
	".json": true, ".xml": true, ".yml": true, ".yaml": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true, ".html": true, ".htm": true, ".ics": true, ".vcf": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true,
	".pptx": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".zip": true,
}

func mediaType(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// messageType reports whether a declared type names a message container.
func messageType(mimeType string) bool {
	switch mediaType(mimeType) {
	case "message/rfc822", "message/global", "application/vnd.ms-outlook":
		return true
	}
	return false
}

// sniffable reports whether an undeclared attachment's bytes may decide
// that it is a message: its type must be missing or generic and its name
// must not carry the extension of an ordinary document.
func sniffable(mimeType, name string) bool {
	if !genericTypes[mediaType(mimeType)] {
		return false
	}
	return !plainExts[strings.ToLower(filepath.Ext(strings.TrimSpace(name)))]
}
