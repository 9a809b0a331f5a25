// Package textutil provides text manipulation and encoding utilities.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// EnsureUTF8 ensures a string is valid UTF-8.
// If already valid UTF-8, returns as-is.
// Otherwise attempts charset detection and conversion.
// Falls back to replacing invalid bytes with replacement character.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	// Try charset detection and conversion
	data := []byte(s)

	// chardet is unreliable on short samples, so demand less confidence
	// there and let the fixed list below catch the rest.
	minConfidence := 30 // Short strings: most headers and filenames
	if len(data) > 50 {
		minConfidence = 50 // Body-sized samples
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	// A UTF-8 verdict on invalid UTF-8 is useless here.
	if err == nil && result.Confidence >= minConfidence && !strings.EqualFold(result.Charset, "UTF-8") {
		if enc := LookupCharset(result.Charset); enc != nil {
			decoded, err := enc.NewDecoder().Bytes(data)
			if err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	// Try common encodings in order of likelihood for mail content.
	// Single-byte Western encodings first, then multi-byte Asian encodings.
	encodings := []encoding.Encoding{
		charmap.Windows1252,     // Smart quotes and dashes from Outlook
		charmap.ISO8859_1,       // Latin-1 (Western European)
		charmap.ISO8859_15,      // Latin-9 (Latin-1 plus the Euro sign)
		japanese.ShiftJIS,       // Japanese
		japanese.EUCJP,          // Japanese
		korean.EUCKR,            // Korean
		simplifiedchinese.GBK,   // Simplified Chinese
		traditionalchinese.Big5, // Traditional Chinese
	}

	for _, enc := range encodings {
		decoded, err := enc.NewDecoder().Bytes(data)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}

	// Last resort: replace invalid bytes
	return SanitizeUTF8(s)
}

// SanitizeUTF8 replaces invalid UTF-8 bytes with replacement character.
func SanitizeUTF8(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('\ufffd')
			i++
		} else {
			sb.WriteRune(r)
			i += size
		}
	}
	return sb.String()
}

// charsets maps normalized charset labels to decoders. It is filled once
// in init and only read afterwards.
var charsets = map[string]encoding.Encoding{}

func init() {
	register := func(enc encoding.Encoding, names ...string) {
		for _, n := range names {
			charsets[NormalizeCharset(n)] = enc
		}
	}
	// Unicode
	register(unicode.UTF8, "utf-8", "utf8", "us-ascii", "ascii", "ansi_x3.4-1968", "unicode-1-1-utf-8")
	register(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), "utf-16le", "ucs-2le", "unicode")
	register(unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), "utf-16be", "ucs-2be")
	register(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), "utf-16")
	// Windows code pages
	register(charmap.Windows1250, "windows-1250", "cp1250", "x-cp1250")
	register(charmap.Windows1251, "windows-1251", "cp1251", "x-cp1251")
	register(charmap.Windows1252, "windows-1252", "cp1252", "x-cp1252")
	register(charmap.Windows1253, "windows-1253", "cp1253")
	register(charmap.Windows1254, "windows-1254", "cp1254")
	register(charmap.Windows1255, "windows-1255", "cp1255")
	register(charmap.Windows1256, "windows-1256", "cp1256")
	register(charmap.Windows1257, "windows-1257", "cp1257")
	register(charmap.Windows1258, "windows-1258", "cp1258")
	register(charmap.Windows874, "windows-874", "cp874", "tis-620")
	// ISO-8859 family
	register(charmap.ISO8859_1, "iso-8859-1", "latin1", "latin-1", "l1", "iso_8859-1")
	register(charmap.ISO8859_2, "iso-8859-2", "latin2", "latin-2", "l2")
	register(charmap.ISO8859_3, "iso-8859-3", "latin3")
	register(charmap.ISO8859_4, "iso-8859-4", "latin4")
	register(charmap.ISO8859_5, "iso-8859-5", "cyrillic")
	register(charmap.ISO8859_6, "iso-8859-6", "arabic")
	register(charmap.ISO8859_7, "iso-8859-7", "greek")
	register(charmap.ISO8859_8, "iso-8859-8", "hebrew")
	register(charmap.ISO8859_9, "iso-8859-9", "latin5")
	register(charmap.ISO8859_10, "iso-8859-10", "latin6")
	register(charmap.ISO8859_13, "iso-8859-13")
	register(charmap.ISO8859_14, "iso-8859-14")
	register(charmap.ISO8859_15, "iso-8859-15", "latin9", "latin-9")
	register(charmap.ISO8859_16, "iso-8859-16")
	// Cyrillic, DOS and Mac
	register(charmap.KOI8R, "koi8-r", "koi8r")
	register(charmap.KOI8U, "koi8-u", "koi8u")
	register(charmap.CodePage437, "ibm437", "cp437")
	register(charmap.CodePage850, "ibm850", "cp850")
	register(charmap.CodePage866, "ibm866", "cp866")
	register(charmap.Macintosh, "macintosh", "mac", "x-mac-roman")
	// CJK
	register(japanese.ShiftJIS, "shift_jis", "shift-jis", "sjis", "cp932", "windows-31j", "ms_kanji")
	register(japanese.EUCJP, "euc-jp", "eucjp")
	register(japanese.ISO2022JP, "iso-2022-jp", "iso2022jp", "csiso2022jp", "iso-2022-jp-1", "iso-2022-jp-2", "iso-2022-jp-3")
	register(korean.EUCKR, "euc-kr", "euckr", "cp949", "ks_c_5601-1987", "ks_c_5601")
	register(simplifiedchinese.GBK, "gbk", "gb2312", "cp936", "x-gbk", "euc-cn")
	register(simplifiedchinese.GB18030, "gb18030", "gb-18030")
	register(simplifiedchinese.HZGB2312, "hz-gb-2312")
	register(traditionalchinese.Big5, "big5", "big-5", "cp950", "big5-hkscs")
}

// NormalizeCharset lowercases a charset label and strips quotes and
// surrounding whitespace.
func NormalizeCharset(name string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
}

// LookupCharset returns an encoding for the given charset label, or nil
// when the label is unknown. The built-in table is consulted first, then
// the IANA MIME index and the WHATWG label set.
func LookupCharset(name string) encoding.Encoding {
	key := NormalizeCharset(name)
	if key == "" {
		return nil
	}
	if enc, ok := charsets[key]; ok {
		return enc
	}
	if enc, err := ianaindex.MIME.Encoding(key); err == nil && enc != nil {
		return enc
	}
	if enc, _ := htmlcharset.Lookup(key); enc != nil {
		return enc
	}
	return nil
}

// codepages maps Windows code page identifiers (as stored in MAPI
// PR_MESSAGE_CODEPAGE / PR_INTERNET_CPID) to charset labels.
var codepages = map[int]string{
	437:   "ibm437",
	850:   "ibm850",
	866:   "ibm866",
	874:   "windows-874",
	932:   "shift_jis",
	936:   "gbk",
	949:   "euc-kr",
	950:   "big5",
	1200:  "utf-16le",
	1201:  "utf-16be",
	1250:  "windows-1250",
	1251:  "windows-1251",
	1252:  "windows-1252",
	1253:  "windows-1253",
	1254:  "windows-1254",
	1255:  "windows-1255",
	1256:  "windows-1256",
	1257:  "windows-1257",
	1258:  "windows-1258",
	10000: "macintosh",
	20127: "us-ascii",
	20866: "koi8-r",
	21866: "koi8-u",
	28591: "iso-8859-1",
	28592: "iso-8859-2",
	28593: "iso-8859-3",
	28594: "iso-8859-4",
	28595: "iso-8859-5",
	28596: "iso-8859-6",
	28597: "iso-8859-7",
	28598: "iso-8859-8",
	28599: "iso-8859-9",
	28603: "iso-8859-13",
	28605: "iso-8859-15",
	50220: "iso-2022-jp",
	50221: "iso-2022-jp",
	50222: "iso-2022-jp",
	51932: "euc-jp",
	51936: "gbk",
	51949: "euc-kr",
	52936: "hz-gb-2312",
	54936: "gb18030",
	65001: "utf-8",
}

// CodepageCharset returns the charset label for a Windows code page, or ""
// if the code page is not known.
func CodepageCharset(cp int) string {
	return codepages[cp]
}

// FirstLine returns the first line of a string.
// Useful for extracting clean error messages from multi-line outputs.
// Leading newlines are trimmed before extracting the first line.
func FirstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
