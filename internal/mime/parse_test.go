package mime

import (
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/msgextract/internal/codec"
	testemail "github.com/wesm/msgextract/internal/testutil/email"
)

// mustParse calls Parse and fails the test on error.
func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return msg
}

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func assertBody(t *testing.T, label string, got *string, want string) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s = nil, want %q", label, want)
	}
	if *got != want {
		t.Errorf("%s = %q, want %q", label, *got, want)
	}
}

// partSummary is the comparable shape of a Part.
type partSummary struct {
	Kind PartKind
	Name string
	Type string
	Data string
}

func summarize(parts []Part) []partSummary {
	out := make([]partSummary, len(parts))
	for i, p := range parts {
		out[i] = partSummary{p.Kind, p.Name, p.ContentType, string(p.Data)}
	}
	return out
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time // zero means unreadable
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"RFC1123 named zone", "Mon, 2 Jan 2006 15:04:05 MST",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"no weekday", "02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"double space after comma", "Mon,  2 Dec 2024 11:42:03 +0000 (UTC)",
			time.Date(2024, 12, 2, 11, 42, 3, 0, time.UTC)},
		{"no seconds", "Tue, 3 Sep 2019 08:15 +0200",
			time.Date(2019, 9, 3, 6, 15, 0, 0, time.UTC)},
		{"ISO 8601 offset", "2006-01-02T15:04:05-07:00",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like no tz", "2006-01-02 15:04:05",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},

		{"empty", "", time.Time{}},
		{"garbage", "not a date", time.Time{}},
		{"spelled month", "January 2, 2006", time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseDate(tc.input)
			if !got.Equal(tc.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tc.input, got, tc.want)
			}
			if !got.IsZero() && got.Location() != time.UTC {
				t.Errorf("parseDate(%q) location = %v, want UTC", tc.input, got.Location())
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"paragraph", "<p>Hello</p>", "Hello"},
		{"inline_tags", "<b>Bold</b> and <i>italic</i>", "Bold and italic"},
		{"empty", "", ""},
		{"script_removed", "<script>alert('xss')</script>Text", "Text"},
		{"style_removed", "<style>.class{color:red}</style>Content", "Content"},
		{"head_removed", "<head><title>Title</title></head>Body", "Body"},
		{"comment_removed", "A<!-- hidden -->B", "AB"},
		{"crlf_to_lf", "Line1\r\nLine2", "Line1\nLine2"},
		{"collapse_newlines", "Multiple\n\n\n\nNewlines", "Multiple\n\nNewlines"},
		{"entities", "Tom &amp; Jerry &lt;3 &#169;", "Tom & Jerry <3 ©"},
		{"nbsp_spaces", "Hello&nbsp;&nbsp;&nbsp;World", "Hello World"},
		{"br_tag", "Line1<br>Line2", "Line1\nLine2"},
		{"paragraph_breaks", "<p>Para1</p><p>Para2</p>", "Para1\n\nPara2"},
		{"pre_whitespace_collapsed", "<pre>  code  here  </pre>", "code here"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.input); got != tc.want {
				t.Errorf("StripHTML() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, raw := range []string{"", "  \r\n\r\n"} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrEmpty) {
			t.Errorf("Parse(%q) err = %v, want ErrEmpty", raw, err)
		}
	}
}

func TestParse_PlainMessage(t *testing.T) {
	raw := testemail.NewMessage().
		HeaderAppend("Received", "from a").
		HeaderAppend("Received", "from b").
		Body("Body text").
		CRLF().
		Bytes()
	msg := mustParse(t, raw)

	assertBody(t, "Text", msg.Text, "Body text\r\n")
	if msg.HTML != nil {
		t.Errorf("HTML = %q, want nil", *msg.HTML)
	}
	if msg.Format != "text/plain" {
		t.Errorf("Format = %q", msg.Format)
	}
	if want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC); !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if got := msg.Headers.Values("received"); len(got) != 2 {
		t.Errorf("Received = %v, want 2 values", got)
	}
	if !strings.HasPrefix(msg.RawHeaders, "From: sender@example.com\r\n") || strings.Contains(msg.RawHeaders, "Body text") {
		t.Errorf("RawHeaders = %q", msg.RawHeaders)
	}
	if len(msg.Parts) != 0 {
		t.Errorf("Parts = %v", summarize(msg.Parts))
	}
}

func TestParse_NoContentType(t *testing.T) {
	msg := mustParse(t, crlf("Subject: hi", "", "just text"))
	assertBody(t, "Text", msg.Text, "just text")
	if msg.Format != "" {
		t.Errorf("Format = %q, want empty", msg.Format)
	}
}

func TestParse_Alternative(t *testing.T) {
	raw := testemail.NewMessage().Body("plain body").HTML("<p>rich</p>").Bytes()
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "plain body")
	assertBody(t, "HTML", msg.HTML, "<p>rich</p>")
	if msg.Format != "multipart/alternative" {
		t.Errorf("Format = %q", msg.Format)
	}
	if len(msg.Parts) != 0 {
		t.Errorf("Parts = %v", summarize(msg.Parts))
	}
}

func TestParse_SecondTextPartIsAttachment(t *testing.T) {
	raw := testemail.NewMessage().
		Body("first").
		WithPart(testemail.Text("plain", "second")).
		Bytes()
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "first")
	want := []partSummary{{AttachmentPart, "unknown_file_name0", "text/plain", "second"}}
	if diff := cmp.Diff(want, summarize(msg.Parts)); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Attachments(t *testing.T) {
	raw := testemail.NewMessage().
		Body("See attached.").
		WithAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4")).
		WithAttachment("notes.txt", "text/plain", []byte("a note")).
		CRLF().
		Bytes()
	msg := mustParse(t, raw)

	assertBody(t, "Text", msg.Text, "See attached.")
	want := []partSummary{
		{AttachmentPart, "report.pdf", "application/pdf", "%PDF-1.4"},
		{AttachmentPart, "notes.txt", "text/plain", "a note"},
	}
	if diff := cmp.Diff(want, summarize(msg.Parts)); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_QuotedPrintableSoftBreak(t *testing.T) {
	raw := crlf(
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Caf=E9 au lait, this line is long enough to be wr=",
		"apped.",
	)
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "Café au lait, this line is long enough to be wrapped.")
}

func TestParse_Latin1Body(t *testing.T) {
	raw := []byte("Subject: Caf\xe9\r\nContent-Type: text/plain; charset=iso-8859-1\r\n\r\nCaf\xe9 au lait")
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "Café au lait")
}

func TestParse_UnknownBodyCharset(t *testing.T) {
	raw := crlf("Content-Type: text/plain; charset=x-no-such-charset", "", "Body text")
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "Body text")
	if len(msg.Notices) != 1 || msg.Notices[0].Message != codec.MsgUnknownEncoding {
		t.Errorf("Notices = %v", msg.Notices)
	}
}

func TestParse_LenientBase64Attachment(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="b"`,
		"",
		"--b",
		"Content-Type: application/octet-stream; name=blob.bin",
		"Content-Transfer-Encoding: base64",
		"",
		"aGVs bG8g",
		"d29y*bGQ",
		"--b--",
	)
	msg := mustParse(t, raw)
	want := []partSummary{{AttachmentPart, "blob.bin", "application/octet-stream", "hello world"}}
	if diff := cmp.Diff(want, summarize(msg.Parts)); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FilenameOrder(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{
			"extended filename wins",
			[]string{
				`Content-Type: application/pdf; name="type.pdf"`,
				`Content-Disposition: attachment; filename="plain.pdf"; filename*=utf-8''r%C3%A9sum%C3%A9.pdf`,
			},
			"résumé.pdf",
		},
		{
			"continuations",
			[]string{
				`Content-Type: application/pdf`,
				`Content-Disposition: attachment; filename*0*=utf-8''long%20; filename*1="name.pdf"`,
			},
			"long name.pdf",
		},
		{
			"extended type name before plain filename",
			[]string{
				`Content-Type: application/pdf; name*=utf-8''%E6%8A%A5%E5%91%8A.pdf`,
				`Content-Disposition: attachment; filename="report.pdf"`,
			},
			"报告.pdf",
		},
		{
			"disposition before type",
			[]string{
				`Content-Type: application/pdf; name="type.pdf"`,
				`Content-Disposition: attachment; filename="disp.pdf"`,
			},
			"disp.pdf",
		},
		{
			"type name",
			[]string{`Content-Type: application/pdf; name="type.pdf"`},
			"type.pdf",
		},
		{
			"encoded-word name",
			[]string{`Content-Type: application/pdf; name="=?UTF-8?B?w6l0w6kucGRm?="`},
			"été.pdf",
		},
		{
			"placeholder",
			[]string{`Content-Type: application/pdf`},
			"unknown_file_name0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := []string{`Content-Type: multipart/mixed; boundary="b"`, "", "--b"}
			lines = append(lines, tt.headers...)
			lines = append(lines, "", "data", "--b--")
			msg := mustParse(t, crlf(lines...))
			if len(msg.Parts) != 1 {
				t.Fatalf("Parts = %v", summarize(msg.Parts))
			}
			if got := msg.Parts[0].Name; got != tt.want {
				t.Errorf("Name = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_PlaceholderCounter(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="b"`,
		"",
		"--b",
		"Content-Type: image/png",
		"",
		"one",
		"--b",
		"Content-Type: image/gif",
		"",
		"two",
		"--b--",
	)
	msg := mustParse(t, raw)
	if len(msg.Parts) != 2 || msg.Parts[0].Name != "unknown_file_name0" || msg.Parts[1].Name != "unknown_file_name1" {
		t.Errorf("Parts = %v", summarize(msg.Parts))
	}
	if msg.Placeholders != 2 {
		t.Errorf("Placeholders = %d, want 2", msg.Placeholders)
	}
}

func TestParse_UnknownCharsetFilename(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="b"`,
		"",
		"--b",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename*=x-no-such-charset''report.pdf`,
		"",
		"data",
		"--b--",
	)
	msg := mustParse(t, raw)
	if len(msg.Parts) != 1 || msg.Parts[0].Name != "report.pdf" {
		t.Fatalf("Parts = %v", summarize(msg.Parts))
	}
	if len(msg.Notices) != 1 || msg.Notices[0].Message != codec.MsgUnknownEncoding {
		t.Errorf("Notices = %v", msg.Notices)
	}
}

func TestParse_NestedMessage(t *testing.T) {
	inner := testemail.NewMessage().Subject("inner").Body("inner body").Bytes()
	raw := testemail.NewMessage().Body("outer body").WithMessage(inner).Bytes()
	msg := mustParse(t, raw)

	assertBody(t, "Text", msg.Text, "outer body")
	if len(msg.Parts) != 1 {
		t.Fatalf("Parts = %v", summarize(msg.Parts))
	}
	p := msg.Parts[0]
	if p.Kind != NestedMessagePart || p.ContentType != "message/rfc822" {
		t.Errorf("part = %v", summarize(msg.Parts))
	}
	if !bytes.HasPrefix(p.Data, inner) {
		t.Errorf("nested data = %q, want prefix %q", p.Data, inner)
	}
}

func TestParse_DigestDefaultsToMessage(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/digest; boundary="d"`,
		"",
		"preamble is dropped",
		"--d",
		"",
		"Subject: first",
		"",
		"one",
		"--d",
		"Content-Type: text/plain",
		"",
		"explicit text",
		"--d--",
		"epilogue is dropped",
	)
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "explicit text")
	want := []partSummary{{NestedMessagePart, "unknown_file_name0", "message/rfc822", "Subject: first\r\n\r\none"}}
	if diff := cmp.Diff(want, summarize(msg.Parts)); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MalformedSignedContentType(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/signed; protocol="application/pkcs7-signature";, micalg=sha-256; boundary="sig"`,
		"",
		"--sig",
		"Content-Type: text/plain",
		"",
		"signed text",
		"--sig",
		"Content-Type: application/pkcs7-signature; name=smime.p7s",
		"Content-Transfer-Encoding: base64",
		"",
		"AQID",
		"--sig--",
	)
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "signed text")
	want := []partSummary{{AttachmentPart, "smime.p7s", "application/pkcs7-signature", "\x01\x02\x03"}}
	if diff := cmp.Diff(want, summarize(msg.Parts)); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_PartWithoutContentType(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="b"`,
		"",
		"--b",
		"Content-Disposition: attachment; filename=data.bin",
		"",
		"payload",
		"--b--",
	)
	msg := mustParse(t, raw)
	if msg.Text != nil {
		t.Errorf("Text = %q, want nil", *msg.Text)
	}
	want := []partSummary{{AttachmentPart, "data.bin", "application/octet-stream", "payload"}}
	if diff := cmp.Diff(want, summarize(msg.Parts)); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_PKCS7EnvelopedMIME(t *testing.T) {
	inner := "Content-Type: text/plain\r\n\r\nwrapped text"
	raw := crlf(
		"Content-Type: application/pkcs7-mime; smime-type=signed-data; name=smime.p7m",
		"",
		inner,
	)
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "wrapped text")
	if len(msg.Parts) != 0 {
		t.Errorf("Parts = %v", summarize(msg.Parts))
	}
}

func TestParse_PKCS7Opaque(t *testing.T) {
	raw := crlf(
		"Content-Type: application/pkcs7-mime; name=smime.p7m",
		"Content-Transfer-Encoding: base64",
		"",
		"MIAGCSqGSIb3DQEHA6CAMIACAQ==",
	)
	msg := mustParse(t, raw)
	if len(msg.Parts) != 1 || msg.Parts[0].Name != "smime.p7m" {
		t.Errorf("Parts = %v", summarize(msg.Parts))
	}
}

func TestParse_MissingCloseDelimiter(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="b"`,
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"never closed",
	)
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "never closed")
}

func TestParse_NoBoundary(t *testing.T) {
	msg := mustParse(t, crlf("Content-Type: multipart/mixed", "", "flat text"))
	assertBody(t, "Text", msg.Text, "flat text")
}

func TestParseMediaType(t *testing.T) {
	tests := []struct {
		value     string
		wantType  string
		wantParam map[string]string
	}{
		{"TEXT/PLAIN; CHARSET=UTF-8", "text/plain", map[string]string{"charset": "UTF-8"}},
		{"", "text/plain", map[string]string{}},
		{"garbage", "text/plain", map[string]string{}},
		{`multipart/mixed; boundary="a;b"`, "multipart/mixed", map[string]string{"boundary": "a;b"}},
	}
	for _, tt := range tests {
		gotType, gotParams := parseMediaType(tt.value, "text/plain")
		if gotType != tt.wantType {
			t.Errorf("parseMediaType(%q) type = %q, want %q", tt.value, gotType, tt.wantType)
		}
		for k, v := range tt.wantParam {
			if gotParams[k] != v {
				t.Errorf("parseMediaType(%q)[%q] = %q, want %q", tt.value, k, gotParams[k], v)
			}
		}
	}
}

func TestIsAttachment(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		disposition string
		want        bool
	}{
		{"plain body", "text/plain; charset=utf-8", "", false},
		{"inline disposition", "text/plain", "inline", false},
		{"attachment disposition", "text/plain", "ATTACHMENT", true},
		{"type name", "text/plain; name=x.txt", "", true},
		{"disposition filename", "text/html", `inline; filename="page.html"`, true},
		{"extended name", "text/plain; name*=utf-8''x.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := textproto.MIMEHeader{"Content-Type": {tt.contentType}}
			if tt.disposition != "" {
				h.Set("Content-Disposition", tt.disposition)
			}
			e := newEntity(h, "text/plain")
			if got := e.isAttachment(); got != tt.want {
				t.Errorf("isAttachment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_NestingLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("Content-Type: multipart/mixed; boundary=\"b0\"\r\n\r\n")
	levels := maxMultipartDepth + 2
	for i := 1; i <= levels; i++ {
		fmt.Fprintf(&b, "--b%d\r\nContent-Type: multipart/mixed; boundary=\"b%d\"\r\n\r\n", i-1, i)
	}
	fmt.Fprintf(&b, "--b%d\r\nContent-Type: text/plain\r\n\r\ntoo deep\r\n--b%d--\r\n", levels, levels)
	for i := levels; i >= 1; i-- {
		fmt.Fprintf(&b, "--b%d--\r\n", i-1)
	}

	msg := mustParse(t, []byte(b.String()))
	if msg.Text != nil {
		t.Errorf("Text = %q, want nil", *msg.Text)
	}
	if len(msg.Notices) != 1 || msg.Notices[0].Message != MsgStructureLimit {
		t.Errorf("Notices = %v", msg.Notices)
	}
}

func TestParse_EmptyNestedMultipart(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain",
		"",
		"body",
		"--outer",
		`Content-Type: multipart/alternative; boundary="never-used"`,
		"",
		"--outer--",
	)
	msg := mustParse(t, raw)
	assertBody(t, "Text", msg.Text, "body")
	if len(msg.Parts) != 0 {
		t.Errorf("Parts = %v", summarize(msg.Parts))
	}
}

func TestParse_EnvelopeAndBOM(t *testing.T) {
	body := testemail.NewMessage().Body("inside").WithAttachment("a.bin", "application/octet-stream", []byte("x")).Bytes()
	for name, prefix := range map[string]string{
		"bom":           "\xEF\xBB\xBF",
		"mbox envelope": "From sender@example.com Mon Jan  1 12:00:00 2024\n",
	} {
		t.Run(name, func(t *testing.T) {
			msg := mustParse(t, append([]byte(prefix), body...))
			assertBody(t, "Text", msg.Text, "inside")
			if msg.Format != "multipart/mixed" || len(msg.Parts) != 1 {
				t.Errorf("Format = %q, Parts = %v", msg.Format, summarize(msg.Parts))
			}
		})
	}
}
