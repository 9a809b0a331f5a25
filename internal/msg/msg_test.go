package msg

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wesm/msgextract/internal/cfb"
	"github.com/wesm/msgextract/internal/testutil"
	"github.com/wesm/msgextract/internal/testutil/cfbtest"
	"github.com/wesm/msgextract/internal/testutil/msgtest"
)

func TestDecodeString(t *testing.T) {
	enc := testutil.EncodedSamples()
	tests := []struct {
		name     string
		raw      []byte
		typ      PropType
		codepage int
		want     string
		notices  int
	}{
		{"unicode", msgtest.Unicode("Zażółć"), TypeUnicode, 0, "Zażółć", 0},
		{"unicode with terminator", append(msgtest.Unicode("abc"), 0, 0), TypeUnicode, 0, "abc", 0},
		{"8-bit cp1250", enc.Win1250_Polish, TypeString8, 1250, "eśćąpe", 0},
		{"8-bit utf-16 content", msgtest.Unicode("hello"), TypeString8, 0, "hello", 0},
		{"8-bit no codepage valid utf-8", []byte("caf\xc3\xa9"), TypeString8, 0, "café", 0},
		{"8-bit no codepage invalid", []byte("a\xffb"), TypeString8, 0, "a\ufffdb", 0},
		{"8-bit trailing nul", []byte("abc\x00"), TypeString8, 0, "abc", 0},
		{"unknown codepage", []byte("abc"), TypeString8, 4242, "abc", 1},
		{"odd unicode length", []byte("abc"), TypeUnicode, 0, "abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, notices := DecodeString(tt.raw, tt.typ, tt.codepage)
			if got != tt.want {
				t.Errorf("DecodeString = %q, want %q", got, tt.want)
			}
			if len(notices) != tt.notices {
				t.Errorf("notices = %v, want %d", notices, tt.notices)
			}
		})
	}
}

func TestParse_Basic(t *testing.T) {
	data := msgtest.Build(&msgtest.Message{
		Class:       "IPM.Note",
		Subject:     "Quarterly report",
		SenderName:  "Alice Example",
		SenderEmail: "alice@example.com",
		DisplayTo:   "Bob; Carol",
		Body:        "Hello Bob",
		HTML:        "<p>Hello Bob</p>",
		MessageID:   "<id-1@example.com>",
		SubmitTime:  133496640000000000, // 2024-01-14T00:00:00Z
		Recipients: []msgtest.Recipient{
			{Name: "Bob", Email: "bob@example.com", Type: 1},
			{Name: "Carol", Email: "carol@example.com", Type: 2},
		},
		Attachments: []msgtest.Attachment{
			{LongName: "report.pdf", ShortName: "REPORT~1.PDF", MimeTag: "application/pdf", Data: []byte("%PDF-1.4")},
			{ShortName: "notes.txt", Data: []byte("n")},
		},
	})

	m, err := Parse(data)
	testutil.MustNoErr(t, err, "Parse")

	if m.Class != "IPM.Note" || m.Subject != "Quarterly report" {
		t.Errorf("class/subject = %q/%q", m.Class, m.Subject)
	}
	if m.SenderName != "Alice Example" || m.SenderEmail != "alice@example.com" {
		t.Errorf("sender = %q <%q>", m.SenderName, m.SenderEmail)
	}
	if m.Body == nil || *m.Body != "Hello Bob" {
		t.Errorf("Body = %v", m.Body)
	}
	if m.HTML == nil || *m.HTML != "<p>Hello Bob</p>" {
		t.Errorf("HTML = %v", m.HTML)
	}
	if want := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC); !m.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", m.Date, want)
	}
	if len(m.Recipients) != 2 || m.Recipients[1].Type != RecipientCC || m.Recipients[0].Email != "bob@example.com" {
		t.Errorf("Recipients = %+v", m.Recipients)
	}

	if len(m.Attachments) != 2 {
		t.Fatalf("Attachments = %d, want 2", len(m.Attachments))
	}
	a := m.Attachments[0]
	if a.Filename() != "report.pdf" || a.MimeTag != "application/pdf" || string(a.Data) != "%PDF-1.4" {
		t.Errorf("attachment 0 = %q %q %q", a.Filename(), a.MimeTag, a.Data)
	}
	if a.IsMessage() {
		t.Error("attachment 0 reported as message")
	}
	if m.Attachments[1].Filename() != "notes.txt" {
		t.Errorf("attachment 1 name = %q", m.Attachments[1].Filename())
	}
	if m.Format() != "text/plain" {
		t.Errorf("Format = %q", m.Format())
	}
}

func TestParse_Version4(t *testing.T) {
	m, err := Parse(msgtest.BuildV4(&msgtest.Message{Subject: "large sectors", Body: strings.Repeat("x", 5000)}))
	testutil.MustNoErr(t, err, "Parse")
	if m.Subject != "large sectors" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if m.Body == nil || len(*m.Body) != 5000 {
		t.Errorf("Body not read from regular sectors: %v", m.Body != nil)
	}
}

func TestParse_Codepage(t *testing.T) {
	enc := testutil.EncodedSamples()
	m, err := Parse(msgtest.Build(&msgtest.Message{
		Codepage: 1250,
		Raw8:     map[uint16][]byte{0x0037: enc.Win1250_Polish},
	}))
	testutil.MustNoErr(t, err, "Parse")
	if m.Subject != "eśćąpe" {
		t.Errorf("Subject = %q, want %q", m.Subject, "eśćąpe")
	}
}

func TestParse_TransportHeaders(t *testing.T) {
	headers := "Received: from a\r\nReceived: from b\r\nFrom: Test <test@test.com>\r\n" +
		"Content-type:text/plain;\r\nSubject: =?UTF-8?Q?TEST_UNDERSCORE?=\r\n\r\n"
	m, err := Parse(msgtest.Build(&msgtest.Message{TransportHeaders: headers, Subject: "TEST UNDERSCORE", Body: "b"}))
	testutil.MustNoErr(t, err, "Parse")

	block, hm := m.Headers()
	if !strings.HasPrefix(block, "Received: from a\r\n") || strings.HasSuffix(block, "\r\n\r\n") {
		t.Errorf("raw block = %q", block)
	}
	testutil.AssertStrings(t, hm.Values("Received"), "from a", "from b")
	if hm.Get("Subject") != "=?UTF-8?Q?TEST_UNDERSCORE?=" {
		t.Errorf("Subject header = %q", hm.Get("Subject"))
	}
	if m.Format() != "text/plain" {
		t.Errorf("Format = %q", m.Format())
	}
}

func TestHeaders_Synthesized(t *testing.T) {
	m, err := Parse(msgtest.Build(&msgtest.Message{
		Subject:     "Hi",
		SenderName:  "Doe, Jane",
		SenderEmail: "jane@example.com",
		MessageID:   "<m@example.com>",
		HTML:        "<b>x</b>",
		Recipients: []msgtest.Recipient{
			{Name: "Bob", Email: "bob@example.com", Type: 1},
			{Email: "eve@example.com", Type: 1},
		},
	}))
	testutil.MustNoErr(t, err, "Parse")
	_, hm := m.Headers()
	testutil.AssertStrings(t, hm.Names(), "From", "To", "Subject", "Message-ID", "Content-Type")
	if got := hm.Get("From"); got != `"Doe, Jane" <jane@example.com>` {
		t.Errorf("From = %q", got)
	}
	if got := hm.Get("To"); got != `"Bob" <bob@example.com>, eve@example.com` {
		t.Errorf("To = %q", got)
	}
	if m.Format() != "text/html" {
		t.Errorf("Format = %q", m.Format())
	}
}

func TestParse_BinaryHTML(t *testing.T) {
	m, err := Parse(msgtest.Build(&msgtest.Message{
		HTMLBinary: []byte(`<html><head><meta charset="windows-1252"></head><body>caf` + "\xe9" + `</body></html>`),
	}))
	testutil.MustNoErr(t, err, "Parse")
	if m.HTML == nil || !strings.Contains(*m.HTML, "café") {
		t.Errorf("HTML = %v", m.HTML)
	}

	m, err = Parse(msgtest.Build(&msgtest.Message{
		InternetCPID: 28592,
		HTMLBinary:   []byte("<p>\xb1</p>"),
	}))
	testutil.MustNoErr(t, err, "Parse")
	if m.HTML == nil || *m.HTML != "<p>ą</p>" {
		t.Errorf("HTML = %v", m.HTML)
	}
}

func TestParse_RTFOnly(t *testing.T) {
	raw := `{\rtf1\ansi\ansicpg1252\fromhtml1 {\*\htmltag19 <html>}{\*\htmltag34 <p>}Hi{\*\htmltag35 </p>}{\*\htmltag27 </html>}}`
	stored := make([]byte, 16)
	binary.LittleEndian.PutUint32(stored[0:], uint32(12+len(raw)))
	binary.LittleEndian.PutUint32(stored[4:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(stored[8:], 0x414C454D)
	stored = append(stored, raw...)

	m, err := Parse(msgtest.Build(&msgtest.Message{Subject: "rtf", RTFCompressed: stored}))
	testutil.MustNoErr(t, err, "Parse")
	if m.HTML == nil || *m.HTML != "<html><p>Hi</p></html>" {
		t.Errorf("HTML = %v", m.HTML)
	}
	if m.Body != nil {
		t.Errorf("Body = %q, want nil", *m.Body)
	}
}

func TestAttachment_Embedded(t *testing.T) {
	data := msgtest.Build(&msgtest.Message{
		Subject:  "outer",
		Codepage: 1250,
		Body:     "outer body",
		Attachments: []msgtest.Attachment{{
			DisplayName: "inner message",
			Embedded: &msgtest.Message{
				Subject: "inner",
				Body:    "inner body",
				Raw8:    map[uint16][]byte{0x0C1A: testutil.EncodedSamples().Win1250_Polish},
				Attachments: []msgtest.Attachment{
					{LongName: "deep.txt", Data: []byte("deep")},
				},
			},
		}},
	})
	m, err := Parse(data)
	testutil.MustNoErr(t, err, "Parse")
	if len(m.Attachments) != 1 || !m.Attachments[0].IsMessage() {
		t.Fatalf("attachments = %+v", m.Attachments)
	}
	if m.Attachments[0].Filename() != "inner message" {
		t.Errorf("Filename = %q", m.Attachments[0].Filename())
	}

	inner, err := m.Attachments[0].Embedded()
	testutil.MustNoErr(t, err, "Embedded")
	if inner.Subject != "inner" || inner.Body == nil || *inner.Body != "inner body" {
		t.Errorf("inner = %q %v", inner.Subject, inner.Body)
	}
	if inner.SenderName != "eśćąpe" {
		t.Errorf("inherited codepage not applied: %q", inner.SenderName)
	}
	if len(inner.Attachments) != 1 || string(inner.Attachments[0].Data) != "deep" {
		t.Errorf("inner attachments = %+v", inner.Attachments)
	}

	if _, err := inner.Attachments[0].Embedded(); err == nil {
		t.Error("Embedded on a file attachment should fail")
	}
}

func TestParse_SMIME(t *testing.T) {
	m, err := Parse(msgtest.Build(&msgtest.Message{
		Class: "IPM.Note.SMIME.MultipartSigned",
		Attachments: []msgtest.Attachment{{
			LongName: "smime.p7m",
			MimeTag:  "multipart/signed",
			Data:     []byte("Content-Type: text/plain\r\n\r\nsigned body"),
		}},
	}))
	testutil.MustNoErr(t, err, "Parse")
	if !m.IsSMIME() {
		t.Error("IsSMIME = false")
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte("not a compound file at all")); !errors.Is(err, cfb.ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
	doc := cfbtest.Build(3, cfbtest.Stream("WordDocument", []byte("doc")))
	if _, err := Parse(doc); !errors.Is(err, ErrNotMessage) {
		t.Errorf("err = %v, want ErrNotMessage", err)
	}
}
