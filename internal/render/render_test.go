package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/record"
	"github.com/wesm/msgextract/internal/testutil"
)

func sampleFiles() []File {
	text := "first line\nsecond line\nthird line\nfourth line\n"
	html := "<p>inner <b>html</b> body</p>"
	sent := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	return []File{
		{
			Name: "outer.eml",
			Records: []record.Message{
				{
					FileName:        "outer.eml",
					From:            "sender@example.com",
					To:              "a@example.com, b@example.com",
					Subject:         "Quarterly report",
					Date:            &sent,
					Text:            &text,
					Format:          "multipart/mixed",
					AttachmentNames: []string{"report.pdf", "fwd.eml"},
					AttachmentData:  []record.Attachment{{Name: "report.pdf", Data: make([]byte, 2048)}},
				},
				{
					FileName: "fwd.eml",
					Subject:  "",
					HTML:     &html,
					Depth:    1,
				},
			},
			Notices: []codec.Notice{{Message: codec.MsgUnknownEncoding, Detail: "x-unknown"}},
		},
		{
			Name: "broken.msg",
			Err:  &record.CorruptContainerError{Name: "broken.msg", Err: errors.New("bad sector")},
		},
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	testutil.MustNoErr(t, Text(&buf, sampleFiles(), TextOptions{Width: 200}), "Text")
	out := buf.String()

	testutil.AssertContainsAll(t, out, []string{
		"== outer.eml (2 records) ==",
		"[0] Quarterly report",
		"sender@example.com",
		"a@example.com, b@example.com",
		"2024-05-06 09:30 UTC",
		"report.pdf (2.0 KB), fwd.eml",
		"| first line",
		"| third line",
		"| ...",
		"  [1] (no subject) <fwd.eml>",
		"  | inner html body",
		"notice: " + codec.MsgUnknownEncoding + " (x-unknown)",
		"== broken.msg (0 records) ==",
		"error: corrupt container broken.msg: bad sector",
	})
	if strings.Contains(out, "fourth line") {
		t.Errorf("preview not limited to three lines:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("ANSI escapes without color:\n%s", out)
	}
}

func TestText_NoPreview(t *testing.T) {
	var buf bytes.Buffer
	testutil.MustNoErr(t, Text(&buf, sampleFiles()[:1], TextOptions{PreviewLines: -1}), "Text")
	if strings.Contains(buf.String(), "| ") {
		t.Errorf("preview shown with PreviewLines < 0:\n%s", buf.String())
	}
}

func TestText_Width(t *testing.T) {
	long := strings.Repeat("長い件名 ", 40)
	files := []File{{Name: "wide.eml", Records: []record.Message{{Subject: long}}}}
	var buf bytes.Buffer
	testutil.MustNoErr(t, Text(&buf, files, TextOptions{Width: 40, PreviewLines: -1}), "Text")
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if w := runewidth.StringWidth(line); w > 40 {
			t.Errorf("line width %d > 40: %q", w, line)
		}
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	testutil.MustNoErr(t, JSON(&buf, sampleFiles()), "JSON")

	var got struct {
		Files []struct {
			File    string `json:"file"`
			Records []struct {
				Subject         string
				Depth           int
				AttachmentNames []string
			} `json:"records"`
			Notices   []codec.Notice `json:"notices"`
			Error     string         `json:"error"`
			ErrorKind string         `json:"error_kind"`
		} `json:"files"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(got.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(got.Files))
	}
	first, second := got.Files[0], got.Files[1]
	if first.File != "outer.eml" || len(first.Records) != 2 || first.Records[1].Depth != 1 {
		t.Errorf("first file = %+v", first)
	}
	testutil.AssertStrings(t, first.Records[0].AttachmentNames, "report.pdf", "fwd.eml")
	if len(first.Notices) != 1 || first.Error != "" {
		t.Errorf("first file notices = %v, error = %q", first.Notices, first.Error)
	}
	if second.ErrorKind != "corrupt_container" || !strings.Contains(second.Error, "bad sector") {
		t.Errorf("second file error = %q (%s)", second.Error, second.ErrorKind)
	}
	if second.Records == nil {
		t.Error("records should be an empty array, not null")
	}
}

func TestFile_ErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&record.UnsupportedFormatError{Name: "a"}, "unsupported_format"},
		{fmt.Errorf("wrapped: %w", &record.CorruptContainerError{Name: "b"}), "corrupt_container"},
		{&record.NoExtractableContentError{Name: "c"}, "no_extractable_content"},
		{errors.New("permission denied"), "io"},
	}
	for _, tt := range tests {
		f := File{Err: tt.err}
		if got := f.ErrorKind(); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestText_Color(t *testing.T) {
	lipgloss.SetColorProfile(termenv.ANSI)
	defer lipgloss.SetColorProfile(termenv.Ascii)

	var colored, plain bytes.Buffer
	testutil.MustNoErr(t, Text(&colored, sampleFiles(), TextOptions{Width: 200, Color: true}), "Text color")
	testutil.MustNoErr(t, Text(&plain, sampleFiles(), TextOptions{Width: 200}), "Text plain")

	if !strings.Contains(colored.String(), "\x1b[") {
		t.Errorf("colored output has no escape sequences:\n%s", colored.String())
	}
	if strings.Contains(plain.String(), "\x1b[") {
		t.Errorf("plain output has escape sequences:\n%q", plain.String())
	}
	testutil.AssertContainsAll(t, colored.String(), []string{"Quarterly report", "fwd.eml"})
}

func TestUseColor(t *testing.T) {
	if UseColor(&bytes.Buffer{}) {
		t.Error("UseColor(buffer) = true")
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("aaa bbb ccc ddd", 8)
	testutil.AssertStrings(t, got, "aaa bbb", "ccc ddd")

	got = wrapText("abcdefghij", 4)
	testutil.AssertStrings(t, got, "abcd", "efgh", "ij")
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		512:     "512 B",
		2048:    "2.0 KB",
		1 << 20: "1.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
