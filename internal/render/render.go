// Package render writes extraction results as a JSON envelope or as a
// human-readable terminal summary.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"github.com/wesm/msgextract/internal/codec"
	"github.com/wesm/msgextract/internal/record"
	"github.com/wesm/msgextract/internal/textutil"
)

// File is the outcome of extracting one input file.
type File struct {
	Name    string
	Records []record.Message
	Notices []codec.Notice
	Err     error
}

// ErrorKind classifies Err for machine consumers.
func (f *File) ErrorKind() string {
	var (
		unsupported *record.UnsupportedFormatError
		corrupt     *record.CorruptContainerError
		empty       *record.NoExtractableContentError
	)
	switch {
	case f.Err == nil:
		return ""
	case errors.As(f.Err, &unsupported):
		return "unsupported_format"
	case errors.As(f.Err, &corrupt):
		return "corrupt_container"
	case errors.As(f.Err, &empty):
		return "no_extractable_content"
	}
	return "io"
}

type fileJSON struct {
	File      string           `json:"file"`
	Records   []record.Message `json:"records"`
	Notices   []codec.Notice   `json:"notices,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
}

// JSON writes files as {"files": [...]}, one entry per input in order.
func JSON(w io.Writer, files []File) error {
	out := struct {
		Files []fileJSON `json:"files"`
	}{Files: make([]fileJSON, 0, len(files))}
	for i := range files {
		f := &files[i]
		fj := fileJSON{File: f.Name, Records: f.Records, Notices: f.Notices}
		if fj.Records == nil {
			fj.Records = []record.Message{}
		}
		if f.Err != nil {
			fj.Error = f.Err.Error()
			fj.ErrorKind = f.ErrorKind()
		}
		out.Files = append(out.Files, fj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// TextOptions controls the terminal summary.
type TextOptions struct {
	Width        int  // Line width in cells (default 80)
	PreviewLines int  // Body lines shown per record (default 3, negative hides)
	Color        bool // Emit ANSI styling
}

// UseColor reports whether w is a terminal that should get ANSI styling.
func UseColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type styles struct {
	file    lipgloss.Style
	subject lipgloss.Style
	label   lipgloss.Style
	notice  lipgloss.Style
	err     lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain}
	}
	return styles{
		file:    lipgloss.NewStyle().Bold(true),
		subject: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005f87", Dark: "#5fafd7"}),
		label:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#999999"}),
		notice:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#996600", Dark: "#ffcc00"}),
		err:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#cc0000", Dark: "#ff5f5f"}),
	}
}

// Text writes a summary of each file: one block per record, indented by
// nesting depth.
func Text(w io.Writer, files []File, opts TextOptions) error {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.PreviewLines == 0 {
		opts.PreviewLines = 3
	}
	st := newStyles(opts.Color)

	var sb strings.Builder
	for i := range files {
		f := &files[i]
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(st.file.Render(truncate(fmt.Sprintf("== %s (%d %s) ==", f.Name, len(f.Records), plural(len(f.Records), "record")), opts.Width)))
		sb.WriteString("\n")
		if f.Err != nil {
			sb.WriteString(st.err.Render(truncate("error: "+textutil.FirstLine(f.Err.Error()), opts.Width)))
			sb.WriteString("\n")
			continue
		}
		for j := range f.Records {
			writeRecord(&sb, st, &f.Records[j], opts)
		}
		for _, n := range f.Notices {
			line := "notice: " + n.Message
			if n.Detail != "" {
				line += " (" + n.Detail + ")"
			}
			sb.WriteString(st.notice.Render(truncate(line, opts.Width)))
			sb.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeRecord(sb *strings.Builder, st styles, r *record.Message, opts TextOptions) {
	indent := strings.Repeat("  ", r.Depth)
	width := max(opts.Width-runewidth.StringWidth(indent), 20)
	line := func(s string) {
		sb.WriteString(indent + s + "\n")
	}

	subject := r.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	title := fmt.Sprintf("[%d] %s", r.Depth, subject)
	if r.Depth > 0 && r.FileName != "" {
		title += " <" + r.FileName + ">"
	}
	line(st.subject.Render(truncate(title, width)))

	field := func(name, value string) {
		if value != "" {
			line(st.label.Render(fmt.Sprintf("%-8s", name+":")) + truncate(value, width-9))
		}
	}
	field("From", r.From)
	field("To", r.To)
	field("CC", r.CC)
	if r.Date != nil {
		field("Date", r.Date.Format("2006-01-02 15:04 MST"))
	}
	field("Format", r.Format)
	if len(r.AttachmentNames) > 0 {
		sizes := make(map[string]int, len(r.AttachmentData))
		for _, a := range r.AttachmentData {
			sizes[a.Name] = len(a.Data)
		}
		parts := make([]string, len(r.AttachmentNames))
		for i, name := range r.AttachmentNames {
			if n, ok := sizes[name]; ok {
				parts[i] = fmt.Sprintf("%s (%s)", name, formatBytes(int64(n)))
			} else {
				parts[i] = name
			}
		}
		field("Files", strings.Join(parts, ", "))
	}

	if opts.PreviewLines < 0 {
		return
	}
	var shown int
	for _, l := range wrapText(strings.TrimSpace(r.BodyText()), width-2) {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if shown == opts.PreviewLines {
			line("| ...")
			break
		}
		line("| " + l)
		shown++
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// formatBytes formats a byte count as a human-readable string (e.g., "1.5 KB").
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// truncate cuts s to maxWidth terminal cells after flattening control
// characters that would break the layout.
func truncate(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// wrapText wraps text to fit within width terminal cells, preferring to
// break at spaces.
func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 80
	}
	var result []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.ReplaceAll(line, "\t", "    ")
		if runewidth.StringWidth(line) <= width {
			result = append(result, line)
			continue
		}
		runes := []rune(line)
		for len(runes) > 0 {
			currentWidth, breakAt, lastSpace := 0, 0, -1
			for i, r := range runes {
				rw := runewidth.RuneWidth(r)
				if currentWidth+rw > width {
					break
				}
				currentWidth += rw
				breakAt = i + 1
				if r == ' ' {
					lastSpace = i
				}
			}
			if lastSpace > breakAt/2 && breakAt < len(runes) {
				breakAt = lastSpace
			}
			if breakAt == 0 {
				// Single character too wide, take it anyway
				breakAt = 1
			}
			result = append(result, string(runes[:breakAt]))
			runes = runes[breakAt:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
	}
	return result
}
