package rtf

import (
	"bytes"
	"strings"
)

type mode int

const (
	modeText mode = iota
	modeHTML
)

// IsEncapsulatedHTML reports whether the RTF was generated from HTML.
func IsEncapsulatedHTML(data []byte) bool {
	return bytes.Contains(data, []byte(`\fromhtml`))
}

// ExtractHTML recovers the original HTML from RTF produced with \fromhtml1.
// The {\*\htmltag} groups carry the markup; text outside \htmlrtf regions
// is the visible content. It returns false when the RTF is not
// HTML-encapsulated or yields nothing.
func ExtractHTML(data []byte) (string, bool) {
	if !IsEncapsulatedHTML(data) {
		return "", false
	}
	out := strings.TrimSpace(walk(data, modeHTML))
	return out, out != ""
}

// ExtractText returns the visible text of an RTF document. Paragraph marks
// become newlines; font tables, pictures and other destinations are
// skipped.
func ExtractText(data []byte) string {
	return strings.TrimRight(walk(data, modeText), "\r\n ")
}

func walk(data []byte, m mode) string {
	s := &scanner{data: data}
	o := newOutput(data)
	stack := []group{{uc: 1}}
	seenTag := false
	fallback := 0 // characters still to drop after a \uN

	cur := func() *group { return &stack[len(stack)-1] }

	// visible reports whether content at the current position is emitted.
	visible := func() bool {
		g := cur()
		if g.skip {
			return false
		}
		if m == modeText {
			return true
		}
		if g.htmltag {
			return true
		}
		return seenTag && !g.htmlrtf
	}

	for {
		t, ok := s.next()
		if !ok {
			break
		}

		g := cur()
		if g.first && t.kind != tokGroupStart {
			switch {
			case t.kind == tokSymbol && t.b == '*':
				g.starred = true
				continue
			case t.kind == tokWord && g.starred && t.word == "htmltag":
				g.first = false
				if m == modeHTML && !g.skip {
					g.htmltag = true
					seenTag = true
				} else {
					g.skip = true
				}
				continue
			case g.starred:
				g.skip = true
			case t.kind == tokWord && destinations[t.word]:
				g.skip = true
			}
			g.first = false
		}

		switch t.kind {
		case tokGroupStart:
			next := *g
			next.first = true
			next.starred = false
			stack = append(stack, next)
			continue
		case tokGroupEnd:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			fallback = 0
			continue
		}

		if t.kind == tokWord && t.word == "htmlrtf" {
			g.htmlrtf = !t.hasParam || t.param != 0
			continue
		}
		if t.kind == tokWord && t.word == "uc" && t.hasParam {
			g.uc = max(t.param, 0)
			continue
		}

		if fallback > 0 && (t.kind == tokText || t.kind == tokHex || t.kind == tokSymbol) {
			fallback--
			continue
		}
		if !visible() {
			continue
		}

		switch t.kind {
		case tokText:
			o.raw(t.b)
		case tokHex:
			o.raw(t.b)
		case tokSymbol:
			switch t.b {
			case '\\', '{', '}':
				o.raw(t.b)
			case '~':
				if m == modeHTML && !g.htmltag {
					o.str("&nbsp;")
				} else {
					o.str("\u00a0")
				}
			case '_':
				o.str("\u2011")
			}
		case tokWord:
			switch t.word {
			case "par", "line":
				if m == modeHTML {
					o.str("\r\n")
				} else {
					o.str("\n")
				}
			case "tab":
				o.str("\t")
			case "u":
				if t.hasParam {
					o.str(string(unicodeRune(t.param)))
					fallback = g.uc
				}
			default:
				if sym, ok := symbols[t.word]; ok && m == modeText {
					o.str(sym)
				}
			}
		}
	}
	return o.String()
}
