package mime

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jhillyerd/enmime/mediatype"
)

// parseMediaType returns the lower-cased media type and its parameters.
// Unparseable or missing values yield def. Parameter names are lower-case.
func parseMediaType(value, def string) (string, map[string]string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, map[string]string{}
	}
	mtype, params := parseParams(value)
	if !strings.Contains(mtype, "/") {
		mtype = def
	}
	return strings.ToLower(mtype), params
}

// parseDisposition returns the disposition type ("inline", "attachment")
// and its parameters.
func parseDisposition(value string) (string, map[string]string) {
	disp, params := parseParams(strings.TrimSpace(value))
	return strings.ToLower(disp), params
}

// parseParams runs the strict parser and fills in whatever it rejected or
// dropped from a loose scan, so stray separators do not lose a boundary.
func parseParams(value string) (string, map[string]string) {
	head, params, _, err := mediatype.Parse(value)
	looseHead, loose := looseParams(value)
	if err != nil || head == "" {
		head = looseHead
	}
	out := lowerKeys(params)
	for k, v := range loose {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return head, out
}

var looseParamRe = regexp.MustCompile(`(?i)([a-z0-9_.*-]+)\s*=\s*("(?:[^"\\]|\\.)*"|[^;,\s]*)`)

// looseParams scans "type; a=b; c="d"" without failing on stray
// separators, for values the strict parser rejects.
func looseParams(value string) (string, map[string]string) {
	head, rest, _ := strings.Cut(value, ";")
	params := map[string]string{}
	for _, m := range looseParamRe.FindAllStringSubmatch(rest, -1) {
		v := m[2]
		if uq, err := strconv.Unquote(v); err == nil && strings.HasPrefix(v, `"`) {
			v = uq
		} else {
			v = strings.Trim(v, `"`)
		}
		name := strings.ToLower(m[1])
		if _, ok := params[name]; !ok {
			params[name] = v
		}
	}
	return strings.TrimSpace(head), params
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// extValue is an RFC 2231 extended parameter value, percent-decoded but not
// yet charset-decoded.
type extValue struct {
	charset string
	value   []byte
}

var extParamRe = regexp.MustCompile(`(?i)(?:^|;)\s*([a-z0-9_.-]+)\*(?:(\d+)(\*)?)?\s*=\s*("(?:[^"\\]|\\.)*"|[^;]*)`)

// hasExtParam reports whether value carries name* or name*N parameters.
func hasExtParam(value, name string) bool {
	_, ok := extParam(value, name)
	return ok
}

// extParam collects the RFC 2231 form of parameter name from a raw header
// value: either name*=charset'lang'%XX or continuations name*0*=, name*1=.
// The charset comes from the first section.
func extParam(value, name string) (extValue, bool) {
	type section struct {
		n       int
		encoded bool
		text    string
	}
	var sections []section
	for _, m := range extParamRe.FindAllStringSubmatch(value, -1) {
		if !strings.EqualFold(m[1], name) {
			continue
		}
		s := section{text: strings.TrimSpace(m[4])}
		if m[2] == "" {
			s.encoded = true
		} else {
			s.n, _ = strconv.Atoi(m[2])
			s.encoded = m[3] != ""
		}
		if strings.HasPrefix(s.text, `"`) {
			if uq, err := strconv.Unquote(s.text); err == nil {
				s.text = uq
			} else {
				s.text = strings.Trim(s.text, `"`)
			}
		}
		sections = append(sections, s)
	}
	if len(sections) == 0 {
		return extValue{}, false
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].n < sections[j].n })

	var out extValue
	for i, s := range sections {
		text := s.text
		if i == 0 && s.encoded {
			if parts := strings.SplitN(text, "'", 3); len(parts) == 3 {
				out.charset = parts[0]
				text = parts[2]
			}
		}
		if s.encoded {
			out.value = append(out.value, percentDecode(text)...)
		} else {
			out.value = append(out.value, text...)
		}
	}
	return out, true
}

func percentDecode(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(v))
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}
