package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Some providers emit tool invocations inline in the visible answer as
// XML-ish elements instead of native tool-use blocks. The extractor
// recovers the first such invocation whose tag matches a registered tool
// and strips it from the text.

var xmlParamRe = regexp.MustCompile(`<(\w+)>([\s\S]*?)</(\w+)>`)

// Tags that show up in prose or markup and are never tool calls, no
// matter what the registry says.
var xmlSkipTags = map[string]bool{
	"thinking": true, "p": true, "div": true, "span": true, "br": true,
	"code": true, "pre": true, "b": true, "i": true, "em": true,
	"strong": true, "ul": true, "ol": true, "li": true, "a": true,
	"h1": true, "h2": true, "h3": true, "table": true, "tr": true,
	"td": true, "th": true, "blockquote": true,
}

// XMLToolExtractor scans free text for tool invocations written as
// `<tool_name><param>value</param></tool_name>`.
type XMLToolExtractor struct {
	known []string
}

func NewXMLToolExtractor(tools []ToolSpec) *XMLToolExtractor {
	var known []string
	for _, t := range tools {
		if t.Name == "" || xmlSkipTags[t.Name] {
			continue
		}
		known = append(known, t.Name)
	}
	return &XMLToolExtractor{known: known}
}

// Extract returns the text surrounding the earliest complete tool element
// and the extracted call. Only the first match is taken; any further
// elements stay in the trailing text. Call is nil when nothing matches.
func (x *XMLToolExtractor) Extract(text string) (before, after string, call *ToolCall) {
	start, end := -1, -1
	var name string
	for _, candidate := range x.known {
		open := "<" + candidate + ">"
		idx := strings.Index(text, open)
		if idx < 0 {
			continue
		}
		closing := "</" + candidate + ">"
		rel := strings.Index(text[idx+len(open):], closing)
		if rel < 0 {
			continue
		}
		if start < 0 || idx < start {
			start = idx
			end = idx + len(open) + rel + len(closing)
			name = candidate
		}
	}
	if start < 0 {
		return text, "", nil
	}

	body := text[start+len(name)+2 : end-len(name)-3]
	raw, err := json.Marshal(parseXMLParams(body))
	if err != nil {
		return text, "", nil
	}
	return text[:start], text[end:], &ToolCall{
		ID:        "xmlcall_" + uuid.NewString()[:8],
		Name:      name,
		Arguments: raw,
	}
}

// parseXMLParams turns the element body into an argument map. Child
// elements become named parameters; a body with no child elements becomes
// a single "content" parameter.
func parseXMLParams(body string) map[string]any {
	args := map[string]any{}
	for _, m := range xmlParamRe.FindAllStringSubmatch(body, -1) {
		if m[1] != m[3] {
			continue
		}
		args[m[1]] = parseXMLValue(strings.TrimSpace(m[2]))
	}
	if len(args) == 0 {
		if trimmed := strings.TrimSpace(body); trimmed != "" {
			args["content"] = parseXMLValue(trimmed)
		}
	}
	return args
}

// parseXMLValue interprets a parameter body as JSON when possible and
// falls back to the raw string.
func parseXMLValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
