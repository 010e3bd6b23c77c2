// Package prompt builds model prompts from static templates with {name} placeholders.
package prompt

import (
	"sort"
	"strings"
)

// ReplacePromptParams substitutes the first occurrence of {key} for every key in params.
//
// Substitution is a single pass over the original template: inserted values are
// never scanned again, so a value containing "{other}" is kept verbatim. A
// placeholder that appears more than once is only replaced the first time.
// Placeholders without a matching key are left untouched.
func ReplacePromptParams(template string, params map[string]string) string {
	if len(params) == 0 {
		return template
	}

	type span struct {
		start, end int
		value      string
	}
	spans := make([]span, 0, len(params))
	for key, value := range params {
		placeholder := "{" + key + "}"
		idx := strings.Index(template, placeholder)
		if idx < 0 {
			continue
		}
		spans = append(spans, span{start: idx, end: idx + len(placeholder), value: value})
	}
	if len(spans) == 0 {
		return template
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(template))
	cursor := 0
	for _, s := range spans {
		// Keys containing braces can produce overlapping matches; first one wins.
		if s.start < cursor {
			continue
		}
		b.WriteString(template[cursor:s.start])
		b.WriteString(s.value)
		cursor = s.end
	}
	b.WriteString(template[cursor:])
	return b.String()
}
