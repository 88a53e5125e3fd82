package filter

import (
	"bytes"
	"regexp"
	"sort"
	"text/template"

	_ "embed"
)

// The wire payload is a byte-exact external interface: the site degrades
// a malformed filter to a silent wildcard search, so the rendered output
// has to come out of the cleanup pass exactly, not just as valid JSON.

//go:embed filter.tmpl
var wireTemplate string

var searchTmpl = template.Must(template.New("filter").Parse(wireTemplate))

// EnabledGrades lists the grade facet values the wire format expects,
// either the individual letters or "All".
func (f *Filter) EnabledGrades() []string {
	if f.Grades.All {
		return []string{"All"}
	}
	var out []string
	for _, letter := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		if enabled, _ := f.Grades.letter(letter); enabled {
			out = append(out, letter)
		}
	}
	return out
}

// PurposeList lists the enabled loan purposes in a stable order.
func (f *Filter) PurposeList() []string {
	var out []string
	for purpose, enabled := range f.Purpose {
		if enabled {
			out = append(out, purpose)
		}
	}
	sort.Strings(out)
	return out
}

// SearchString renders the filter into the payload string the browse
// endpoint expects.
func (f *Filter) SearchString() (string, error) {
	f.Normalize()

	var buf bytes.Buffer
	err := searchTmpl.Execute(&buf, f)
	if err != nil {
		return "", err
	}
	return cleanPayload(buf.String()), nil
}

var (
	newlines         = regexp.MustCompile(`\n`)
	longWhitespace   = regexp.MustCompile(`\s{3,}`)
	hangingComma     = regexp.MustCompile(`,\s*([}\]])`)
	betweenBrackets  = regexp.MustCompile(`([{\[}\]])(,?)\s*([{\[}\]])`)
	aroundStructural = regexp.MustCompile(`\s*([{\[\]}:,])\s*`)
)

// cleanPayload is the deterministic cleanup pass applied to the rendered
// template: strip newlines, collapse whitespace runs, drop hanging commas
// and remove whitespace around structural punctuation.
func cleanPayload(out string) string {
	out = newlines.ReplaceAllString(out, "")
	out = longWhitespace.ReplaceAllString(out, " ")
	out = hangingComma.ReplaceAllString(out, "$1")
	out = betweenBrackets.ReplaceAllString(out, "$1$2$3")
	out = aroundStructural.ReplaceAllString(out, "$1")
	return out
}
