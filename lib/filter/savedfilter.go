package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"noteclient/lib/session"
)

// SavedFilter is a filter definition created and stored on the site
// itself, fetched by id. It cannot be inspected or modified: the wire
// text is kept byte for byte as the server returned it, because the
// search endpoint silently falls back to a wildcard match if any key
// inside the blob is reordered or reformatted.
type SavedFilter struct {
	ID   int
	Name string

	text string
}

// SavedFilterError wraps failures to fetch or parse a saved filter.
type SavedFilterError struct {
	Message  string
	Response string
}

func (e *SavedFilterError) Error() string {
	return e.Message
}

var savedFilterPrefix = regexp.MustCompile(`(?s)^.*?,\s*["']filter["']:\s*\[`)

// FetchSavedFilter loads a saved filter definition from the server.
func FetchSavedFilter(ctx context.Context, s *session.Session, id int) (*SavedFilter, error) {
	res, err := s.Get(ctx, "/browse/getSavedFilterAj.action", url.Values{
		"id": {strconv.Itoa(id)},
	})
	if err != nil {
		return nil, err
	}
	if !session.JSONSuccess(res.Body()) {
		return nil, &SavedFilterError{
			Message:  fmt.Sprintf("a saved filter could not be found for id %d", id),
			Response: string(res.Body()),
		}
	}

	var envelope struct {
		FilterName string `json:"filterName"`
	}
	err = json.Unmarshal(res.Body(), &envelope)
	if err != nil {
		return nil, err
	}

	// cut everything before the "filter": [...] value, keeping the
	// opening bracket
	text := newlines.ReplaceAllString(string(res.Body()), "")
	loc := savedFilterPrefix.FindStringIndex(text)
	if loc == nil {
		return nil, &SavedFilterError{
			Message:  "no filter block found in the saved filter response",
			Response: string(res.Body()),
		}
	}
	text = "[" + text[loc[1]:]

	block, err := extractFilterBlock(text)
	if err != nil {
		return nil, &SavedFilterError{
			Message:  fmt.Sprintf("could not parse filter from the response: %v", err),
			Response: string(res.Body()),
		}
	}

	// the extracted text must still be a list of {m_id, m_value} facets,
	// even though it is never re-serialized
	var check []map[string]json.RawMessage
	err = json.Unmarshal([]byte(block), &check)
	if err != nil {
		return nil, &SavedFilterError{
			Message:  fmt.Sprintf("extracted filter block is not valid JSON: %v", err),
			Response: block,
		}
	}
	if len(check) == 0 {
		return nil, &SavedFilterError{Message: "extracted filter block is empty", Response: block}
	}
	for _, facet := range check {
		if _, ok := facet["m_id"]; !ok {
			return nil, &SavedFilterError{Message: "expecting an m_id property in each facet", Response: block}
		}
		if _, ok := facet["m_value"]; !ok {
			return nil, &SavedFilterError{Message: "expecting an m_value property in each facet", Response: block}
		}
	}

	return &SavedFilter{
		ID:   id,
		Name: envelope.FilterName,
		text: block,
	}, nil
}

// SearchString returns the wire text exactly as the server provided it.
func (f *SavedFilter) SearchString() (string, error) {
	return f.text, nil
}

// Validate is a no-op: a saved filter's criteria live only on the server,
// so there is nothing to re-check the results against.
func (f *SavedFilter) Validate(loans []Loan) error {
	return nil
}

// A generic JSON decode would reorder the keys inside the filter blob,
// which the server treats as a different (broken) filter. This small
// scanner walks the text instead, tracking quotes, escapes and a stack
// of expected closing brackets, and stops at the end of the top level
// array. It is a deliberate exception to using a real JSON parser.

type scanState int

const (
	scanNormal scanState = iota
	scanQuote
	scanEscape
)

func extractFilterBlock(text string) (string, error) {
	var out []byte
	var stack []byte
	var quote byte
	state := scanNormal
	started := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		out = append(out, c)

		switch state {
		case scanEscape:
			state = scanQuote

		case scanQuote:
			switch c {
			case '\\':
				state = scanEscape
			case quote:
				state = scanNormal
			}

		case scanNormal:
			switch c {
			case '\'', '"':
				state = scanQuote
				quote = c
			case '[':
				stack = append(stack, ']')
				started = true
			case '{':
				stack = append(stack, '}')
				started = true
			case ']', '}':
				if len(stack) > 0 && c == stack[len(stack)-1] {
					stack = stack[:len(stack)-1]
				}
			}
			if started && len(stack) == 0 {
				return string(out), nil
			}
		}
	}

	return "", fmt.Errorf("unterminated filter block")
}

// ListSavedFilters returns the ids and names of every filter saved on
// the account.
func ListSavedFilters(ctx context.Context, s *session.Session) ([]SavedFilter, error) {
	res, err := s.Get(ctx, "/browse/getSavedFiltersAj.action", nil)
	if err != nil {
		return nil, err
	}
	if !session.JSONSuccess(res.Body()) {
		return nil, &SavedFilterError{
			Message:  "could not list saved filters",
			Response: string(res.Body()),
		}
	}

	var envelope struct {
		Filters []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"filters"`
	}
	err = json.Unmarshal(res.Body(), &envelope)
	if err != nil {
		return nil, err
	}

	out := make([]SavedFilter, len(envelope.Filters))
	for i, f := range envelope.Filters {
		out[i] = SavedFilter{ID: f.ID, Name: f.Name}
	}
	return out, nil
}
