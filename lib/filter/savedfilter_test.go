package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"noteclient/lib/session"
	"noteclient/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestExtractFilterBlock(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		expect string
		fails  bool
	}{
		{
			name:   "flat array",
			in:     `[{"a": 1}] trailing garbage`,
			expect: `[{"a": 1}]`,
		},
		{
			name:   "nested brackets",
			in:     `[{"m_value": [{"value": "B"}]}], "other": 1}`,
			expect: `[{"m_value": [{"value": "B"}]}]`,
		},
		{
			name:   "bracket inside a string",
			in:     `[{"v": "a]b"}]`,
			expect: `[{"v": "a]b"}]`,
		},
		{
			name:   "escaped quote inside a string",
			in:     `[{"v": "a\"]b"}]`,
			expect: `[{"v": "a\"]b"}]`,
		},
		{
			name:   "single quoted string",
			in:     `[{'v': ']'}] rest`,
			expect: `[{'v': ']'}]`,
		},
		{
			name:  "unterminated",
			in:    `[{"a": 1}`,
			fails: true,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			out, err := extractFilterBlock(test.in)
			if test.fails {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expect, out)
		})
	}
}

func savedFilterSetup(t testing.TB, handler http.Handler) (*session.Session, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/filter")
	srv := httptest.NewServer(handler)

	s, err := session.New(session.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	return s, func() {
		srv.Close()
		cleanup()
	}
}

func TestFetchSavedFilter(t *testing.T) {
	body := `{
	"result": "success",
	"filterName": "36 month B notes",
	"filter": [
		{
			"m_id": 39,
			"m_value": [{"value": "Year3"}]
		},
		{
			"m_id": 10,
			"m_value": [{"value": "B"}]
		}
	],
	"extra": "ignored"
}`
	s, cleanup := savedFilterSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/browse/getSavedFilterAj.action", r.URL.Path)
		require.Equal(t, "78123", r.URL.Query().Get("id"))
		fmt.Fprint(w, body)
	}))
	defer cleanup()

	saved, err := FetchSavedFilter(context.Background(), s, 78123)
	require.NoError(t, err)
	require.Equal(t, 78123, saved.ID)
	require.Equal(t, "36 month B notes", saved.Name)

	text, err := saved.SearchString()
	require.NoError(t, err)

	var facets []struct {
		MID int `json:"m_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &facets))
	require.Len(t, facets, 2)
	require.Equal(t, 39, facets[0].MID)
	require.Equal(t, 10, facets[1].MID)
}

func TestFetchSavedFilterNotFound(t *testing.T) {
	s, cleanup := savedFilterSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": "error"}`)
	}))
	defer cleanup()

	_, err := FetchSavedFilter(context.Background(), s, 1)
	var sferr *SavedFilterError
	require.ErrorAs(t, err, &sferr)
}

func TestFetchSavedFilterMissingFacetKeys(t *testing.T) {
	s, cleanup := savedFilterSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": "success", "filterName": "broken", "filter": [{"m_id": 39}]}`)
	}))
	defer cleanup()

	_, err := FetchSavedFilter(context.Background(), s, 1)
	var sferr *SavedFilterError
	require.ErrorAs(t, err, &sferr)
	require.Contains(t, sferr.Message, "m_value")
}

func TestListSavedFilters(t *testing.T) {
	s, cleanup := savedFilterSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/browse/getSavedFiltersAj.action", r.URL.Path)
		fmt.Fprint(w, `{"result": "success", "filters": [{"id": 1, "name": "one"}, {"id": 2, "name": "two"}]}`)
	}))
	defer cleanup()

	filters, err := ListSavedFilters(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, filters, 2)
	require.Equal(t, SavedFilter{ID: 1, Name: "one"}, filters[0])
	require.Equal(t, SavedFilter{ID: 2, Name: "two"}, filters[1])
}
