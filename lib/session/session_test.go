package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"noteclient/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "test@test.com"
	testPassword = "supersecret"
)

type stubSite struct {
	logins    atomic.Int32
	loginBody string
	// loginRedirect overrides the 302 target on successful login
	loginRedirect string
}

func (s *stubSite) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/account/login.action", func(w http.ResponseWriter, r *http.Request) {
		s.logins.Add(1)
		err := r.ParseForm()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("login_email") != testEmail || r.PostForm.Get("login_password") != testPassword {
			fmt.Fprint(w, s.loginBody)
			return
		}
		target := "/account/summary.action"
		if s.loginRedirect != "" {
			target = s.loginRedirect
		}
		http.SetCookie(w, &http.Cookie{Name: "LC_FIRSTNAME", Value: "John"})
		w.Header().Set("location", target)
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Hello")
	})
	return mux
}

func setup(t testing.TB) (*Session, *stubSite, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/session")

	site := &stubSite{}
	srv := httptest.NewServer(site.handler())

	s, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	return s, site, func() {
		srv.Close()
		cleanup()
	}
}

func TestAuthenticate(t *testing.T) {
	s, site, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	err := s.Authenticate(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, int32(1), site.logins.Load())
}

func TestAuthenticateBadPassword(t *testing.T) {
	s, site, cleanup := setup(t)
	defer cleanup()

	site.loginBody = `<html><body>
	<ul id="master_error-list">
		<li>
			Please check your email and password and try again.
		</li>
	</ul>
	</body></html>`

	err := s.Authenticate(context.Background(), testEmail, "wrong")
	require.Error(t, err)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "Please check your email and password and try again.", authErr.Message)
}

func TestAuthenticateMultipleErrors(t *testing.T) {
	s, site, cleanup := setup(t)
	defer cleanup()

	site.loginBody = `<ul id="master_error-list">
		<li>First problem.</li>
		<li>Second problem.</li>
	</ul>`

	err := s.Authenticate(context.Background(), testEmail, "wrong")
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "First problem. * Second problem.", authErr.Message)
}

func TestAuthenticateBouncedToLogin(t *testing.T) {
	s, site, cleanup := setup(t)
	defer cleanup()

	// no error block, but the server sends us straight back to the
	// login page
	site.loginRedirect = "/account/login.action"

	err := s.Authenticate(context.Background(), testEmail, testPassword)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, authErr.Message, "redirected back to the login page")
}

func TestReauthenticateAfterIdle(t *testing.T) {
	s, site, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	clock := time.Now()
	s.now = func() time.Time { return clock }
	s.Timeout = time.Minute

	err := s.Authenticate(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, int32(1), site.logins.Load())

	// within the idle window: no re-login
	_, err = s.Get(ctx, "/browse/cashBalanceAj.action", nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), site.logins.Load())

	// past the idle window: exactly one re-login before the request
	clock = clock.Add(2 * time.Minute)
	_, err = s.Get(ctx, "/browse/cashBalanceAj.action", nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), site.logins.Load())
}

func TestNoReauthWithoutCredentials(t *testing.T) {
	s, site, cleanup := setup(t)
	defer cleanup()

	clock := time.Now()
	s.now = func() time.Time { return clock }
	s.Timeout = time.Minute
	clock = clock.Add(time.Hour)

	_, err := s.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	require.Equal(t, int32(0), site.logins.Load())
}

func TestBuildURL(t *testing.T) {
	s, _, cleanup := setup(t)
	defer cleanup()

	base := s.baseURL.String()
	cases := []struct {
		path   string
		expect string
	}{
		{"/browse/cashBalanceAj.action", base + "/browse/cashBalanceAj.action"},
		{"//browse/cashBalanceAj.action", base + "/browse/cashBalanceAj.action"},
		{"/browse//cashBalanceAj.action", base + "/browse/cashBalanceAj.action"},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, s.BuildURL(test.path))
	}
}

func TestRequestRejectsUnknownMethod(t *testing.T) {
	s, _, cleanup := setup(t)
	defer cleanup()

	_, err := s.Request(context.Background(), "PATCH", "/", nil, nil, false)
	require.Error(t, err)
}

func TestRequestSendsForm(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
	}))
	defer srv.Close()

	s, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = s.Post(context.Background(), "/x", nil, url.Values{"a": {"1"}})
	require.NoError(t, err)
	require.Equal(t, "1", got.Get("a"))
}

func TestIsSiteAvailable(t *testing.T) {
	s, _, cleanup := setup(t)
	defer cleanup()

	require.True(t, s.IsSiteAvailable(context.Background()))

	down, err := New(Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	require.False(t, down.IsSiteAvailable(context.Background()))
}

func TestJSONSuccess(t *testing.T) {
	cases := []struct {
		body   string
		expect bool
	}{
		{`{"result": "success"}`, true},
		{`{"result": "success", "cashBalance": "$20"}`, true},
		{`{"result": "error"}`, false},
		{`{"result": 1}`, false},
		{`{}`, false},
		{`not json`, false},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, JSONSuccess([]byte(test.body)), test.body)
	}
}
