// Package session maintains an authenticated HTTP session against the
// marketplace website. The site has no login API, so authentication posts
// the HTML login form and decides success by inspecting the redirect
// target and scraping the returned markup for an error block. Sessions
// expire server side; the session re-authenticates itself before the
// next request once the timeout has elapsed.
//
// A Session is not safe for concurrent use: the expiry check and the
// re-authentication it triggers are not synchronized.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"noteclient/lib/htmlutil"
	"noteclient/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("noteclient/session")

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_8_3) AppleWebKit/537.31 (KHTML, like Gecko) Chrome/26.0.1410.65 Safari/537.31"

// DefaultTimeout is how long the server keeps an idle session alive.
const DefaultTimeout = 10 * time.Minute

type Session struct {
	// Timeout is the idle period after which the next request
	// re-authenticates before proceeding.
	Timeout time.Duration

	http    *resty.Client
	baseURL *url.URL

	email    string
	password string

	lastRequest time.Time
	inAuth      bool

	// test seam
	now func() time.Time
}

type Options struct {
	BaseURL string
	// Timeout defaults to DefaultTimeout when zero.
	Timeout time.Duration
}

type followKey struct{}

func New(opts Options) (*Session, error) {
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", userAgent)
	client.SetHeader("referer", opts.BaseURL)
	client.SetTimeout(time.Second * 30)

	s := &Session{
		Timeout: timeout,
		http:    client,
		baseURL: baseURL,
		now:     time.Now,
	}

	// redirects are opt-in per request; when followed they must stay
	// on the site's own host
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		follow, _ := req.Context().Value(followKey{}).(bool)
		if !follow {
			return http.ErrUseLastResponse
		}
		if req.URL.Hostname() != baseURL.Hostname() {
			return fmt.Errorf("redirect to foreign host %q blocked", req.URL.Hostname())
		}
		return nil
	}))

	telemetry.InstrumentResty(client, "noteclient/session/http")

	return s, nil
}

var doubledSlash = regexp.MustCompile(`([^:])//`)

// BuildURL joins the base URL and a path, collapsing any doubled path
// separators (but not the ones after the scheme colon).
func (s *Session) BuildURL(path string) string {
	return doubledSlash.ReplaceAllString(s.baseURL.String()+path, "${1}/")
}

func (s *Session) continueSession(ctx context.Context) error {
	if s.inAuth {
		return nil
	}
	// a session that never authenticated has nothing to refresh
	if s.email == "" {
		return nil
	}
	if s.now().Sub(s.lastRequest) < s.Timeout {
		return nil
	}
	return s.Authenticate(ctx, s.email, s.password)
}

// Request issues an HTTP request against the site. If the session has
// been idle past Timeout it re-authenticates with the stored credentials
// first. Transport failures are reported as *NetworkError.
func (s *Session) Request(ctx context.Context, method, path string, query, form url.Values, followRedirects bool) (*resty.Response, error) {
	err := s.continueSession(ctx)
	if err != nil {
		return nil, err
	}

	method = strings.ToUpper(method)
	link := s.BuildURL(path)

	req := s.http.R().
		SetContext(context.WithValue(ctx, followKey{}, followRedirects))
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if form != nil {
		req.SetFormDataFromValues(form)
	}

	var res *resty.Response
	switch method {
	case resty.MethodGet:
		res, err = req.Get(link)
	case resty.MethodPost:
		res, err = req.Post(link)
	case resty.MethodHead:
		res, err = req.Head(link)
	case resty.MethodDelete:
		res, err = req.Delete(link)
	default:
		return nil, fmt.Errorf("%s is not a supported HTTP method", method)
	}

	// the server saw the attempt either way, so the idle clock resets
	// on failures too
	s.lastRequest = s.now()

	if err != nil {
		return nil, &NetworkError{Op: method, URL: link, Err: err}
	}
	return res, nil
}

func (s *Session) Get(ctx context.Context, path string, query url.Values) (*resty.Response, error) {
	return s.Request(ctx, resty.MethodGet, path, query, nil, false)
}

func (s *Session) Post(ctx context.Context, path string, query, form url.Values) (*resty.Response, error) {
	return s.Request(ctx, resty.MethodPost, path, query, form, false)
}

func (s *Session) Head(ctx context.Context, path string) (*resty.Response, error) {
	return s.Request(ctx, resty.MethodHead, path, nil, nil, false)
}

var tabRun = regexp.MustCompile(`\t+`)
var newlineRun = regexp.MustCompile(`\s*\n+\s*`)

func scrapeLoginErrors(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	sel := doc.Find("#master_error-list")
	if len(sel.Nodes) == 0 {
		return "", nil
	}
	text := strings.TrimSpace(htmlutil.GetText(sel.Nodes[0]))
	text = tabRun.ReplaceAllString(text, "")
	text = newlineRun.ReplaceAllString(text, " * ")
	return text, nil
}

// Authenticate posts the login form and preserves the cookies for future
// requests. There is no formal login endpoint, so failure is detected by
// scraping the returned markup for an error block and checking whether
// the redirect leads back to the login page.
func (s *Session) Authenticate(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "session:Authenticate")
	defer span.End()

	s.email = email
	s.password = password

	// fresh cookie state per login attempt
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	s.http.SetCookieJar(jar)

	s.inAuth = true
	defer func() { s.inAuth = false }()

	s.lastRequest = s.now()

	res, err := s.Post(ctx, "/account/login.action", nil, url.Values{
		"login_email":    {email},
		"login_password": {password},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return err
	}

	responseURL := res.RawResponse.Request.URL.String()
	if res.StatusCode() == http.StatusFound {
		responseURL = res.Header().Get("location")
	}
	parts := strings.Split(responseURL, "/")
	endpoint := parts[len(parts)-1]

	errText, err := scrapeLoginErrors(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse login response html")
		return err
	}
	if errText != "" {
		span.SetStatus(codes.Error, "login rejected")
		return &AuthenticationError{Message: errText}
	}

	// no error block, but bounced back to the login page
	if endpoint == "login.action" {
		span.SetStatus(codes.Error, "redirected back to login")
		return &AuthenticationError{Message: "unknown, redirected back to the login page without an error message"}
	}

	return nil
}

// IsSiteAvailable reports whether the site responds at all. Useful as a
// cheap connectivity probe; every failure maps to false.
func (s *Session) IsSiteAvailable(ctx context.Context) bool {
	res, err := s.http.R().SetContext(ctx).Head(s.baseURL.String())
	if err != nil {
		return false
	}
	status := res.StatusCode()
	return status >= 200 && status < 400
}

// ClearSessionOrder discards any order-building state the server holds
// for this session.
func (s *Session) ClearSessionOrder(ctx context.Context) error {
	_, err := s.Get(ctx, "/portfolio/confirmStartNewPortfolio.action", nil)
	return err
}

// JSONSuccess reports whether an AJAX response body decodes to an object
// whose "result" key equals "success".
func JSONSuccess(body []byte) bool {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false
	}
	result, ok := decoded["result"].(string)
	return ok && result == "success"
}
