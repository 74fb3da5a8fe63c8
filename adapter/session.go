package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/farescout/farescout/core"
)

// Session is the page-interaction surface the template crawls through.
// HTTPSession implements it for plain-HTML sites; browser-automation
// backends plug in behind the same interface.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	SetUserAgent(ua string)
	CurrentURL() string
	Close() error
}

// SessionFactory creates a session on demand. The template acquires lazily:
// no session is opened until admission has passed.
type SessionFactory func() (Session, error)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// HTTPSession drives plain-HTML sites over HTTP with a cookie jar and
// browser-like headers. Form interaction is simulated: Fill collects
// values, Click on the submit control encodes them onto the search URL.
type HTTPSession struct {
	client    *http.Client
	userAgent string
	searchURL string

	currentURL string
	body       string
	fields     map[string]string
	closed     bool

	logger core.Logger
}

// NewHTTPSession creates a session submitting to searchURL.
func NewHTTPSession(searchURL string, logger core.Logger) (*HTTPSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HTTPSession{
		client: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		userAgent: defaultUserAgent,
		searchURL: searchURL,
		fields:    make(map[string]string),
		logger:    logger,
	}, nil
}

// SetUserAgent overrides the browser identity for subsequent requests.
func (s *HTTPSession) SetUserAgent(ua string) {
	if ua != "" {
		s.userAgent = ua
	}
}

// CurrentURL returns the last navigated URL
func (s *HTTPSession) CurrentURL() string { return s.currentURL }

// Navigate fetches the page. HTTP pushback maps onto the taxonomy here:
// 429 is rate_limit, 403 is authentication, 5xx is network.
func (s *HTTPSession) Navigate(ctx context.Context, pageURL string) error {
	if s.closed {
		return core.ErrSessionClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return core.NewCrawlError("session.Navigate", "", core.CategoryNavigation, err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return core.NewCrawlError("session.Navigate", "", core.CategoryNetwork,
			fmt.Errorf("%v: %w", err, core.ErrConnectionFailed))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.NewCrawlError("session.Navigate", "", core.CategoryRateLimit,
			fmt.Errorf("status 429: %w", core.ErrRateLimited))
	case resp.StatusCode == http.StatusForbidden:
		return core.NewCrawlError("session.Navigate", "", core.CategoryAuthentication,
			fmt.Errorf("status 403"))
	case resp.StatusCode >= 500:
		return core.NewCrawlError("session.Navigate", "", core.CategoryNetwork,
			fmt.Errorf("status %d: %w", resp.StatusCode, core.ErrConnectionFailed))
	case resp.StatusCode >= 400:
		return core.NewCrawlError("session.Navigate", "", core.CategoryNavigation,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return core.NewCrawlError("session.Navigate", "", core.CategoryNetwork, err)
	}

	s.currentURL = pageURL
	s.body = string(data)
	s.logger.Debug("Page fetched", map[string]interface{}{
		"operation": "session_navigate",
		"url":       pageURL,
		"bytes":     len(data),
	})
	return nil
}

func (s *HTTPSession) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,fa;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
}

var fieldNameRe = regexp.MustCompile(`name=['"]?([\w-]+)`)

// fieldName derives the query parameter name from a selector:
// input[name=origin] uses "origin", #origin uses "origin", anything else
// uses the selector text itself.
func fieldName(selector string) string {
	if m := fieldNameRe.FindStringSubmatch(selector); m != nil {
		return m[1]
	}
	if strings.HasPrefix(selector, "#") {
		return strings.TrimPrefix(selector, "#")
	}
	return selector
}

// Fill stages a form value.
func (s *HTTPSession) Fill(ctx context.Context, selector, value string) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	s.fields[fieldName(selector)] = value
	return nil
}

// Click submits the staged values as query parameters on the search URL.
// Clicks on non-submit elements are no-ops for an HTTP session.
func (s *HTTPSession) Click(ctx context.Context, selector string) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	if len(s.fields) == 0 {
		return nil
	}

	base := s.searchURL
	if base == "" {
		base = s.currentURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return core.NewCrawlError("session.Click", "", core.CategoryFormFilling, err)
	}
	q := u.Query()
	for name, value := range s.fields {
		q.Set(name, value)
	}
	u.RawQuery = q.Encode()
	return s.Navigate(ctx, u.String())
}

// WaitVisible checks for the selector in the current document. An HTTP
// session has nothing to wait on; absence after the fetch is a navigation
// failure.
func (s *HTTPSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if s.closed {
		return core.ErrSessionClosed
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.body))
	if err != nil {
		return core.NewCrawlError("session.WaitVisible", "", core.CategoryParsing, err)
	}
	if doc.Find(selector).Length() == 0 {
		return core.NewCrawlError("session.WaitVisible", "", core.CategoryTimeout,
			fmt.Errorf("selector %q not present: %w", selector, core.ErrTimeout))
	}
	return nil
}

// HTML returns the current page body.
func (s *HTTPSession) HTML(ctx context.Context) (string, error) {
	if s.closed {
		return "", core.ErrSessionClosed
	}
	return s.body, nil
}

// Close releases the session.
func (s *HTTPSession) Close() error {
	s.closed = true
	s.fields = nil
	s.body = ""
	return nil
}
