// Package student implements the authenticated scrapers that run on
// top of an established portal session: attendance, exam schedules,
// digital assignments and faculty lookup. Every scraper builds an
// authenticated POST carrying the session's csrf pair and authorized
// id, then parses the server-rendered HTML with tolerant row/cell
// scanning since the portal's markup is not well formed.
package student

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/scrapers/vtop/core"
	"vtopassist-backend/lib/timezone"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/vtop/student")

// requestPacing spaces out authenticated POSTs to mimic human usage;
// the portal throttles clients that fire requests back to back.
var requestPacing = 500 * time.Millisecond

type Client struct {
	session *vtop.Session
	core    *core.Client
	cache   *PageCache
}

type ClientOptions struct {
	// BaseURL overrides the production portal, used by tests.
	BaseURL string
	// Cache, when non-nil, serves faculty detail pages without a
	// network round trip.
	Cache *PageCache
	// Timeout applies per request attempt.
	Timeout time.Duration
}

// NewClient binds a scraper client to an existing session. The
// session must be structurally complete; a partial one is rejected
// here rather than producing garbage downstream.
func NewClient(ctx context.Context, session *vtop.Session, opts ClientOptions) (*Client, error) {
	if err := session.Valid(); err != nil {
		return nil, err
	}
	coreClient, err := core.NewClient(ctx, core.ClientOptions{
		BaseURL: opts.BaseURL,
		Jar:     core.JarFromCookies(session.Cookies),
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		session: session,
		core:    coreClient,
		cache:   opts.Cache,
	}, nil
}

// Session exposes the bound session for callers that persist its
// best-effort caches after a scrape.
func (c *Client) Session() *vtop.Session {
	return c.session
}

func (c *Client) csrfName() string {
	if c.session.Context.CsrfName != "" {
		return c.session.Context.CsrfName
	}
	return "_csrf"
}

// baseForm is the parameter set every authenticated endpoint expects.
func (c *Client) baseForm() url.Values {
	form := url.Values{}
	form.Set("authorizedID", c.session.Context.AuthorizedID)
	form.Set(c.csrfName(), c.session.Context.CsrfValue)
	return form
}

// utcClock is the "x" parameter the portal requires alongside most
// authenticated requests.
func utcClock() string {
	return timezone.Now().UTC().Format(http.TimeFormat)
}

func (c *Client) pace(ctx context.Context) error {
	if requestPacing <= 0 {
		return nil
	}
	timer := time.NewTimer(requestPacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// postForm issues a paced authenticated url-encoded POST and returns
// the response body. Extra parameters are merged over the base set.
func (c *Client) postForm(ctx context.Context, path string, extra url.Values, ajax bool) (string, error) {
	if err := c.pace(ctx); err != nil {
		return "", err
	}

	form := c.baseForm()
	for key, values := range extra {
		form[key] = values
	}

	headers := map[string]string{
		"Referer": c.core.URL("/vtop/content"),
	}
	if ajax {
		headers["X-Requested-With"] = "XMLHttpRequest"
	}

	res, err := c.core.PostForm(ctx, c.core.URL(path), form, headers)
	if err != nil {
		return "", err
	}
	return c.checkBody(path, res.StatusCode(), string(res.Body()))
}

// postMultipart issues a paced authenticated multipart/form-data POST.
// One endpoint (assignments by semester) rejects url-encoded bodies,
// so the encoding is not negotiable there.
func (c *Client) postMultipart(ctx context.Context, path string, extra map[string]string) (string, error) {
	if err := c.pace(ctx); err != nil {
		return "", err
	}

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	// browser-shaped boundary, the portal has been seen rejecting
	// Go's default one
	if boundary, err := random.String(16); err == nil {
		_ = writer.SetBoundary("----WebKitFormBoundary" + boundary)
	}
	fields := map[string]string{
		"authorizedID": c.session.Context.AuthorizedID,
		c.csrfName():   c.session.Context.CsrfValue,
	}
	for key, value := range extra {
		fields[key] = value
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req := c.core.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", writer.FormDataContentType()).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Referer", c.core.URL("/vtop/content")).
		SetBody(body.String())
	res, err := req.Post(c.core.URL(path))
	if err != nil {
		return "", err
	}
	return c.checkBody(path, res.StatusCode(), string(res.Body()))
}

// checkBody turns authentication bounces into ErrSessionInvalid so
// callers can force a re-login, and rejects error statuses outright.
func (c *Client) checkBody(path string, status int, body string) (string, error) {
	if sessionExpired(body) {
		return "", vtop.ErrSessionInvalid
	}
	if status >= 400 {
		return "", fmt.Errorf("portal returned %d for %s", status, path)
	}
	return body, nil
}

// sessionExpired recognizes the shapes the portal uses to bounce an
// expired session: relanding on the login form or an explicit timeout
// message.
func sessionExpired(body string) bool {
	if strings.Contains(body, "vtopLoginForm") || strings.Contains(body, `name="captchaStr"`) {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "session expired") ||
		strings.Contains(lower, "session timed out")
}
