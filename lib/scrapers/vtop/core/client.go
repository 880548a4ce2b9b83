// Package core implements the portal's session acquisition: the
// retrying cookie-aware HTTP client, the multi-step login handshake
// and the dashboard context extraction that together produce a usable
// Session.
package core

import (
	"context"
	"net/http"
	"net/url"
	"time"
	"vtopassist-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/vtop/core")

const (
	BaseURL    = "https://vtop.vit.ac.in"
	AppBaseURL = BaseURL + "/vtop/"

	loginPath   = "/vtop/login"
	captchaPath = "/vtop/get/new/captcha"
	logoutPath  = "/vtop/logout"
	contentPath = "/vtop/content"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

	maxAttempts   = 3
	retryWaitBase = 300 * time.Millisecond
	maxRedirects  = 4
)

// Client wraps resty with the portal's quirks: a serializable cookie
// jar applied on every hop, bounded retry with exponential backoff on
// transient failures, and manual redirect walking (the portal chains
// several 3xx hops before the login form and the jar must be applied
// on each one).
type Client struct {
	BaseURL *url.URL
	Http    *resty.Client
	Jar     *Jar
}

type ClientOptions struct {
	BaseURL string
	// Jar may be pre-seeded from a persisted session; nil starts empty.
	Jar *Jar
	// Timeout applies per attempt, defaulting to 30s.
	Timeout time.Duration
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	jar := opts.Jar
	if jar == nil {
		jar = NewJar()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	// resty installs a net/http cookiejar by default; cookies must flow
	// through the serializable Jar alone or replayed headers duplicate
	client.SetCookieJar(nil)
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(timeout)

	// redirects are walked by hand in followRedirects
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(
		func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	))

	// transient failures (timeouts, resets, 5xx) retry with backoff;
	// 4xx and application-level failures propagate immediately
	client.SetRetryCount(maxAttempts - 1)
	client.SetRetryWaitTime(retryWaitBase)
	client.SetRetryMaxWaitTime(retryWaitBase * 8)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res.StatusCode() >= 500 && res.StatusCode() < 600
	})

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if jar.Len() > 0 {
			req.SetHeader("Cookie", jar.Header())
		}
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		jar.Collect(res.Header())
		return nil
	})

	telemetry.InstrumentResty(client, "scrapers/vtop/http")

	return &Client{
		BaseURL: baseURL,
		Http:    client,
		Jar:     jar,
	}, nil
}

// URL resolves a portal path against the client's base.
func (c *Client) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.BaseURL.String() + path
	}
	return c.BaseURL.ResolveReference(ref).String()
}

// Get issues a GET without following redirects.
func (c *Client) Get(ctx context.Context, link string) (*resty.Response, error) {
	return c.Http.R().
		SetContext(ctx).
		Get(link)
}

// PostForm issues an x-www-form-urlencoded POST without following
// redirects.
func (c *Client) PostForm(ctx context.Context, link string, form url.Values, headers map[string]string) (*resty.Response, error) {
	req := c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(form.Encode())
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	return req.Post(link)
}

// FollowRedirects walks a chain of 3xx responses by hand, re-applying
// the jar each hop. The portal issues several chained redirects before
// reaching either the captcha-bearing login form or the pre-login
// interstitial.
func (c *Client) FollowRedirects(ctx context.Context, res *resty.Response) (*resty.Response, error) {
	current := res
	for hop := 0; hop < maxRedirects; hop++ {
		status := current.StatusCode()
		location := current.Header().Get("Location")
		if status < 300 || status >= 400 || location == "" {
			return current, nil
		}
		next, err := c.resolve(current, location)
		if err != nil {
			return current, err
		}
		switch status {
		case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			// 307/308 must be replayed with the original method and body
			current, err = c.replay(ctx, current.Request, next)
		default:
			current, err = c.Get(ctx, next)
		}
		if err != nil {
			return current, err
		}
	}
	return current, nil
}

func (c *Client) replay(ctx context.Context, prev *resty.Request, link string) (*resty.Response, error) {
	req := c.Http.R().SetContext(ctx)
	if ct := prev.Header.Get("Content-Type"); ct != "" {
		req.SetHeader("Content-Type", ct)
	}
	if prev.Body != nil {
		req.SetBody(prev.Body)
	}
	return req.Execute(prev.Method, link)
}

func (c *Client) resolve(res *resty.Response, location string) (string, error) {
	base := c.BaseURL
	if res.Request != nil && res.Request.RawRequest != nil {
		base = res.Request.RawRequest.URL
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// FinalURL reports where a response actually came from once redirects
// have been walked.
func FinalURL(res *resty.Response) string {
	if res == nil || res.Request == nil {
		return ""
	}
	if res.Request.RawRequest != nil && res.Request.RawRequest.URL != nil {
		return res.Request.RawRequest.URL.String()
	}
	return res.Request.URL
}
