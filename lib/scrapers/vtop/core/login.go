package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"vtopassist-backend/lib/scrapers/vtop"
	"vtopassist-backend/lib/scrapers/vtop/captcha"
	"vtopassist-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoLoginForm        = errors.New("portal did not serve a login form")
	ErrNoCsrfToken        = errors.New("login form has no csrf token")
	ErrNoCaptcha          = errors.New("portal did not serve a captcha image")
	ErrCaptchaUnsolvable  = errors.New("unable to solve captcha")
)

const captchaLength = 6

// tunable so the login tests don't spend wall-clock time sleeping
var (
	captchaSettleDelay = 800 * time.Millisecond
	loginRetryDelay    = time.Second
)

var (
	captchaSrcRegex = regexp.MustCompile(`(?i)src\s*=\s*["'](data:image/[^"']+)["']`)
	alertRegex      = regexp.MustCompile(`(?i)alert\s*\(\s*["']([^"']*)["']\s*\)`)
)

// LoginResult reports the outcome of a full login attempt sequence.
// Success false with RequiresRetry true means the failure was
// transient (captcha rejections, portal error bounces) and the caller
// may try again; RequiresRetry false means retrying with the same
// credentials will not help.
type LoginResult struct {
	Success       bool              `json:"success"`
	Cookies       map[string]string `json:"cookies,omitempty"`
	Context       vtop.Context      `json:"context,omitempty"`
	DashboardHTML string            `json:"-"`
	Error         string            `json:"error,omitempty"`
	RequiresRetry bool              `json:"requiresRetry,omitempty"`
}

// Login drives the portal's login handshake end to end: load the
// login form (walking the pre-login interstitial if the portal serves
// one), fetch and solve a fresh captcha, submit credentials, and
// interpret the landing page. Captcha rejections retry up to three
// times with a fresh captcha on the same cookie jar; credential
// failures stop immediately.
func (c *Client) Login(ctx context.Context, username string, password string) (LoginResult, error) {
	ctx, span := tracer.Start(ctx, "vtop.login")
	defer span.End()

	var lastFailure string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		span.SetAttributes(attribute.Int("login.attempt", attempt))
		if attempt > 1 {
			if err := sleep(ctx, loginRetryDelay); err != nil {
				return LoginResult{}, err
			}
		}

		result, retryable, err := c.loginAttempt(ctx, username, password)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return LoginResult{}, err
		}
		if result.Success || !retryable {
			return result, nil
		}

		lastFailure = result.Error
		slog.WarnContext(ctx, "login attempt bounced, retrying with fresh captcha",
			slog.Int("attempt", attempt),
			slog.String("reason", lastFailure))
	}

	span.SetStatus(codes.Error, "login attempts exhausted")
	return LoginResult{
		Error:         fmt.Sprintf("login failed after %d attempts: %s", maxAttempts, lastFailure),
		RequiresRetry: true,
	}, nil
}

func (c *Client) loginAttempt(ctx context.Context, username string, password string) (LoginResult, bool, error) {
	page, err := c.fetchLoginPage(ctx)
	if err != nil {
		return LoginResult{}, false, err
	}

	csrf, ok := page.doc.Find(`input[name="_csrf"]`).Attr("value")
	if !ok || csrf == "" {
		return LoginResult{}, false, ErrNoCsrfToken
	}

	solved, err := c.solveCaptcha(ctx, page.doc)
	if errors.Is(err, ErrCaptchaUnsolvable) {
		// a corrupt or unreadable captcha image is no more fatal than
		// a rejected answer: the next attempt gets a fresh one
		return LoginResult{Error: err.Error(), RequiresRetry: true}, true, nil
	}
	if err != nil {
		return LoginResult{}, false, err
	}

	form := url.Values{}
	form.Set("_csrf", csrf)
	form.Set("username", strings.ToUpper(username))
	form.Set("password", password)
	form.Set("captchaStr", solved)

	res, err := c.PostForm(ctx, c.URL(loginPath), form, map[string]string{
		"Referer": c.URL(loginPath),
		"Origin":  c.BaseURL.Scheme + "://" + c.BaseURL.Host,
	})
	if err != nil {
		return LoginResult{}, false, err
	}
	res, err = c.FollowRedirects(ctx, res)
	if err != nil {
		return LoginResult{}, false, err
	}

	return c.interpretLanding(ctx, FinalURL(res), string(res.Body()))
}

type loginPage struct {
	doc  *goquery.Document
	html string
}

// fetchLoginPage loads the captcha-bearing login form. Some portal
// deployments first serve an interstitial page whose hidden form must
// be auto-submitted before the real form appears; at most two such
// hops are walked.
func (c *Client) fetchLoginPage(ctx context.Context) (*loginPage, error) {
	res, err := c.Get(ctx, c.URL(loginPath))
	if err != nil {
		return nil, err
	}
	res, err = c.FollowRedirects(ctx, res)
	if err != nil {
		return nil, err
	}

	html := string(res.Body())
	for hop := 0; hop < 2; hop++ {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, err
		}
		if hasLoginForm(html) {
			return &loginPage{doc: doc, html: html}, nil
		}

		interstitial := doc.Find("form#stdForm")
		if interstitial.Length() == 0 {
			interstitial = doc.Find(`form:has(input[name="flag"])`)
		}
		if interstitial.Length() == 0 {
			return nil, ErrNoLoginForm
		}

		form := url.Values{}
		interstitial.Find(`input[type="hidden"]`).Each(func(_ int, sel *goquery.Selection) {
			name, _ := sel.Attr("name")
			value, _ := sel.Attr("value")
			if name != "" {
				form.Set(name, value)
			}
		})
		action, _ := interstitial.Attr("action")
		if action == "" {
			action = loginPath
		}
		res, err = c.PostForm(ctx, c.URL(action), form, map[string]string{
			"Referer": c.URL(loginPath),
		})
		if err != nil {
			return nil, err
		}
		res, err = c.FollowRedirects(ctx, res)
		if err != nil {
			return nil, err
		}
		html = string(res.Body())
	}

	if !hasLoginForm(html) {
		return nil, ErrNoLoginForm
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &loginPage{doc: doc, html: html}, nil
}

// solveCaptcha prefers the image embedded in the login form and falls
// back to the captcha refresh endpoint, which needs a short settle
// delay before the image it returns matches the server-side state.
func (c *Client) solveCaptcha(ctx context.Context, doc *goquery.Document) (string, error) {
	src := embeddedCaptcha(doc)
	if src == "" {
		if err := sleep(ctx, captchaSettleDelay); err != nil {
			return "", err
		}
		res, err := c.Get(ctx, c.URL(captchaPath)+"?_="+strconv.FormatInt(timezone.Now().UnixMilli(), 10))
		if err != nil {
			return "", err
		}
		src = firstGroup(captchaSrcRegex, string(res.Body()))
		if src == "" {
			return "", ErrNoCaptcha
		}
	}

	solved, err := captcha.SolveBase64(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCaptchaUnsolvable, err)
	}
	normalized := normalizeCaptcha(solved)
	if len(normalized) != captchaLength {
		return "", fmt.Errorf("%w: got %q, want %d characters", ErrCaptchaUnsolvable, normalized, captchaLength)
	}
	return normalized, nil
}

func embeddedCaptcha(doc *goquery.Document) string {
	var src string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		s, _ := sel.Attr("src")
		if strings.HasPrefix(s, "data:image/") {
			src = s
			return false
		}
		return true
	})
	return src
}

// normalizeCaptcha uppercases, strips non-alphanumerics and truncates
// to the portal's fixed answer length.
func normalizeCaptcha(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == captchaLength {
				break
			}
		}
	}
	return b.String()
}

// interpretLanding classifies the page the login submission landed on.
// The portal has no single reliable success marker, so success is an
// OR of heuristics and failures are triaged into fatal versus
// retryable. The extracted dashboard context is the final arbiter: a
// page that looks logged in but yields no csrf/authorizedID pair is
// treated as a failure.
func (c *Client) interpretLanding(ctx context.Context, finalURL string, html string) (LoginResult, bool, error) {
	if looksLoggedIn(finalURL, html) {
		dctx := ExtractDashboardContext(html)
		if dctx == (vtop.Context{}) {
			return LoginResult{
				Error: "landing page has success markers but no session context",
			}, false, nil
		}
		slog.InfoContext(ctx, "login succeeded", slog.String("authorizedId", dctx.AuthorizedID))
		return LoginResult{
			Success:       true,
			Cookies:       c.Jar.Snapshot(),
			Context:       dctx,
			DashboardHTML: html,
		}, false, nil
	}

	if strings.Contains(html, "Invalid LoginId/Password") {
		return LoginResult{Error: ErrInvalidCredentials.Error()}, false, nil
	}

	if msg := firstGroup(alertRegex, html); msg != "" {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "captcha") || strings.Contains(lower, "verification") {
			return LoginResult{Error: msg, RequiresRetry: true}, true, nil
		}
		return LoginResult{Error: msg}, false, nil
	}

	if strings.Contains(finalURL, "/vtop/login/error") {
		return LoginResult{Error: "portal bounced to login error page", RequiresRetry: true}, true, nil
	}
	if hasLoginForm(html) {
		return LoginResult{Error: "relanded on login form", RequiresRetry: true}, true, nil
	}

	return LoginResult{Error: "unrecognized landing page after login"}, false, nil
}

func looksLoggedIn(finalURL string, html string) bool {
	switch {
	case strings.Contains(finalURL, contentPath):
		return true
	case strings.Contains(html, `id="page-holder"`):
		return true
	case strings.Contains(html, "vtop-body-content"):
		return true
	case strings.Contains(html, "authorizedID"):
		return true
	case strings.Contains(html, "hmenuItem") && !hasLoginForm(html):
		return true
	}
	return false
}

func hasLoginForm(html string) bool {
	return strings.Contains(html, "vtopLoginForm") ||
		strings.Contains(html, `name="captchaStr"`)
}

// ServerLogout invalidates the session on the portal side. Best
// effort: local session teardown proceeds regardless of the outcome.
func (c *Client) ServerLogout(ctx context.Context, sctx vtop.Context) error {
	ctx, span := tracer.Start(ctx, "vtop.logout")
	defer span.End()

	form := url.Values{}
	form.Set(sctx.CsrfName, sctx.CsrfValue)
	form.Set("authorizedID", sctx.AuthorizedID)
	_, err := c.PostForm(ctx, c.URL(logoutPath), form, map[string]string{
		"Referer": c.URL(contentPath),
	})
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "server-side logout failed", slog.String("error", err.Error()))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
