package core

import (
	"regexp"
	"vtopassist-backend/lib/scrapers/vtop"
)

// the dashboard exposes its session tokens as inline script variables,
// with hidden form fields as a fallback on some portal builds
var (
	csrfValueRegex    = regexp.MustCompile(`(?i)var\s+csrfValue\s*=\s*["']([^"']+)["']`)
	csrfNameRegex     = regexp.MustCompile(`(?i)var\s+csrfName\s*=\s*["']([^"']+)["']`)
	authorizedIDRegex = []*regexp.Regexp{
		regexp.MustCompile(`(?i)var\s+id\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`(?i)var\s+authorizedID\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`(?i)id=["']authorizedIDX["'][^>]*value=["']([^"']+)["']`),
	}
	csrfInputRegex       = regexp.MustCompile(`(?i)name=["']_csrf["'][^>]*value=["']([^"']+)["']`)
	authorizedInputRegex = regexp.MustCompile(`(?i)name=["']authorizedID["'][^>]*value=["']([^"']+)["']`)
)

// ExtractDashboardContext pulls the csrf pair and the authorized user
// id out of a post-login page. A zero Context (not an error) means the
// page was not actually the authenticated dashboard; the login success
// heuristics are fallible and this is the backstop against them.
func ExtractDashboardContext(html string) vtop.Context {
	if html == "" {
		return vtop.Context{}
	}

	csrfValue := firstGroup(csrfValueRegex, html)
	if csrfValue == "" {
		csrfValue = firstGroup(csrfInputRegex, html)
	}

	csrfName := firstGroup(csrfNameRegex, html)
	if csrfName == "" {
		csrfName = "_csrf"
	}

	var authorizedID string
	for _, re := range authorizedIDRegex {
		if authorizedID = firstGroup(re, html); authorizedID != "" {
			break
		}
	}
	if authorizedID == "" {
		authorizedID = firstGroup(authorizedInputRegex, html)
	}

	if csrfValue == "" || authorizedID == "" {
		return vtop.Context{}
	}
	return vtop.Context{
		CsrfName:     csrfName,
		CsrfValue:    csrfValue,
		AuthorizedID: authorizedID,
	}
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
