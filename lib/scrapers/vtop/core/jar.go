package core

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Jar is the session-scoped cookie store. The portal only ever needs
// name/value pairs replayed back at it; path and expiry attributes are
// ignored since the jar lives no longer than one session. Unlike
// net/http/cookiejar it is trivially serializable, which the session
// contract requires.
type Jar struct {
	mu      sync.Mutex
	cookies map[string]string
}

func NewJar() *Jar {
	return &Jar{cookies: map[string]string{}}
}

// JarFromCookies seeds a jar from a previously persisted session.
func JarFromCookies(cookies map[string]string) *Jar {
	j := NewJar()
	for name, value := range cookies {
		j.cookies[name] = value
	}
	return j
}

func (j *Jar) Set(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[name] = value
}

// Collect merges every Set-Cookie header of a response into the jar.
// Last write wins on name collisions.
func (j *Jar) Collect(header http.Header) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, raw := range header.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(raw, ";")
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		j.cookies[name] = strings.TrimSpace(value)
	}
}

// Header renders the jar as a Cookie header value, names sorted so the
// same jar always produces identical bytes.
func (j *Jar) Header() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	names := make([]string, 0, len(j.cookies))
	for name := range j.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(j.cookies[name])
	}
	return b.String()
}

func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cookies)
}

// Snapshot copies the jar into a plain map for session persistence.
func (j *Jar) Snapshot() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]string, len(j.cookies))
	for name, value := range j.cookies {
		out[name] = value
	}
	return out
}
