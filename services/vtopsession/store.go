// Package vtopsession owns portal session lifecycle: acquiring a
// session through the login protocol, persisting it in a pluggable
// store, serving scrapes on top of it and tearing it down when the
// portal expires it.
package vtopsession

import (
	"context"
	"errors"
	"vtopassist-backend/lib/scrapers/vtop"
)

var ErrNotFound = errors.New("no session stored for this user")

// Store persists sessions between requests. Implementations must
// round-trip a session without altering its cookies or context, since
// a restored session has to reproduce the exact authenticated request
// headers of the original.
type Store interface {
	Get(ctx context.Context, key string) (*vtop.Session, error)
	Set(ctx context.Context, key string, session *vtop.Session) error
	Delete(ctx context.Context, key string) error
}
