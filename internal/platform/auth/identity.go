package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the staff claim of a Firebase ID token. Shoppers
// without a claim are treated as RoleUser; operator and admin gate the
// back-office order and catalog endpoints.
const (
	RoleUser     = "user"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// ErrUserLoaderUnavailable is returned by Identity.User when the
// identity was built without access to the Firebase user store.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// UserLoader fetches the Firebase user record behind a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the authenticated shopper or staff member resolved from
// a Firebase ID token. The full user record is loaded lazily, most
// requests never need more than the UID and roles.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string

	token *firebaseauth.Token

	loadUser UserLoader
	loadOnce sync.Once
	record   *firebaseauth.UserRecord
	loadErr  error
}

// Token returns the decoded ID token this identity was built from.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries the role. Comparison is
// case-insensitive.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, held := range i.Roles {
		if strings.EqualFold(held, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of the
// given roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// User loads the Firebase user record on first call and memoises the
// result for the rest of the request.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.loadUser == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.loadOnce.Do(func() {
		i.record, i.loadErr = i.loadUser(ctx, i.UID)
	})
	return i.record, i.loadErr
}

type identityKey struct{}

// WithIdentity attaches the identity to the request context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity attached by the
// authentication middleware, if the request carried a valid token.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
