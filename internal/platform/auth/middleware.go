package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/northmart/api/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals an expired Firebase ID token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals a Firebase ID token rejected for any other reason.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter retrieves Firebase user records.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// claimNames holds the custom-claim keys the storefront reads off a
// verified token. Staff tokens carry the role claim; shopper tokens
// usually carry none of these beyond the standard email.
type claimNames struct {
	role   string
	locale string
	email  string
}

var standardClaims = claimNames{role: "role", locale: "locale", email: "email"}

// Authenticator turns Firebase token verification into HTTP middleware.
// Shoppers sign in through the web and mobile clients with Firebase; staff
// accounts carry an extra role claim that gates the admin endpoints.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter

	claims       claimNames
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithUserGetter enables lazy Firebase user record loading on the identity.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) {
		a.users = getter
	}
}

// WithRoleClaim overrides the custom claim holding the account roles.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) { setClaimName(&a.claims.role, claim) }
}

// WithLocaleClaim overrides the claim populating Identity.Locale.
func WithLocaleClaim(claim string) Option {
	return func(a *Authenticator) { setClaimName(&a.claims.locale, claim) }
}

// WithEmailClaim overrides the claim populating Identity.Email.
func WithEmailClaim(claim string) Option {
	return func(a *Authenticator) { setClaimName(&a.claims.email, claim) }
}

func setClaimName(dst *string, claim string) {
	if claim = strings.TrimSpace(claim); claim != "" {
		*dst = claim
	}
}

// WithFallbackRole sets the role assumed when a token carries no role claim.
// Plain shopper tokens have no role claim at all.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = cleanRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds token verification and user loading.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds a Firebase Authenticator.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		claims:       standardClaims,
		fallbackRole: RoleUser,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the Authorization bearer token and, when roles
// are given, requires the identity to hold at least one of them.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := newRoleSet(allowedRoles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, authErr := a.authenticate(r)
			if authErr != nil {
				httpx.WriteError(r.Context(), w, *authErr)
				return
			}
			if !allowed.empty() && !allowed.holdsAny(identity.Roles) {
				httpx.WriteError(r.Context(), w, *authError("insufficient_role", "identity does not have required role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// authenticate resolves the request's bearer token into an Identity.
func (a *Authenticator) authenticate(r *http.Request) (*Identity, *httpx.Error) {
	tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, authError("unauthenticated", "authorization header missing or invalid")
	}
	if a == nil || a.verifier == nil {
		return nil, authError("unauthenticated", "authorization service unavailable")
	}

	ctx, cancel := a.bounded(r.Context())
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return nil, tokenError(err)
	}

	identity := a.identityFromToken(token)
	if len(identity.Roles) == 0 {
		return nil, authError("missing_role", "no roles associated with identity")
	}

	if a.users != nil {
		identity.loadUser = func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
			if uid == "" {
				uid = identity.UID
			}
			ctx, cancel := a.bounded(ctx)
			defer cancel()
			return a.users.GetUser(ctx, uid)
		}
	}
	return identity, nil
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:    token.UID,
		Email:  stringClaim(token.Claims, a.claims.email),
		Locale: stringClaim(token.Claims, a.claims.locale),
		Roles:  claimRoles(token.Claims, a.claims.role),
		token:  token,
	}

	// Tokens keep the standard claims even when a custom claim name is
	// configured, so fall back to those.
	if identity.Email == "" {
		identity.Email = stringClaim(token.Claims, standardClaims.email)
	}
	if identity.Locale == "" {
		identity.Locale = stringClaim(token.Claims, standardClaims.locale)
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity
}

func (a *Authenticator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

type roleSet map[string]struct{}

func newRoleSet(roles []string) roleSet {
	set := make(roleSet, len(roles))
	for _, role := range roles {
		if role = cleanRole(role); role != "" {
			set[role] = struct{}{}
		}
	}
	return set
}

func (s roleSet) empty() bool { return len(s) == 0 }

func (s roleSet) holdsAny(roles []string) bool {
	for _, role := range roles {
		if _, ok := s[cleanRole(role)]; ok {
			return true
		}
	}
	return false
}

// claimRoles extracts roles from a claim that may be a string, a string
// list, or a map of role name to bool.
func claimRoles(claims map[string]interface{}, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(role string) {
		role = cleanRole(role)
		if role == "" {
			return
		}
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}

	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, item := range v {
			add(item)
		}
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				add(str)
			}
		}
	case map[string]interface{}:
		for name, value := range v {
			if granted, ok := value.(bool); ok && granted {
				add(name)
			}
		}
	}
	return out
}

func stringClaim(claims map[string]interface{}, key string) string {
	if str, ok := claims[key].(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}

func cleanRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func authError(code, message string) *httpx.Error {
	err := httpx.NewError(code, message, http.StatusUnauthorized)
	return &err
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func tokenError(err error) *httpx.Error {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return authError("token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return authError("invalid_token", "firebase id token invalid")
	default:
		return authError("invalid_token", "firebase id token verification failed")
	}
}
