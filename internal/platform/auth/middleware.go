package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const defaultVerifyTimeout = 5 * time.Second

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// AdminDirectory answers admin-set membership for a verified principal. The returned key names
// the record that matched.
type AdminDirectory interface {
	ResolveAdmin(ctx context.Context, uid, email string) (string, bool, error)
}

// AdminDirectoryFunc adapts a function to AdminDirectory.
type AdminDirectoryFunc func(ctx context.Context, uid, email string) (string, bool, error)

// ResolveAdmin implements AdminDirectory.
func (f AdminDirectoryFunc) ResolveAdmin(ctx context.Context, uid, email string) (string, bool, error) {
	return f(ctx, uid, email)
}

// Authenticator wires Firebase token verification and admin membership into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	admins   AdminDirectory
	logger   Logger
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithAdminDirectory sets the admin-set lookup used by RequireAdmin.
func WithAdminDirectory(dir AdminDirectory) Option {
	return func(a *Authenticator) {
		a.admins = dir
	}
}

// WithAuthLogger sets the logger used for lookup failures.
func WithAuthLogger(logger Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens and resolving admins.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		logger:   noopAuthLogger{},
		timeout:  defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAdmin verifies the bearer token and requires the principal to be in the admin set.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			defer cancel()

			token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: strings.ToLower(claimAsString(token.Claims, "email")),
				token: token,
			}

			if a.admins == nil {
				respondAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			key, isAdmin, err := a.admins.ResolveAdmin(ctx, identity.UID, identity.Email)
			if err != nil {
				a.logger.Printf("auth: admin lookup for %s failed: %v", identity.UID, err)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "admin lookup failed")
				return
			}
			if !isAdmin {
				respondAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			identity.AdminKey = key

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

type noopAuthLogger struct{}

func (noopAuthLogger) Printf(string, ...any) {}

func claimAsString(claims map[string]interface{}, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	if v, ok := raw.(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case firebaseauth.IsIDTokenInvalid(err), errors.Is(err, context.DeadlineExceeded):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
