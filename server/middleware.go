package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/rankforge/go-identity-server/authz"
	"github.com/rankforge/go-identity-server/fingerprint"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyIdentity stores the resolved request identity.
const ContextKeyIdentity ContextKey = "identity"

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) APIMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.RecoverMiddleware,
		s.LoggingMiddleware,
	}
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.env == "DEV" {
			s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		}
		next(w, r)
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next(w, r)
	}
}

// RequireAuth validates the Bearer token and injects the resolved
// identity into the request context. Every failure is a uniform 401.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}
			identity, err := s.gateway.Authenticate(r.Context(), token, deviceFromRequest(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
				return
			}
			next(w, r.WithContext(withIdentity(r.Context(), identity)))
		}
	}
}

// OptionalAuth resolves an identity when a valid Bearer token is
// presented and falls through anonymously otherwise. It never rejects.
func (s *Server) OptionalAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, _ := bearerToken(r)
			identity := s.gateway.OptionalAuthenticate(r.Context(), token, deviceFromRequest(r))
			next(w, r.WithContext(withIdentity(r.Context(), identity)))
		}
	}
}

// RequireRole gates a route behind a minimum role. Must run after
// RequireAuth.
func (s *Server) RequireRole(role authz.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !s.gateway.RequireRole(IdentityFromContext(r.Context()), role) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next(w, r)
		}
	}
}

// RequirePermission gates a route behind a "resource:action"
// permission. Must run after RequireAuth.
func (s *Server) RequirePermission(permission string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !s.gateway.RequirePermission(IdentityFromContext(r.Context()), permission) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next(w, r)
		}
	}
}

func withIdentity(ctx context.Context, identity authz.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// IdentityFromContext returns the identity injected by RequireAuth or
// OptionalAuth, anonymous when neither ran.
func IdentityFromContext(ctx context.Context) authz.Identity {
	identity, ok := ctx.Value(ContextKeyIdentity).(authz.Identity)
	if !ok {
		return authz.Anonymous()
	}
	return identity
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// deviceFromRequest extracts the fingerprint inputs. The left-most
// X-Forwarded-For entry wins when a proxy sits in front.
func deviceFromRequest(r *http.Request) fingerprint.Device {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return fingerprint.Device{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}
