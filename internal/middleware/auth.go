package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/audit"
	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/httputil"
	"github.com/gatepass/access-server/internal/model"
)

type contextKey string

const ActorContextKey contextKey = "actor"

func GetActor(ctx context.Context) *model.Actor {
	if actor, ok := ctx.Value(ActorContextKey).(*model.Actor); ok {
		return actor
	}
	return nil
}

func WithActor(ctx context.Context, actor *model.Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

// TokenVerifier resolves a bearer token to the calling actor.
type TokenVerifier interface {
	Verify(token string) (*model.Actor, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		actor, err := m.verifier.Verify(token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := GetActor(r.Context())
			if actor == nil {
				httputil.WriteError(w, apperrors.Unauthorized("Authentication required"))
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteError(w, apperrors.Forbidden("Role not allowed"))
		})
	}
}

// extractToken accepts the query form for EventSource clients, which cannot
// set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
