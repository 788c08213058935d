package middleware

import (
	"context"
	"net/http"
	"strings"

	"collab-sync-server/pkg/jwt"
	"collab-sync-server/pkg/response"
)

type contextKey string

const ActorIDKey contextKey = "actorID"

// AuthMiddleware validates the bearer token and injects the actor id
// into the request context. Token issuance lives in the external auth
// service; this core only consumes the claim.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwt.ValidateToken(parts[1], jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ActorIDKey, claims.ActorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetActorID(r *http.Request) string {
	actorID, ok := r.Context().Value(ActorIDKey).(string)
	if !ok {
		return ""
	}
	return actorID
}
