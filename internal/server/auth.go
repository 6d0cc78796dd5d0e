// File: internal/server/auth.go
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const actorKey contextKey = "actor"

// actorFrom returns the authenticated actor stored by the auth
// middleware, or "anonymous" when auth is disabled.
func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// authenticate enforces an HS256 bearer token and stores its subject as
// the acting operator. With auth disabled requests pass through as
// anonymous.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCfg := s.cfg.Server()
		if serverCfg.AuthDisabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if serverCfg.JWTIssuer != "" {
			options = append(options, jwt.WithIssuer(serverCfg.JWTIssuer))
		}

		token, err := jwt.Parse(tokenString, func(_ *jwt.Token) (any, error) {
			return []byte(serverCfg.JWTSecret), nil
		}, options...)
		if err != nil || !token.Valid {
			s.logger.Debug("Rejected bearer token", zap.Error(err))
			s.respondError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			s.respondError(w, http.StatusUnauthorized, "token has no subject")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, subject)))
	})
}
