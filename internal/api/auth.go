package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"hookrelay/internal/logger"
	"hookrelay/internal/model"
)

type principalKey struct{}

// principalFrom returns the credential resolved by authenticate.
func principalFrom(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(model.Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// bearerToken extracts the token from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so the stream endpoint also accepts ?access_token=.
func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if websocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// authenticate rejects requests without a valid bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" || s.Auth == nil {
			writeProblem(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", "missing bearer token", r.URL.Path)
			return
		}
		p, err := s.Auth.Verify(r.Context(), tok)
		if err != nil {
			s.log().Debug("token rejected", zap.Error(err))
			writeProblem(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", "invalid bearer token", r.URL.Path)
			return
		}
		if ll, ok := r.Context().Value(logFieldsKey{}).(*logFields); ok {
			ll.add(logger.Owner(p.CredentialID))
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
