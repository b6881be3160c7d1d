package middleware

import (
	"net/http"
	"strings"

	"tangent/internal/auth"
	"tangent/internal/httputil"
)

// Auth validates the access token on each request and stores the account
// id in the request context. The token is read from the Authorization
// header; browsers cannot set headers on websocket upgrades, so a "token"
// query parameter is accepted as a fallback.
func Auth(verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "missing access token")
				return
			}

			accountID, err := verifier.Verify(token)
			if err != nil {
				httputil.RespondError(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			next.ServeHTTP(w, httputil.WithAccountID(r, accountID))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
