package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// apiKeyHeader carries the control API key for clients that cannot send a
// bearer token.
const apiKeyHeader = "X-API-Key"

// Auth guards the control API with a shared key, sent either as a bearer
// token or in the X-API-Key header. An empty apiKey disables the check; the
// health probe and metrics scrape are always open.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || exempt(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := presentedKey(r)
			switch {
			case !ok:
				w.Header().Set("WWW-Authenticate", `Bearer realm="venuearb"`)
				writeError(w, http.StatusUnauthorized, "missing api key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				w.Header().Set("WWW-Authenticate", `Bearer realm="venuearb", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// presentedKey returns the bearer token, else the X-API-Key header.
func presentedKey(r *http.Request) (string, bool) {
	if scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, true
	}
	return "", false
}

// writeError sends {"error": msg} with status.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
