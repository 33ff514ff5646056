package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ecolex.org/internal/audit"
	"ecolex.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth guards mutating /api requests when a signer is configured. Reads
// stay public.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresWriteAccess(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal := auth.Principal{Subject: claims.Subject, Roles: claims.Roles}
		if !principal.CanWrite() {
			writeError(w, r, http.StatusForbidden, "write access requires the editor role")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = audit.WithActor(ctx, principal.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requiresWriteAccess(r *http.Request) bool {
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
