package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"agendaflow/internal/auth"
	"agendaflow/internal/workflow"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || !a.authOn {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				respondError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				respondError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), claims.Principal())
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom resolves the workflow actor for the request. With auth disabled
// it falls back to the X-Actor-* headers so tests and the smoke binary can
// impersonate users.
func (a *API) actorFrom(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return workflow.Actor{ID: principal.ID, Name: principal.Name, Roles: principal.Roles}, true
	}
	if !a.authOn {
		id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
		if id != "" {
			return workflow.Actor{
				ID:    id,
				Name:  strings.TrimSpace(r.Header.Get("X-Actor-Name")),
				Roles: splitRoles(r.Header.Get("X-Actor-Roles")),
			}, true
		}
	}
	respondError(w, r, http.StatusUnauthorized, "missing authentication")
	return workflow.Actor{}, false
}

func splitRoles(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			roles = append(roles, strings.ToUpper(part))
		}
	}
	return roles
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
