package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"kasirsync/backend/internal/session"
)

// requireAuth verifies the terminal bearer token and stores its claims on
// the request context, where session.ContextProvider picks them up.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		claims, err := a.tokens.Parse(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(claims.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(session.WithClaims(r.Context(), claims)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	return slices.Contains(allowed, role)
}

func roleFromRequest(r *http.Request) string {
	claims, ok := session.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Role
}
