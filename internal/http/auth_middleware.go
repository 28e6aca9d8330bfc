package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/splax/teamforge/internal/apperr"
	"github.com/splax/teamforge/internal/domain"
	jwtpkg "github.com/splax/teamforge/pkg/jwt"
)

// Authorizer resolves a bearer token to a user.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error)
}

// authInfo is the caller identity handlers read from the request context.
type authInfo struct {
	UserID string
	Email  string
	TeamID string
}

type callerKey struct{}

// contextSetter lets the audit recorder learn the authenticated context.
type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth rejects requests without a usable bearer token and stores the
// caller on the context for the rest of the chain.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, ok := bearerToken(req.Header.Get("Authorization"))
		if !ok {
			r.logger.Warn("request without bearer token", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, _, err := r.auth.Authorize(req.Context(), token)
		switch {
		case err == nil:
		case apperr.KindOf(err) == apperr.KindInternal:
			writeServiceError(w, err)
			return
		default:
			r.logger.Warn("bearer token rejected", "path", req.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}

		ctx := context.WithValue(req.Context(), callerKey{}, authInfo{
			UserID: user.ID,
			Email:  user.Email,
			TeamID: user.TeamID,
		})
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	info, ok := ctx.Value(callerKey{}).(authInfo)
	return info, ok
}

// bearerToken extracts the credential from an "Authorization: Bearer x" header.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
