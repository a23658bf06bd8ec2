package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// Claims carried by API bearer tokens. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type userContextKey struct{}

func userFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(domain.User)
	return user, ok
}

func (rt *Router) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := rt.authenticate(r.Header.Get("Authorization"))
		if err != nil {
			rt.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rt *Router) authenticate(header string) (domain.User, error) {
	const op = "authenticate"
	if len(rt.jwtSecret) == 0 {
		return domain.User{}, domain.WrapError(domain.ErrUnauthorized, op, errors.New("token auth is not configured"))
	}
	raw, ok := bearerToken(header)
	if !ok {
		return domain.User{}, domain.WrapError(domain.ErrUnauthorized, op, errors.New("missing bearer token"))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return rt.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.User{}, domain.WrapError(domain.ErrUnauthorized, op, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.User{}, domain.WrapError(domain.ErrUnauthorized, op, errors.New("token has no subject"))
	}

	return domain.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

func bearerToken(headerValue string) (string, bool) {
	headerValue = strings.TrimSpace(headerValue)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return token, token != ""
}
