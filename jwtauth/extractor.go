package jwtauth

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// parseBearer splits "Bearer <token>"
func parseBearer(value string) (string, error) {
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", NewValidationError(ErrMalformed, "invalid authorization format, expected 'Bearer <token>'", nil)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", NewValidationError(ErrMissingToken, "token is empty", nil)
	}
	return token, nil
}

func extractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", NewValidationError(ErrMissingToken, "authorization header not found", nil)
	}
	return parseBearer(authHeader)
}

func extractTokenFromCookie(r *http.Request, cookieName string) (string, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", NewValidationError(ErrMissingToken, "cookie not found", err)
	}

	token := strings.TrimSpace(cookie.Value)
	if token == "" {
		return "", NewValidationError(ErrMissingToken, "cookie value is empty", nil)
	}
	return token, nil
}

// extractToken checks the Authorization header first, then the cookie if configured
func extractToken(r *http.Request, cfg *Config) (string, error) {
	token, err := extractTokenFromHeader(r)
	if err == nil {
		return token, nil
	}

	if cfg.CookieName() != "" {
		if token, cookieErr := extractTokenFromCookie(r, cfg.CookieName()); cookieErr == nil {
			return token, nil
		}
	}

	return "", err
}

func extractTokenFromMetadata(md metadata.MD) (string, error) {
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", NewValidationError(ErrMissingToken, "authorization metadata not found", nil)
	}
	return parseBearer(values[0])
}
