package jwtauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks compact signed tokens against the keys of a Config.
// It performs no network I/O and is safe for concurrent use.
type Verifier struct {
	cfg    *Config
	parser *jwt.Parser
}

// NewVerifier builds a Verifier from an immutable Config.
func NewVerifier(cfg *Config) *Verifier {
	opts := []jwt.ParserOption{jwt.WithLeeway(cfg.ClockSkewLeeway())}
	if cfg.issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.issuer))
	}
	if cfg.audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.audience))
	}
	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Config returns the configuration the verifier was built from.
func (v *Verifier) Config() *Config {
	return v.cfg
}

// Verify validates token and returns its claims. Every failure is a *ValidationError.
// A context canceled while verifying discards the result.
func (v *Verifier) Verify(ctx context.Context, token string) (claims *Claims, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			claims, err = nil, NewValidationError(ErrMalformed, fmt.Sprintf("verification aborted: %v", r), nil)
		}
		v.logResult(ctx, token, claims, err, time.Since(start))
	}()

	return v.verify(ctx, token)
}

func (v *Verifier) verify(ctx context.Context, tokenString string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewValidationError(ErrCanceled, "verification canceled", err)
	}

	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, NewValidationError(ErrMissingToken, "token is empty", nil)
	}
	if strings.Count(tokenString, ".") != 2 {
		return nil, NewValidationError(ErrMalformed, "token must have exactly three segments", nil)
	}

	alg, err := inspectAlgorithm(tokenString)
	if err != nil {
		return nil, err
	}
	expected, ok := v.cfg.keyFor(alg)
	if !ok {
		return nil, NewValidationError(
			ErrUnsupportedAlgorithm,
			fmt.Sprintf("algorithm %s not supported (available: %s)", alg, strings.Join(v.cfg.AvailableAlgorithms(), ", ")),
			nil,
		)
	}

	mapClaims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, mapClaims, func(t *jwt.Token) (interface{}, error) {
		// The parsed method must be the one bound to the key; this blocks key confusion
		if t.Method == nil || t.Method.Alg() != expected.method.Alg() {
			return nil, NewValidationError(ErrInvalidSignature, "algorithm confusion detected", nil)
		}
		return expected.key, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, NewValidationError(ErrInvalidSignature, "token is invalid", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, NewValidationError(ErrCanceled, "verification canceled", err)
	}

	for _, name := range v.cfg.RequiredClaims() {
		if _, ok := mapClaims[name]; !ok {
			return nil, NewValidationError(ErrMalformed, fmt.Sprintf("required claim missing: %s", name), nil)
		}
	}

	return toClaims(mapClaims), nil
}

// inspectAlgorithm reads the alg header before any signature work so that
// unsupported and none algorithms are reported precisely.
func inspectAlgorithm(token string) (string, error) {
	header, err := decodeHeader(token)
	if err != nil {
		return "", NewValidationError(ErrMalformed, "token header is not valid base64url JSON", err)
	}

	raw, exists := header["alg"]
	if !exists {
		return "", NewValidationError(ErrMalformed, "missing algorithm in token header", nil)
	}
	alg, ok := raw.(string)
	if !ok {
		return "", NewValidationError(ErrMalformedAlgorithmHeader, "algorithm header must be a string", nil)
	}
	if strings.EqualFold(alg, "none") {
		return "", NewValidationError(ErrNoneAlgorithm, "none algorithm not allowed", nil)
	}
	return alg, nil
}

func decodeHeader(token string) (map[string]interface{}, error) {
	segment, _, _ := strings.Cut(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, err
	}
	var header map[string]interface{}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}
	return header, nil
}

func classifyParseError(err error) *ValidationError {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return NewValidationError(ErrExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return NewValidationError(ErrExpired, "token is not valid yet", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return NewValidationError(ErrInvalidSignature, "signature verification failed", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return NewValidationError(ErrInvalidClaims, "issuer or audience mismatch", err)
	}
	return NewValidationError(ErrMalformed, "malformed token", err)
}

var registeredClaims = map[string]bool{
	"sub": true, "iss": true, "aud": true, "exp": true,
	"nbf": true, "iat": true, "jti": true, "email": true,
}

func toClaims(mapClaims jwt.MapClaims) *Claims {
	claims := &Claims{Custom: make(map[string]interface{})}

	claims.Subject, _ = mapClaims.GetSubject()
	claims.Issuer, _ = mapClaims.GetIssuer()
	if aud, err := mapClaims.GetAudience(); err == nil {
		claims.Audience = []string(aud)
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.JWTID = jti
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}

	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if nbf, err := mapClaims.GetNotBefore(); err == nil && nbf != nil {
		claims.NotBefore = nbf.Time
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	for key, value := range mapClaims {
		if !registeredClaims[key] {
			claims.Custom[key] = value
		}
	}
	return claims
}
