package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Wang-tianhao/iframe-identity-go/jwtauth"
)

// PayloadMode selects which credential shape a deployment accepts. A listener
// accepts exactly one; the other shape is treated as malformed.
type PayloadMode int

const (
	// EmailPayload expects data.email, validated for shape only.
	EmailPayload PayloadMode = iota
	// TokenPayload expects data.launch_token, verified against a public key.
	TokenPayload
)

func (m PayloadMode) String() string {
	switch m {
	case EmailPayload:
		return "email"
	case TokenPayload:
		return "token"
	}
	return fmt.Sprintf("PayloadMode(%d)", int(m))
}

// DefaultMessageType is the inbound type tag each mode expects unless overridden.
func (m PayloadMode) DefaultMessageType() string {
	if m == TokenPayload {
		return TypeSetEmail
	}
	return TypeIframeResponse
}

// ParsePayloadMode parses "email" or "token".
func ParsePayloadMode(s string) (PayloadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "email":
		return EmailPayload, nil
	case "token", "jwt":
		return TokenPayload, nil
	}
	return 0, fmt.Errorf("unknown payload mode %q (want email or token)", s)
}

// TokenVerifier is satisfied by *jwtauth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwtauth.Claims, error)
}

var (
	// ErrMalformedPayload means the message had the right type but no usable credential.
	ErrMalformedPayload = errors.New("bridge: malformed payload")
	// ErrVerification means a launch token failed verification.
	ErrVerification = errors.New("bridge: token verification failed")
)

type credential struct {
	email        string
	appSessionID string
}

// notSpaceOrAt excludes '@' and every code point a browser's \s matches,
// which is wider than RE2's ASCII-only \s.
const notSpaceOrAt = `[^@\t\n\v\f\r \x{00a0}\x{1680}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}\x{feff}]`

// emailShape is local@domain.tld with no whitespace. It is a shape check only:
// internationalized addresses, IP literals and odd dots are all accepted.
var emailShape = regexp.MustCompile(`^` + notSpaceOrAt + `+@` + notSpaceOrAt + `+\.` + notSpaceOrAt + `+$`)

// ValidEmail reports whether s has the shape local@domain.tld.
func ValidEmail(s string) bool {
	return emailShape.MatchString(s)
}

func extractEmail(data json.RawMessage) (credential, error) {
	var payload emailData
	if err := json.Unmarshal(data, &payload); err != nil {
		return credential{}, fmt.Errorf("%w: data is not an object", ErrMalformedPayload)
	}

	var email string
	if len(payload.Email) == 0 || json.Unmarshal(payload.Email, &email) != nil || email == "" {
		return credential{}, fmt.Errorf("%w: data.email missing or not a string", ErrMalformedPayload)
	}
	if !ValidEmail(email) {
		return credential{}, fmt.Errorf("%w: invalid email format %q", ErrMalformedPayload, email)
	}
	return credential{email: email}, nil
}

func extractToken(ctx context.Context, data json.RawMessage, v TokenVerifier, claim string) (credential, error) {
	var payload tokenData
	if err := json.Unmarshal(data, &payload); err != nil {
		return credential{}, fmt.Errorf("%w: data is not an object", ErrMalformedPayload)
	}

	var token string
	if len(payload.LaunchToken) == 0 || json.Unmarshal(payload.LaunchToken, &token) != nil || token == "" {
		return credential{}, fmt.Errorf("%w: data.launch_token missing or not a string", ErrMalformedPayload)
	}

	claims, err := v.Verify(ctx, token)
	if err != nil {
		return credential{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	identity, ok := claims.StringClaim(claim)
	if !ok {
		return credential{}, fmt.Errorf("%w: verified token has no %q claim", ErrMalformedPayload, claim)
	}

	sessionID := payload.AppSessionID
	if sid, ok := claims.StringClaim("app_session_id"); ok {
		sessionID = sid
	}
	return credential{email: identity, appSessionID: sessionID}, nil
}
