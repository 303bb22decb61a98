package jwtauth

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// algorithmKey binds a verification key to the one signing method allowed to use it.
type algorithmKey struct {
	key    interface{}       // []byte for HS256, *rsa.PublicKey for RS256
	method jwt.SigningMethod // the method a token must declare to use key
}

// Config holds immutable verification settings. Build it with NewConfig.
type Config struct {
	keys           map[string]algorithmKey
	clockSkew      time.Duration
	cookieName     string
	requiredClaims []string
	issuer         string
	audience       string
	logger         *slog.Logger
}

// ConfigOption is a functional option for NewConfig
type ConfigOption func(*Config) error

// NewConfig creates a new immutable configuration with the given options
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		keys:      make(map[string]algorithmKey),
		clockSkew: 60 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewValidationError(ErrConfigError, fmt.Sprintf("configuration error: %v", err), err)
		}
	}

	if len(cfg.keys) == 0 {
		return nil, NewValidationError(ErrConfigError, "at least one algorithm must be configured (use WithRS256, WithPublicKeyPEM or WithHS256)", nil)
	}

	for alg, k := range cfg.keys {
		if strings.EqualFold(alg, "none") {
			return nil, NewValidationError(ErrConfigError, "none algorithm is prohibited", nil)
		}
		if k.key == nil || k.method == nil {
			return nil, NewValidationError(ErrConfigError, fmt.Sprintf("key for %s is incomplete", alg), nil)
		}
	}

	return cfg, nil
}

// WithRS256 configures RSASSA-PKCS1-v1_5 / SHA-256 verification with the given public key
func WithRS256(publicKey *rsa.PublicKey) ConfigOption {
	return func(c *Config) error {
		if publicKey == nil {
			return fmt.Errorf("RS256 public key cannot be nil")
		}
		c.keys["RS256"] = algorithmKey{key: publicKey, method: jwt.SigningMethodRS256}
		return nil
	}
}

// WithPublicKeyPEM loads an RS256 key from PEM text as injected by the deployment environment.
func WithPublicKeyPEM(pemText string) ConfigOption {
	return func(c *Config) error {
		key, err := LoadPublicKeyPEM(pemText)
		if err != nil {
			return err
		}
		return WithRS256(key)(c)
	}
}

// WithHS256 configures HMAC-SHA256 verification with the given secret
func WithHS256(secret []byte) ConfigOption {
	return func(c *Config) error {
		if len(secret) < 32 {
			return fmt.Errorf("HS256 secret must be at least 32 bytes (256 bits), got %d bytes", len(secret))
		}
		c.keys["HS256"] = algorithmKey{key: secret, method: jwt.SigningMethodHS256}
		return nil
	}
}

// WithClockSkew sets the clock skew tolerance for exp/nbf validation
func WithClockSkew(skew time.Duration) ConfigOption {
	return func(c *Config) error {
		if skew < 0 {
			return fmt.Errorf("clock skew must be non-negative, got %v", skew)
		}
		c.clockSkew = skew
		return nil
	}
}

// WithCookie enables token extraction from a cookie with the given name
func WithCookie(cookieName string) ConfigOption {
	return func(c *Config) error {
		c.cookieName = cookieName
		return nil
	}
}

// WithLogger sets a structured logger for security events
func WithLogger(logger *slog.Logger) ConfigOption {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithRequiredClaims specifies claim names that must be present in the token
func WithRequiredClaims(claims ...string) ConfigOption {
	return func(c *Config) error {
		c.requiredClaims = append(c.requiredClaims, claims...)
		return nil
	}
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) ConfigOption {
	return func(c *Config) error {
		c.issuer = issuer
		return nil
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) ConfigOption {
	return func(c *Config) error {
		c.audience = audience
		return nil
	}
}

// AvailableAlgorithms returns a sorted list of configured algorithm names
func (c *Config) AvailableAlgorithms() []string {
	algs := make([]string, 0, len(c.keys))
	for alg := range c.keys {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

func (c *Config) keyFor(alg string) (algorithmKey, bool) {
	k, ok := c.keys[alg]
	return k, ok
}

func (c *Config) ClockSkewLeeway() time.Duration {
	return c.clockSkew
}

func (c *Config) CookieName() string {
	return c.cookieName
}

func (c *Config) RequiredClaims() []string {
	return c.requiredClaims
}

func (c *Config) Logger() *slog.Logger {
	return c.logger
}
