// Package conf loads the mini-app configuration from the environment.
package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Wang-tianhao/iframe-identity-go/bridge"
	"github.com/Wang-tianhao/iframe-identity-go/jwtauth"
)

// EnvPrefix namespaces every variable, e.g. MINIAPP_PUBLIC_KEY.
const EnvPrefix = "miniapp"

// Configuration for cmd/miniapp.
type Configuration struct {
	Port   string `envconfig:"PORT" default:"8080"`
	APIURL string `envconfig:"API_URL" split_words:"true" required:"true"`

	// PublicKey is the PEM-encoded RSA key launch tokens are verified with.
	PublicKey string `envconfig:"PUBLIC_KEY" split_words:"true"`
	// PublicKeyFile is the same key read from a PEM file; exclusive with PublicKey.
	PublicKeyFile string `envconfig:"PUBLIC_KEY_FILE" split_words:"true"`
	// LaunchSecret verifies HS256 launch tokens from issuers that sign with a
	// shared secret. At least 32 bytes.
	LaunchSecret string `envconfig:"LAUNCH_SECRET" split_words:"true"`
	// LaunchCookie lets /api/launch/claims read the token from a cookie.
	LaunchCookie string `envconfig:"LAUNCH_COOKIE" split_words:"true"`

	Bridge  BridgeConfiguration
	Logging LoggingConfiguration `envconfig:"LOG"`
}

// BridgeConfiguration drives the cross-window handshake.
type BridgeConfiguration struct {
	// ParentURL is the host's websocket endpoint; empty means top-level.
	ParentURL  string `envconfig:"PARENT_URL" split_words:"true"`
	SelfOrigin string `envconfig:"SELF_ORIGIN" split_words:"true" default:"http://localhost:8080"`
	// AllowedOrigins defaults to "*", which accepts any sender.
	// ClockSkew defaults to 0: exp and nbf are enforced to the second.
	AllowedOrigins       []string      `envconfig:"ALLOWED_ORIGINS" split_words:"true" default:"*"`
	MessageType          string        `envconfig:"MESSAGE_TYPE" split_words:"true"`
	Payload              string        `envconfig:"PAYLOAD" default:"email"`
	AnnounceTargetOrigin string        `envconfig:"ANNOUNCE_TARGET_ORIGIN" split_words:"true" default:"*"`
	IdentityClaim        string        `envconfig:"IDENTITY_CLAIM" split_words:"true" default:"sub"`
	ClockSkew            time.Duration `envconfig:"CLOCK_SKEW" split_words:"true" default:"0s"`
	Issuer               string        `envconfig:"ISSUER"`
	Audience             string        `envconfig:"AUDIENCE"`
}

// LoggingConfiguration selects the slog handler.
type LoggingConfiguration struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load reads filename (or ./.env when empty and present) into the process
// environment and then decodes MINIAPP_* variables.
func Load(filename string) (*Configuration, error) {
	if err := loadEnvironment(filename); err != nil {
		return nil, err
	}

	config := new(Configuration)
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvironment(filename string) error {
	var err error
	if filename != "" {
		err = godotenv.Overload(filename)
	} else {
		err = godotenv.Load()
		// handle if .env file does not exist, this is OK
		if os.IsNotExist(err) {
			return nil
		}
	}
	return err
}

// ApplyDefaults normalizes values that depend on each other.
func (c *Configuration) ApplyDefaults() {
	origins := c.Bridge.AllowedOrigins[:0]
	for _, o := range c.Bridge.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.Bridge.AllowedOrigins = origins

	if c.Bridge.MessageType == "" {
		if mode, err := bridge.ParsePayloadMode(c.Bridge.Payload); err == nil {
			c.Bridge.MessageType = mode.DefaultMessageType()
		}
	}
	// Keys injected through a single-line env var often carry literal \n
	c.PublicKey = strings.ReplaceAll(c.PublicKey, `\n`, "\n")
}

// Validate rejects settings that cannot run.
func (c *Configuration) Validate() error {
	mode, err := bridge.ParsePayloadMode(c.Bridge.Payload)
	if err != nil {
		return err
	}
	if mode == bridge.TokenPayload && !c.HasLaunchKeys() {
		return errors.New("conf: MINIAPP_PUBLIC_KEY, MINIAPP_PUBLIC_KEY_FILE or MINIAPP_LAUNCH_SECRET is required when MINIAPP_BRIDGE_PAYLOAD=token")
	}
	if strings.TrimSpace(c.PublicKey) != "" && c.PublicKeyFile != "" {
		return errors.New("conf: set only one of MINIAPP_PUBLIC_KEY and MINIAPP_PUBLIC_KEY_FILE")
	}
	if c.Bridge.ClockSkew < 0 {
		return fmt.Errorf("conf: clock skew must be non-negative, got %v", c.Bridge.ClockSkew)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// HasLaunchKeys reports whether any launch-token key material is configured.
func (c *Configuration) HasLaunchKeys() bool {
	return strings.TrimSpace(c.PublicKey) != "" || c.PublicKeyFile != "" || c.LaunchSecret != ""
}

// VerifierConfig builds the launch-token verifier configuration, or returns
// nil when no key material is configured.
func (c *Configuration) VerifierConfig(logger *slog.Logger) (*jwtauth.Config, error) {
	if !c.HasLaunchKeys() {
		return nil, nil
	}

	opts := []jwtauth.ConfigOption{
		jwtauth.WithClockSkew(c.Bridge.ClockSkew),
		jwtauth.WithLogger(logger),
	}
	switch {
	case strings.TrimSpace(c.PublicKey) != "":
		opts = append(opts, jwtauth.WithPublicKeyPEM(c.PublicKey))
	case c.PublicKeyFile != "":
		raw, err := os.ReadFile(c.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("conf: read public key file: %w", err)
		}
		key, err := jwtauth.ParseRSAPublicKeyFromPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("conf: %s: %w", c.PublicKeyFile, err)
		}
		opts = append(opts, jwtauth.WithRS256(key))
	}
	if c.LaunchSecret != "" {
		opts = append(opts, jwtauth.WithHS256([]byte(c.LaunchSecret)))
	}
	if c.LaunchCookie != "" {
		opts = append(opts, jwtauth.WithCookie(c.LaunchCookie))
	}
	if c.Bridge.Issuer != "" {
		opts = append(opts, jwtauth.WithIssuer(c.Bridge.Issuer))
	}
	if c.Bridge.Audience != "" {
		opts = append(opts, jwtauth.WithAudience(c.Bridge.Audience))
	}
	return jwtauth.NewConfig(opts...)
}

// PayloadMode returns the parsed bridge payload mode.
func (c *Configuration) PayloadMode() bridge.PayloadMode {
	mode, _ := bridge.ParsePayloadMode(c.Bridge.Payload)
	return mode
}

// SlogLevel parses Level.
func (l LoggingConfiguration) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("conf: invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger builds the process logger.
func (l LoggingConfiguration) NewLogger() *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
