// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the typed configuration for the
// gateway and tool server. Configuration comes from a YAML file, the
// MEDIATOR_* environment, and command-line flags, with profiles presetting
// the middleware feature flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// minSecretLength is the minimum byte length for the signing key and the
// internal trust token.
const minSecretLength = 32

// Profile selects a default middleware set.
type Profile string

// Known profiles.
const (
	ProfileMinimal         Profile = "minimal"
	ProfileAuthOnly        Profile = "auth_only"
	ProfileAuthWithContext Profile = "auth_with_context"
	ProfileAuthWithCache   Profile = "auth_with_cache"
	ProfileFull            Profile = "full"
	ProfileCustom          Profile = "custom"
)

// ParseProfile parses a profile name.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(s)) {
	case ProfileMinimal, ProfileAuthOnly, ProfileAuthWithContext,
		ProfileAuthWithCache, ProfileFull, ProfileCustom:
		return Profile(strings.ToLower(s)), nil
	case "":
		return ProfileMinimal, nil
	default:
		return "", fmt.Errorf("unknown profile: %q", s)
	}
}

// Features are the middleware feature flags. Individual flags override the
// profile's preset; the error handler cannot be disabled.
type Features struct {
	Auth            bool `mapstructure:"auth"`
	Cache           bool `mapstructure:"cache"`
	RateLimit       bool `mapstructure:"rate_limit"`
	Metrics         bool `mapstructure:"metrics"`
	Validation      bool `mapstructure:"validation"`
	ErrorHandler    bool `mapstructure:"error_handler"`
	EnhancedLogging bool `mapstructure:"enhanced_logging"`
}

// featuresForProfile returns the preset feature flags for a profile.
func featuresForProfile(p Profile) Features {
	f := Features{ErrorHandler: true}
	switch p {
	case ProfileAuthOnly:
		f.Auth = true
		f.Validation = true
		f.EnhancedLogging = true
	case ProfileAuthWithContext:
		f.Auth = true
		f.Validation = true
		f.Metrics = true
		f.EnhancedLogging = true
	case ProfileAuthWithCache:
		f.Auth = true
		f.Validation = true
		f.Cache = true
		f.EnhancedLogging = true
	case ProfileFull:
		f.Auth = true
		f.Validation = true
		f.Cache = true
		f.RateLimit = true
		f.Metrics = true
		f.EnhancedLogging = true
	case ProfileMinimal, ProfileCustom:
		// minimal keeps only the error handler; custom starts from the
		// same baseline and relies entirely on explicit flags.
	}
	return f
}

// Security holds credential and trust settings.
type Security struct {
	// SigningKey is the symmetric MAC key for credentials (>= 32 bytes).
	SigningKey string `mapstructure:"signing_key"`

	// SigningKeyID names the active key for future rotation.
	SigningKeyID string `mapstructure:"signing_key_id"`

	// InternalTrustToken is the gateway <-> tool server shared secret.
	InternalTrustToken string `mapstructure:"internal_trust_token"`

	// AccessTTL is the access credential lifetime (default 30m).
	AccessTTL time.Duration `mapstructure:"access_ttl"`

	// RefreshTTL is the refresh credential lifetime (default 168h).
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`

	// RequireAuth controls whether public methods (tools/list, health)
	// may skip authentication.
	RequireAuth bool `mapstructure:"require_auth"`

	// PublicMethods are methods that bypass the authentication stage.
	PublicMethods []string `mapstructure:"public_methods"`

	// BcryptCost is the password hashing cost parameter.
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// RateLimit holds token-bucket parameters.
type RateLimit struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	Burst     int `mapstructure:"burst"`
}

// Cache holds result-cache settings. TTLs are per tool name.
type Cache struct {
	TTL map[string]time.Duration `mapstructure:"ttl"`
}

// Stores holds backing-store DSNs.
type Stores struct {
	// SessionStoreURL is the Redis URL for the session store.
	SessionStoreURL string `mapstructure:"session_store_url"`

	// KVStoreURL is the Redis URL for the result cache and distributed
	// rate limiting. Empty selects the in-memory store.
	KVStoreURL string `mapstructure:"kv_store_url"`

	// UserDirectoryDSN is the SQLite DSN for users and grants.
	UserDirectoryDSN string `mapstructure:"user_directory_dsn"`
}

// Server holds bind settings for one HTTP surface.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Gateway holds gateway-specific settings.
type Gateway struct {
	Server `mapstructure:",squash"`

	// ToolServerURL is where the gateway forwards tool calls.
	ToolServerURL string `mapstructure:"tool_server_url"`
}

// Logging holds request-logging settings.
type Logging struct {
	// SensitiveFields are keys whose values the logging middleware
	// redacts.
	SensitiveFields []string `mapstructure:"sensitive_fields"`
}

// AdminBootstrap seeds an initial admin account when the user directory
// is empty.
type AdminBootstrap struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// Config is the full typed configuration.
type Config struct {
	Name       string         `mapstructure:"name"`
	Profile    Profile        `mapstructure:"profile"`
	Features   Features       `mapstructure:"features"`
	Security   Security       `mapstructure:"security"`
	RateLimit  RateLimit      `mapstructure:"rate"`
	Cache      Cache          `mapstructure:"cache"`
	Stores     Stores         `mapstructure:"stores"`
	Gateway    Gateway        `mapstructure:"gateway"`
	ToolServer Server         `mapstructure:"tool_server"`
	Logging    Logging        `mapstructure:"logging"`
	Admin      AdminBootstrap `mapstructure:"admin_bootstrap"`

	// DecisionCacheTTL bounds authorization decision staleness.
	DecisionCacheTTL time.Duration `mapstructure:"decision_cache_ttl"`
}

// Default returns the configuration defaults before profile and overrides
// are applied.
func Default() *Config {
	return &Config{
		Name:     "mediator",
		Profile:  ProfileMinimal,
		Features: featuresForProfile(ProfileMinimal),
		Security: Security{
			SigningKeyID: "primary",
			AccessTTL:    30 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			RequireAuth:  true,
			PublicMethods: []string{
				"health_check",
			},
			BcryptCost: 10,
		},
		RateLimit: RateLimit{
			PerMinute: 60,
			PerHour:   1000,
			Burst:     10,
		},
		Cache: Cache{
			TTL: map[string]time.Duration{
				"search_web":      5 * time.Minute,
				"search_vectors":  15 * time.Minute,
				"search_database": 10 * time.Minute,
				"search_all":      5 * time.Minute,
			},
		},
		Stores: Stores{
			UserDirectoryDSN: "file:mediator.db?_pragma=busy_timeout(5000)",
		},
		Gateway: Gateway{
			Server:        Server{Host: "127.0.0.1", Port: 8000},
			ToolServerURL: "http://127.0.0.1:8001",
		},
		ToolServer: Server{Host: "127.0.0.1", Port: 8001},
		Logging: Logging{
			SensitiveFields: []string{
				"password", "token", "api_key", "secret", "auth",
				"authorization", "refresh_token",
			},
		},
		DecisionCacheTTL: 30 * time.Second,
	}
}

// Load reads configuration from the file named by the "config" viper key
// (if any), the environment, and flags, and applies profile presets.
func Load() (*Config, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("MEDIATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()

	// Profile first, so its preset is the baseline the explicit
	// feature keys override.
	profile, err := ParseProfile(v.GetString("profile"))
	if err != nil {
		return nil, err
	}
	cfg.Profile = profile
	cfg.Features = featuresForProfile(profile)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The error handler is always present regardless of profile or flags.
	cfg.Features.ErrorHandler = true

	return cfg, nil
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	var errs []error

	if c.Features.Auth {
		if len(c.Security.SigningKey) < minSecretLength {
			errs = append(errs, fmt.Errorf(
				"security.signing_key must be at least %d bytes when auth is enabled", minSecretLength))
		}
		if len(c.Security.InternalTrustToken) < minSecretLength {
			errs = append(errs, fmt.Errorf(
				"security.internal_trust_token must be at least %d bytes when auth is enabled", minSecretLength))
		}
		if c.Security.AccessTTL <= 0 || c.Security.RefreshTTL <= 0 {
			errs = append(errs, errors.New("credential TTLs must be positive"))
		}
	}

	if c.Features.Cache && c.Stores.KVStoreURL == "" {
		errs = append(errs, errors.New("stores.kv_store_url is required when cache is enabled"))
	}

	if c.Features.RateLimit {
		if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 || c.RateLimit.Burst <= 0 {
			errs = append(errs, errors.New("rate limit parameters must be positive"))
		}
	}

	if c.ToolServer.Port < 1 || c.ToolServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid tool server port: %d", c.ToolServer.Port))
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid gateway port: %d", c.Gateway.Port))
	}

	return errors.Join(errs...)
}

// EnabledFeatures returns the names of enabled features, for startup logs.
func (c *Config) EnabledFeatures() []string {
	var out []string
	if c.Features.Auth {
		out = append(out, "auth")
	}
	if c.Features.Cache {
		out = append(out, "cache")
	}
	if c.Features.RateLimit {
		out = append(out, "rate_limit")
	}
	if c.Features.Metrics {
		out = append(out, "metrics")
	}
	if c.Features.Validation {
		out = append(out, "validation")
	}
	if c.Features.ErrorHandler {
		out = append(out, "error_handler")
	}
	if c.Features.EnhancedLogging {
		out = append(out, "enhanced_logging")
	}
	return out
}
