// Package config owns the hot-reloadable service configuration. A
// Snapshot is an immutable value: it is built once from the YAML source,
// validated, and published wholesale by the Coordinator. Components take
// one snapshot per operation and never re-read it mid-flight.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCompressionLevel = 6
	defaultRateRule         = "60/minute"
	defaultMaxFileSize      = 10 << 20 // 10 MiB
	minFileSizeLimit        = 1024
	encryptionKeyBytes      = 32
)

// Snapshot is one immutable, versioned configuration value. Version is
// assigned by the Coordinator when the snapshot is published.
type Snapshot struct {
	Version int64 `yaml:"-"`

	HostDomain string `yaml:"host_domain"`

	Auth struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"auth"`

	Encryption struct {
		Enabled bool   `yaml:"enabled"`
		Key     string `yaml:"key"`
	} `yaml:"encryption"`

	Compression struct {
		Enabled bool `yaml:"enabled"`
		Level   int  `yaml:"level"`
	} `yaml:"compression"`

	RemoteStorage struct {
		Enabled   bool   `yaml:"enabled"`
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"remote_storage"`

	RateLimit struct {
		Rule     string `yaml:"rule"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"rate_limit"`

	MaxFileSize int64 `yaml:"max_file_size"`
}

// EncryptionKeyBytes decodes the configured encryption key. The key is a
// 32-byte value in URL-safe base64, the same shape the original secret
// tooling generates.
func (s *Snapshot) EncryptionKeyBytes() ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(s.Encryption.Key)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(s.Encryption.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(raw) != encryptionKeyBytes {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", encryptionKeyBytes, len(raw))
	}
	return raw, nil
}

// RateRule is a parsed admission-control policy: N requests per window.
type RateRule struct {
	N      int
	Window time.Duration
}

// ParseRateRule parses rules of the form "60/minute" or "10/second".
func ParseRateRule(rule string) (RateRule, error) {
	var n int
	var unit string
	if _, err := fmt.Sscanf(rule, "%d/%s", &n, &unit); err != nil {
		return RateRule{}, fmt.Errorf("parse rate rule %q: %w", rule, err)
	}
	if n <= 0 {
		return RateRule{}, fmt.Errorf("rate rule %q: count must be positive", rule)
	}
	var window time.Duration
	switch unit {
	case "second":
		window = time.Second
	case "minute":
		window = time.Minute
	case "hour":
		window = time.Hour
	case "day":
		window = 24 * time.Hour
	default:
		return RateRule{}, fmt.Errorf("rate rule %q: unknown window unit %q", rule, unit)
	}
	return RateRule{N: n, Window: window}, nil
}

// Parse decodes and normalizes a snapshot from YAML bytes. It does not
// run semantic validation; use Validate (or Load) for that.
func Parse(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, errors.New("config is empty")
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	snap.normalize()
	return &snap, nil
}

func (s *Snapshot) normalize() {
	if s.Compression.Level == 0 {
		s.Compression.Level = defaultCompressionLevel
	}
	if s.RateLimit.Rule == "" {
		s.RateLimit.Rule = defaultRateRule
	}
	if s.MaxFileSize == 0 {
		s.MaxFileSize = defaultMaxFileSize
	}
}

// Validate checks snapshot semantics beyond what the schema expresses.
// A snapshot that fails validation must never be published.
func (s *Snapshot) Validate() error {
	if s.HostDomain == "" {
		return errors.New("host_domain is required")
	}
	if s.Auth.Enabled && s.Auth.APIKey == "" {
		return errors.New("auth enabled but auth.api_key is empty")
	}
	if s.Encryption.Enabled {
		if s.Encryption.Key == "" {
			return errors.New("encryption enabled but encryption.key is empty")
		}
		if _, err := s.EncryptionKeyBytes(); err != nil {
			return err
		}
	}
	if s.Compression.Level < 1 || s.Compression.Level > 9 {
		return fmt.Errorf("compression.level must be 1-9, got %d", s.Compression.Level)
	}
	if s.MaxFileSize < minFileSizeLimit {
		return fmt.Errorf("max_file_size must be at least %d bytes", minFileSizeLimit)
	}
	if _, err := ParseRateRule(s.RateLimit.Rule); err != nil {
		return err
	}
	if s.RemoteStorage.Enabled {
		missing := s.missingRemoteFields()
		if len(missing) > 0 {
			return fmt.Errorf("remote_storage enabled but missing: %v", missing)
		}
	}
	return nil
}

func (s *Snapshot) missingRemoteFields() []string {
	var missing []string
	if s.RemoteStorage.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if s.RemoteStorage.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if s.RemoteStorage.AccessKey == "" {
		missing = append(missing, "access_key")
	}
	if s.RemoteStorage.SecretKey == "" {
		missing = append(missing, "secret_key")
	}
	return missing
}
