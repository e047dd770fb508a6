package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent accord configuration stored as
// config.toml in the .accord/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Agent       AgentConfig       `toml:"agent"`
	Storage     StorageConfig     `toml:"storage"`
	Keystore    KeystoreConfig    `toml:"keystore"`
	Protocol    ProtocolConfig    `toml:"protocol"`
	API         APIConfig         `toml:"api"`
	Registry    RegistryConfig    `toml:"registry"`
	Anchor      AnchorConfig      `toml:"anchor"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// AgentConfig names the identity commands act as by default.
type AgentConfig struct {
	DID string `toml:"did,omitempty"`
}

// StorageConfig selects the identity and agreement store.
type StorageConfig struct {
	// Driver is one of "sqlite", "postgres", "libsql", or "memory".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
	LibSQLURL   string `toml:"libsql_url,omitempty"`
}

// KeystoreConfig locates private key material.
type KeystoreConfig struct {
	// Dir defaults to keys/ under the .accord directory.
	Dir string `toml:"dir,omitempty"`
}

// ProtocolConfig holds timing parameters of the identity and agreement
// services. Durations use Go syntax ("168h").
type ProtocolConfig struct {
	MaxSkew        string `toml:"max_skew,omitempty"`
	ProposalTTL    string `toml:"proposal_ttl,omitempty"`
	EvidenceWindow string `toml:"evidence_window,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`

	// RateLimit is requests per minute per client IP. "0" disables it.
	RateLimit string `toml:"rate_limit,omitempty"`

	// AllowedOrigins is a comma separated CORS allow-list. Empty sends no
	// CORS headers, so browsers refuse cross-origin requests.
	AllowedOrigins string `toml:"allowed_origins,omitempty"`

	// Auth is "none" or "required". Required reads need an API key or a
	// DID-signed request.
	Auth string `toml:"auth,omitempty"`
	Key  string `toml:"key,omitempty"`
}

// Limit returns the parsed rate limit.
func (a APIConfig) Limit() (int, error) {
	if a.RateLimit == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(a.RateLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit %q: %w", a.RateLimit, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("rate limit %q must not be negative", a.RateLimit)
	}
	return n, nil
}

// Origins returns the CORS allow-list.
func (a APIConfig) Origins() []string {
	var out []string
	for o := range strings.SplitSeq(a.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RegistryConfig holds DID document publication targets.
type RegistryConfig struct {
	// Dir defaults to registry/ under the .accord directory.
	Dir   string `toml:"dir,omitempty"`
	URL   string `toml:"url,omitempty"`
	Token string `toml:"token,omitempty"`
}

// AnchorConfig selects the evidence timestamping witness.
type AnchorConfig struct {
	// Provider is "none" or "rfc3161".
	Provider string `toml:"provider,omitempty"`
	URL      string `toml:"url,omitempty"`
	Policy   string `toml:"policy,omitempty"`
}

// EventStreamConfig selects where committed agreement events are published.
type EventStreamConfig struct {
	// Provider is "none" or "kafka".
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// Duration parses a protocol duration, falling back to def when s is empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := Duration(v, 0); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = v
			return nil
		},
	}
}

func intKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for %s: %q (expected a non-negative integer)", name, v)
			}
			*field(c) = v
			return nil
		},
	}
}

func choiceKey(name string, choices []string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			for _, ch := range choices {
				if v == ch {
					*field(c) = v
					return nil
				}
			}
			return fmt.Errorf("invalid value for %s: %q (expected one of %v)", name, v, choices)
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"agent.did": stringKey(func(c *Config) *string { return &c.Agent.DID }),

	"storage.driver": choiceKey("storage.driver", StorageDrivers,
		func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"storage.libsql_url":   stringKey(func(c *Config) *string { return &c.Storage.LibSQLURL }),

	"keystore.dir": stringKey(func(c *Config) *string { return &c.Keystore.Dir }),

	"protocol.max_skew": durationKey("protocol.max_skew",
		func(c *Config) *string { return &c.Protocol.MaxSkew }),
	"protocol.proposal_ttl": durationKey("protocol.proposal_ttl",
		func(c *Config) *string { return &c.Protocol.ProposalTTL }),
	"protocol.evidence_window": durationKey("protocol.evidence_window",
		func(c *Config) *string { return &c.Protocol.EvidenceWindow }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
	"api.rate_limit": intKey("api.rate_limit",
		func(c *Config) *string { return &c.API.RateLimit }),
	"api.allowed_origins": stringKey(func(c *Config) *string { return &c.API.AllowedOrigins }),
	"api.auth": choiceKey("api.auth", APIAuthModes,
		func(c *Config) *string { return &c.API.Auth }),
	"api.key": stringKey(func(c *Config) *string { return &c.API.Key }),

	"registry.dir":   stringKey(func(c *Config) *string { return &c.Registry.Dir }),
	"registry.url":   stringKey(func(c *Config) *string { return &c.Registry.URL }),
	"registry.token": stringKey(func(c *Config) *string { return &c.Registry.Token }),

	"anchor.provider": choiceKey("anchor.provider", AnchorProviders,
		func(c *Config) *string { return &c.Anchor.Provider }),
	"anchor.url":    stringKey(func(c *Config) *string { return &c.Anchor.URL }),
	"anchor.policy": stringKey(func(c *Config) *string { return &c.Anchor.Policy }),

	"eventstream.provider": choiceKey("eventstream.provider", EventStreamProviders,
		func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers": stringKey(func(c *Config) *string { return &c.EventStream.Brokers }),
	"eventstream.topic":   stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
}

// secretKeys are masked by "accord config list".
var secretKeys = map[string]bool{
	"api.key":              true,
	"registry.token":       true,
	"storage.postgres_dsn": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Mask hides all but the last four characters of a secret.
func Mask(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

