package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// cannot drift between "accord propose" and "accord serve".
type Flag struct {
	// Name is the long flag name (e.g. "as").
	Name string

	// Shorthand is the one-letter short flag. Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "agent.did").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
const (
	FlagAgent          = "as"
	FlagStorageDriver  = "storage"
	FlagSQLite         = "sqlite"
	FlagPostgres       = "postgres"
	FlagLibSQL         = "libsql"
	FlagKeystoreDir    = "keystore"
	FlagAPIListen      = "listen"
	FlagAPIRateLimit   = "rate-limit"
	FlagAPIOrigins     = "allowed-origins"
	FlagAPIAuth        = "auth"
	FlagAPIKey         = "api-key"
	FlagRegistryURL    = "registry-url"
	FlagAnchorProvider = "anchor"
	FlagAnchorURL      = "anchor-url"
	FlagEventStream    = "eventstream"
	FlagKafkaBrokers   = "kafka-brokers"
	FlagKafkaTopic     = "kafka-topic"
)

// Flags is the registry shared by every accord command.
var Flags = FlagSet{
	FlagAgent: {
		Name:        "as",
		ViperKey:    "agent.did",
		Description: "DID (or legacy id) to act as",
	},
	FlagStorageDriver: {
		Name:        "storage",
		ViperKey:    "storage.driver",
		Description: "Storage driver (sqlite, postgres, libsql, memory)",
	},
	FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database (default: accord.db in the .accord directory)",
	},
	FlagPostgres: {
		Name:        "postgres",
		ViperKey:    "storage.postgres_dsn",
		Description: "PostgreSQL connection string",
	},
	FlagLibSQL: {
		Name:        "libsql",
		ViperKey:    "storage.libsql_url",
		Description: "libsql:// URL or local path",
	},
	FlagKeystoreDir: {
		Name:        "keystore",
		ViperKey:    "keystore.dir",
		Description: "Directory holding encrypted private keys",
	},
	FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	FlagAPIRateLimit: {
		Name:        "rate-limit",
		ViperKey:    "api.rate_limit",
		Description: "Requests per minute per client IP (0 disables)",
	},
	FlagAPIOrigins: {
		Name:        "allowed-origins",
		ViperKey:    "api.allowed_origins",
		Description: "Comma separated CORS origins (* for any)",
	},
	FlagAPIAuth: {
		Name:        "auth",
		ViperKey:    "api.auth",
		Description: "Request authentication (none, required)",
	},
	FlagAPIKey: {
		Name:        "api-key",
		ViperKey:    "api.key",
		Description: "API key accepted in the X-API-Key header",
	},
	FlagRegistryURL: {
		Name:        "registry-url",
		ViperKey:    "registry.url",
		Description: "HTTP registry that accepts DID documents",
	},
	FlagAnchorProvider: {
		Name:        "anchor",
		ViperKey:    "anchor.provider",
		Description: "Evidence anchoring provider (none, rfc3161)",
	},
	FlagAnchorURL: {
		Name:        "anchor-url",
		ViperKey:    "anchor.url",
		Description: "RFC 3161 timestamp authority URL",
	},
	FlagEventStream: {
		Name:        "eventstream",
		ViperKey:    "eventstream.provider",
		Description: "Agreement event stream (none, kafka)",
	},
	FlagKafkaBrokers: {
		Name:        "kafka-brokers",
		ViperKey:    "eventstream.brokers",
		Description: "Comma separated Kafka brokers",
	},
	FlagKafkaTopic: {
		Name:        "kafka-topic",
		ViperKey:    "eventstream.topic",
		Description: "Kafka topic for agreement events",
	},
}

// StorageFlags are registered on every command that opens the store.
var StorageFlags = []string{
	FlagAgent,
	FlagStorageDriver,
	FlagSQLite,
	FlagPostgres,
	FlagLibSQL,
	FlagKeystoreDir,
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddStringFlags registers every key of fs listed in keys. The flag values
// are read back through viper after BindRegisteredFlags.
func AddStringFlags(cmd *cobra.Command, fs FlagSet, keys []string) {
	for _, key := range keys {
		var sink string
		AddStringFlag(cmd, fs, key, &sink)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}
