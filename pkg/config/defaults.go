package config

const (
	defaultStorageDriver = "sqlite"
	defaultAPIListen     = ":8090"
	defaultAPIRateLimit  = "100"
	defaultAPIAuth       = "none"

	defaultMaxSkew        = "5m"
	defaultProposalTTL    = "168h"
	defaultEvidenceWindow = "168h"

	defaultAnchorProvider      = "none"
	defaultEventStreamProvider = "none"
	defaultEventStreamTopic    = "accord.agreement.events"
)

// Accepted provider names.
var (
	StorageDrivers       = []string{"sqlite", "postgres", "libsql", "memory"}
	AnchorProviders      = []string{"none", "rfc3161"}
	EventStreamProviders = []string{"none", "kafka"}
	APIAuthModes         = []string{"none", "required"}
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Protocol: ProtocolConfig{
			MaxSkew:        defaultMaxSkew,
			ProposalTTL:    defaultProposalTTL,
			EvidenceWindow: defaultEvidenceWindow,
		},
		API: APIConfig{
			Listen:    defaultAPIListen,
			RateLimit: defaultAPIRateLimit,
			Auth:      defaultAPIAuth,
		},
		Anchor: AnchorConfig{
			Provider: defaultAnchorProvider,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
	}
}
