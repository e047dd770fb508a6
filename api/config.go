// Package api provides the HTTP API for agent identities and the
// propose/accept/arbitrate protocol.
package api

import (
	"time"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/arbitration"
	"github.com/papercomputeco/accord/pkg/identity"
	"github.com/papercomputeco/accord/pkg/timeline"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	Identity    *identity.Service
	Agreements  *agreement.Service
	Arbitration *arbitration.Service

	// Timeline reads the event journal. Both storage drivers satisfy it.
	Timeline timeline.Reader

	// Now judges proposal expiry on timeline reads. Defaults to time.Now.
	Now func() time.Time

	// DisableMCP leaves /mcp unmounted.
	DisableMCP bool

	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int

	// AllowedOrigins is the CORS allow-list. Empty sends no CORS headers.
	AllowedOrigins []string

	// RequireAuth guards every route except /ping and identity lookups
	// with an API key or a DID-signed request.
	RequireAuth bool
	APIKey      string
}
