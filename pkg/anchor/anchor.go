// Package anchor hands evidence hashes to an external witness so their
// existence at a point in time can be shown later without trusting the
// parties.
package anchor

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by anchorers that are switched off.
var ErrDisabled = errors.New("anchoring disabled")

// Receipt is what a witness returned for a hash.
type Receipt struct {
	Provider string    `json:"provider"`
	Receipt  string    `json:"receipt"`
	At       time.Time `json:"at"`
}

// Anchorer witnesses evidence hashes.
type Anchorer interface {
	// Anchor submits hash ("sha256:<hex>") and returns the witness receipt.
	Anchor(ctx context.Context, hash string) (Receipt, error)
}
