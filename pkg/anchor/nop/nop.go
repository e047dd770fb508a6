// Package nop provides an anchor.Anchorer that witnesses nothing.
package nop

import (
	"context"

	"github.com/papercomputeco/accord/pkg/anchor"
)

// Anchorer is a no-op anchorer used when no witness is configured.
type Anchorer struct{}

// NewAnchorer creates a new no-op anchorer.
func NewAnchorer() *Anchorer {
	return &Anchorer{}
}

// Anchor always reports anchor.ErrDisabled.
func (*Anchorer) Anchor(context.Context, string) (anchor.Receipt, error) {
	return anchor.Receipt{}, anchor.ErrDisabled
}
