package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/papercomputeco/accord/pkg/anchor"
)

// MockAnchorer records anchored hashes and returns canned receipts.
type MockAnchorer struct {
	mu sync.Mutex

	// Hashes accumulates every hash passed to Anchor.
	Hashes []string

	// Fail causes Anchor to return an error.
	Fail bool
}

// NewMockAnchorer creates a new mock anchorer.
func NewMockAnchorer() *MockAnchorer {
	return &MockAnchorer{}
}

func (m *MockAnchorer) Anchor(_ context.Context, hash string) (anchor.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hashes = append(m.Hashes, hash)
	if m.Fail {
		return anchor.Receipt{}, errors.New("mock witness unavailable")
	}
	return anchor.Receipt{Provider: "mock", Receipt: "receipt:" + hash, At: time.Unix(0, 0).UTC()}, nil
}
