package testutils

import (
	"context"
	"time"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/registry"
)

// MockPublisher records published DID documents.
type MockPublisher struct {
	Documents []*did.Document
}

// NewMockPublisher creates a new mock registry publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, doc *did.Document) (registry.Result, error) {
	m.Documents = append(m.Documents, doc)
	return registry.Result{Target: "mock", Location: "mock://" + doc.DID, PublishedAt: time.Unix(0, 0).UTC()}, nil
}
