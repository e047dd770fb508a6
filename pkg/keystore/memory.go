package keystore

import (
	"context"
	"sync"

	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

// Memory is an in-process KeyStore for tests and ephemeral agents.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]*signing.KeyPair
}

// NewMemory creates an empty in-memory key store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*signing.KeyPair)}
}

func memoryKey(subject, publicKey string) string {
	return subject + "/" + publicKey
}

func (m *Memory) Put(_ context.Context, subject, keyID string, kp *signing.KeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(subject, kp.Multibase())
	if _, ok := m.keys[k]; ok {
		return errs.Duplicate("key %s for %s%s is already held", kp.Multibase(), subject, keyID)
	}
	m.keys[k] = kp
	return nil
}

func (m *Memory) Get(_ context.Context, subject, publicKey string) (*signing.KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kp, ok := m.keys[memoryKey(subject, publicKey)]
	if !ok {
		return nil, errs.NotFound("no private key for %s %s", subject, publicKey)
	}
	return kp, nil
}

func (m *Memory) Has(_ context.Context, subject, publicKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[memoryKey(subject, publicKey)]
	return ok, nil
}

// Forget drops a key, simulating loss of the device that held it.
func (m *Memory) Forget(subject, publicKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, memoryKey(subject, publicKey))
}
