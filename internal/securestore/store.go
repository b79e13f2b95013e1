// Package securestore provides the secure credential store for hemoscan.
// It persists small secrets (the current session blob, onboarding flag) on the
// device. The Session Manager is the store's only writer.
package securestore

import (
	"errors"
	"sync"
)

// Well-known store keys.
const (
	KeyCurrentSession      = "current_session"
	KeyOnboardingCompleted = "onboarding_completed"
	KeyRegistrationEmail   = "registration_email"
)

// ErrStorage indicates a read or write against the underlying store failed.
// Callers treat it as fatal for the attempted operation only.
var ErrStorage = errors.New("secure storage failure")

// Store is the secure credential store contract.
// Get returns (nil, nil) when the key is absent. Delete is idempotent.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Memory is an in-memory Store used by tests and as a fallback.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes Set return ErrStorage, for failure-path tests.
	FailWrites bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns the stored value, or (nil, nil) if absent.
func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Set stores a value under key.
func (m *Memory) Set(key string, value []byte) error {
	if m.FailWrites {
		return ErrStorage
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
