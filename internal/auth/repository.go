package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/hemoscan/pkg/models"
)

// UserRepository is the user record store consumed by the Manager.
// Lookups return (nil, nil) when no record matches.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetBiometric(ctx context.Context, id uuid.UUID, templateID string) error
}

// MemoryRepository is an in-memory UserRepository used by tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*models.User
	order []uuid.UUID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]*models.User)}
}

// FindByEmail returns the user with the given (normalized) email, or (nil, nil).
func (r *MemoryRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = models.NormalizeEmail(email)
	for _, id := range r.order {
		if r.byID[id].Email == email {
			u := *r.byID[id]
			return &u, nil
		}
	}
	return nil, nil
}

// FindByID returns the user with the given id, or (nil, nil).
func (r *MemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// Create stores a new user record.
func (r *MemoryRepository) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	cp.Email = models.NormalizeEmail(cp.Email)
	r.byID[cp.ID] = &cp
	r.order = append(r.order, cp.ID)
	return nil
}

// UpdateLastLogin records the login timestamp on the user record.
func (r *MemoryRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.LastLoginAt = at
	}
	return nil
}

// SetBiometric marks the user record enrolled with the given template.
func (r *MemoryRepository) SetBiometric(ctx context.Context, id uuid.UUID, templateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.HasBiometric = true
		u.BiometricTemplateID = templateID
	}
	return nil
}
