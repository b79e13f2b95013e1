package gorm

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thebtf/hemoscan/pkg/models"
)

// UserStore provides user repository operations backed by the Store.
// It implements auth.UserRepository.
type UserStore struct {
	store *Store
}

// NewUserStore creates a new user store.
func NewUserStore(store *Store) *UserStore {
	return &UserStore{store: store}
}

// FindByEmail retrieves a user by normalized email. Returns (nil, nil) if
// no record matches.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var rec UserRecord
	err := s.store.DB.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(email)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordToUser(&rec)
}

// FindByID retrieves a user by id. Returns (nil, nil) if no record matches.
func (s *UserStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var rec UserRecord
	err := s.store.DB.WithContext(ctx).
		Where("id = ?", id.String()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordToUser(&rec)
}

// Create stores a new user record.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	rec := &UserRecord{
		ID:           user.ID.String(),
		Name:         user.Name,
		Email:        models.NormalizeEmail(user.Email),
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		HasBiometric: user.HasBiometric,
	}
	if user.BiometricTemplateID != "" {
		rec.BiometricTemplateID = sql.NullString{String: user.BiometricTemplateID, Valid: true}
	}
	if !user.CreatedAt.IsZero() {
		rec.CreatedAt = user.CreatedAt.Format(time.RFC3339)
		rec.CreatedAtEpoch = user.CreatedAt.UnixMilli()
	}
	return s.store.DB.WithContext(ctx).Create(rec).Error
}

// UpdateLastLogin records the login timestamp on the user record.
func (s *UserStore) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.store.DB.WithContext(ctx).
		Model(&UserRecord{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"last_login_at":    at.Format(time.RFC3339),
			"last_login_epoch": at.UnixMilli(),
		}).Error
}

// SetBiometric marks the user record enrolled with the given template.
func (s *UserStore) SetBiometric(ctx context.Context, id uuid.UUID, templateID string) error {
	return s.store.DB.WithContext(ctx).
		Model(&UserRecord{}).
		Where("id = ?", id.String()).
		Updates(map[string]interface{}{
			"has_biometric":         true,
			"biometric_template_id": templateID,
		}).Error
}

// recordToUser converts a database record to the domain model.
func recordToUser(rec *UserRecord) (*models.User, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           id,
		Name:         rec.Name,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		Role:         models.Role(rec.Role),
		HasBiometric: rec.HasBiometric,
	}
	if rec.BiometricTemplateID.Valid {
		user.BiometricTemplateID = rec.BiometricTemplateID.String
	}
	if rec.LastLoginEpoch.Valid {
		user.LastLoginAt = time.UnixMilli(rec.LastLoginEpoch.Int64)
	}
	if rec.CreatedAtEpoch != 0 {
		user.CreatedAt = time.UnixMilli(rec.CreatedAtEpoch)
	}
	return user, nil
}
