// Package models contains domain models for hemoscan.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents a user's clinical role.
type Role string

const (
	RoleLabTechnician Role = "lab_technician"
	RoleDoctor        Role = "doctor"
	RoleAdmin         Role = "admin"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleLabTechnician, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// NormalizeEmail canonicalizes an email address for lookup and storage.
// Comparison is case-insensitive across the whole system.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User represents a registered user record.
type User struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	PasswordHash        string    `json:"-"`
	Role                Role      `json:"role"`
	HasBiometric        bool      `json:"has_biometric"`
	BiometricTemplateID string    `json:"-"`
	LastLoginAt         time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Session represents the authenticated actor for the current process lifetime.
// Existence of a Session implies a successful credential or biometric verification.
type Session struct {
	UserID       uuid.UUID `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	HasBiometric bool      `json:"has_biometric"`
	LoginAt      time.Time `json:"login_at"`
}

// NewSession builds a Session from a user record at login time.
func NewSession(u *User) *Session {
	return &Session{
		UserID:       u.ID,
		DisplayName:  u.Name,
		Email:        u.Email,
		Role:         u.Role,
		HasBiometric: u.HasBiometric,
		LoginAt:      time.Now(),
	}
}

// PendingRegistration bridges account creation and biometric enrollment.
// It exists only between a successful Register and either SetupBiometric
// completion or an explicit skip, and is erased (not marked inactive) after
// consumption. Password is held only for that window.
type PendingRegistration struct {
	UserID   uuid.UUID
	Email    string
	Password string
	Role     Role
}

// Erase zeroes the transient credential material.
func (p *PendingRegistration) Erase() {
	p.Password = ""
	p.Email = ""
	p.UserID = uuid.Nil
}
