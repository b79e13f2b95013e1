// Package gorm provides GORM-based database operations for hemoscan.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// GORM Models

// UserRecord represents a registered user.
type UserRecord struct {
	ID           string `gorm:"primaryKey;type:text"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"type:text;check:role IN ('lab_technician', 'doctor', 'admin');not null"`

	HasBiometric        bool `gorm:"default:false"`
	BiometricTemplateID sql.NullString

	LastLoginAt    sql.NullString
	LastLoginEpoch sql.NullInt64
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"index:idx_users_created,sort:desc;not null"`
}

func (UserRecord) TableName() string { return "users" }

// BeforeCreate hook to ensure timestamps are set.
func (u *UserRecord) BeforeCreate(tx *gorm.DB) error {
	if u.CreatedAtEpoch == 0 {
		u.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// BatchRecord represents one completed analysis batch for a sample.
// Cancelled batches are never archived.
type BatchRecord struct {
	ID         string `gorm:"primaryKey;type:text"`
	SampleID   string `gorm:"index;not null"`
	UserID     string `gorm:"index;not null"`
	SampleType string `gorm:"type:text;check:sample_type IN ('thick_smear', 'thin_smear');not null"`

	TotalImages    int `gorm:"not null"`
	PositiveImages int `gorm:"not null"`
	TotalParasites int `gorm:"not null"`
	FailedImages   int `gorm:"not null"`

	CompletedAt      string `gorm:"not null"`
	CompletedAtEpoch int64  `gorm:"index:idx_batches_completed,sort:desc;not null"`

	Results []ResultRecord `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

func (BatchRecord) TableName() string { return "batches" }

// BeforeCreate hook to ensure timestamps are set.
func (b *BatchRecord) BeforeCreate(tx *gorm.DB) error {
	if b.CompletedAtEpoch == 0 {
		b.CompletedAtEpoch = time.Now().UnixMilli()
	}
	if b.CompletedAt == "" {
		b.CompletedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// ResultRecord represents one image's analysis result within a batch,
// ordered by Position.
type ResultRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	BatchID  string `gorm:"index;not null"`
	Position int    `gorm:"not null"`
	ImageURI string `gorm:"not null"`

	Confidence        int  `gorm:"not null"`
	ParasitesDetected bool `gorm:"default:false"`
	ParasiteCount     int  `gorm:"default:0"`
	RBCCount          int  `gorm:"default:0"`

	Failed        bool `gorm:"default:false"`
	FailureReason sql.NullString

	AnalyzedAt      string `gorm:"not null"`
	AnalyzedAtEpoch int64  `gorm:"not null"`
}

func (ResultRecord) TableName() string { return "batch_results" }
