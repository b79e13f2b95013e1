package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thebtf/hemoscan/pkg/models"
)

// ErrNotCompleted rejects archiving a job that did not reach Completed.
var ErrNotCompleted = errors.New("only completed batches are archived")

// ResultStore archives completed batches so the history surface has
// something to list. Cancelled jobs are never archived.
type ResultStore struct {
	store *Store
}

// NewResultStore creates a new result store.
func NewResultStore(store *Store) *ResultStore {
	return &ResultStore{store: store}
}

// ArchivedBatch is one archived batch with its ordered per-image results.
type ArchivedBatch struct {
	BatchID    uuid.UUID               `json:"batch_id"`
	SampleID   uuid.UUID               `json:"sample_id"`
	UserID     uuid.UUID               `json:"user_id"`
	SampleType models.SampleType       `json:"sample_type"`
	Summary    models.BatchSummary     `json:"summary"`
	Results    []models.AnalysisResult `json:"results"`
}

// SaveCompleted archives a completed job's ordered results under the acting
// user. The batch row and its result rows are written in one transaction.
func (s *ResultStore) SaveCompleted(ctx context.Context, batchID, sampleID, userID uuid.UUID, sampleType models.SampleType, results []models.AnalysisResult) error {
	if len(results) == 0 {
		return ErrNotCompleted
	}

	summary := models.Summarize(sampleID, results)
	rec := &BatchRecord{
		ID:             batchID.String(),
		SampleID:       sampleID.String(),
		UserID:         userID.String(),
		SampleType:     string(sampleType),
		TotalImages:    summary.TotalImages,
		PositiveImages: summary.PositiveImages,
		TotalParasites: summary.TotalParasites,
		FailedImages:   summary.FailedImages,
	}

	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		for i, r := range results {
			row := &ResultRecord{
				BatchID:           rec.ID,
				Position:          i,
				ImageURI:          r.ImageURI,
				Confidence:        r.Confidence,
				ParasitesDetected: r.ParasitesDetected,
				ParasiteCount:     r.ParasiteCount,
				RBCCount:          r.RBCCount,
				Failed:            r.Failed,
				AnalyzedAt:        r.Timestamp.Format(time.RFC3339),
				AnalyzedAtEpoch:   r.Timestamp.UnixMilli(),
			}
			if r.FailureReason != "" {
				row.FailureReason = sql.NullString{String: r.FailureReason, Valid: true}
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("create result %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetBatch retrieves one archived batch with results in submission order.
// Returns (nil, nil) when the batch is unknown.
func (s *ResultStore) GetBatch(ctx context.Context, batchID uuid.UUID) (*ArchivedBatch, error) {
	var rec BatchRecord
	err := s.store.DB.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", batchID.String()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordToArchived(&rec)
}

// ListRecent returns the latest archived batches for a user, newest first.
func (s *ResultStore) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*ArchivedBatch, error) {
	if limit <= 0 {
		limit = 20
	}

	var recs []BatchRecord
	err := s.store.DB.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("user_id = ?", userID.String()).
		Order("completed_at_epoch DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*ArchivedBatch, 0, len(recs))
	for i := range recs {
		ab, err := recordToArchived(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ab)
	}
	return out, nil
}

func recordToArchived(rec *BatchRecord) (*ArchivedBatch, error) {
	batchID, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, err
	}
	sampleID, err := uuid.Parse(rec.SampleID)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(rec.UserID)
	if err != nil {
		return nil, err
	}

	ab := &ArchivedBatch{
		BatchID:    batchID,
		SampleID:   sampleID,
		UserID:     userID,
		SampleType: models.SampleType(rec.SampleType),
		Summary: models.BatchSummary{
			SampleID:       sampleID,
			TotalImages:    rec.TotalImages,
			PositiveImages: rec.PositiveImages,
			TotalParasites: rec.TotalParasites,
			FailedImages:   rec.FailedImages,
			CompletedAt:    time.UnixMilli(rec.CompletedAtEpoch),
		},
		Results: make([]models.AnalysisResult, 0, len(rec.Results)),
	}
	for _, row := range rec.Results {
		r := models.AnalysisResult{
			ImageURI:          row.ImageURI,
			Confidence:        row.Confidence,
			ParasitesDetected: row.ParasitesDetected,
			ParasiteCount:     row.ParasiteCount,
			RBCCount:          row.RBCCount,
			Timestamp:         time.UnixMilli(row.AnalyzedAtEpoch),
			Failed:            row.Failed,
		}
		if row.FailureReason.Valid {
			r.FailureReason = row.FailureReason.String
		}
		ab.Results = append(ab.Results, r)
	}
	return ab, nil
}
