package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchState represents the lifecycle state of a batch analysis job.
type BatchState string

const (
	BatchIdle      BatchState = "idle"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchCancelled BatchState = "cancelled"
)

// AnalysisResult is the Analysis Service's verdict for one image.
// A per-image analysis failure is recorded in place (Failed + FailureReason)
// rather than omitted, so result slots always line up with submitted images.
type AnalysisResult struct {
	ImageURI          string    `json:"image_uri"`
	Confidence        int       `json:"confidence"` // 0..100
	ParasitesDetected bool      `json:"parasites_detected"`
	ParasiteCount     int       `json:"parasite_count"`
	RBCCount          int       `json:"rbc_count"`
	Timestamp         time.Time `json:"timestamp"`
	Failed            bool      `json:"failed,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
}

// FailedResult builds the placeholder result recorded when analysis of one
// image fails or times out.
func FailedResult(imageURI string, reason string) AnalysisResult {
	return AnalysisResult{
		ImageURI:      imageURI,
		Timestamp:     time.Now(),
		Failed:        true,
		FailureReason: reason,
	}
}

// Progress is one progress event emitted by a running batch job.
// Index is the number of images processed so far (1-based in events).
type Progress struct {
	Index      int             `json:"index"`
	Total      int             `json:"total"`
	LastResult *AnalysisResult `json:"last_result,omitempty"`
}

// BatchSummary is a derived, read-only aggregate over a completed job's
// results. It is never persisted as-is; it is recomputed on demand.
type BatchSummary struct {
	SampleID       uuid.UUID `json:"sample_id"`
	TotalImages    int       `json:"total_images"`
	PositiveImages int       `json:"positive_images"`
	TotalParasites int       `json:"total_parasites"`
	FailedImages   int       `json:"failed_images"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Summarize computes the aggregate over an ordered result set.
func Summarize(sampleID uuid.UUID, results []AnalysisResult) BatchSummary {
	s := BatchSummary{
		SampleID:    sampleID,
		TotalImages: len(results),
		CompletedAt: time.Now(),
	}
	for _, r := range results {
		if r.Failed {
			s.FailedImages++
			continue
		}
		if r.ParasitesDetected {
			s.PositiveImages++
			s.TotalParasites += r.ParasiteCount
		}
	}
	return s
}
