package models

import "time"

// SampleType represents the preparation of the blood smear on the slide.
type SampleType string

const (
	SampleThickSmear SampleType = "thick_smear"
	SampleThinSmear  SampleType = "thin_smear"
)

// ValidSampleType reports whether t is a known sample preparation.
func ValidSampleType(t SampleType) bool {
	return t == SampleThickSmear || t == SampleThinSmear
}

// Quality issue tags attached to assessed images.
const (
	IssueLowResolution    = "low resolution"
	IssueBlur             = "blur"
	IssueUnderexposed     = "underexposed"
	IssueOverexposed      = "overexposed"
	IssueAssessmentFailed = "assessment failed"
)

// QualityResult is the Quality Assessor's verdict for one image.
type QualityResult struct {
	Score  int      `json:"score"` // 0..100
	Issues []string `json:"issues,omitempty"`
}

// Usable reports whether the image meets the given score threshold.
func (q QualityResult) Usable(threshold int) bool {
	return q.Score >= threshold
}

// CapturedImage is one locally-sourced image awaiting or having undergone
// quality assessment. Quality is nil until assessed.
type CapturedImage struct {
	URI        string         `json:"uri"`
	SampleType SampleType     `json:"sample_type"`
	Quality    *QualityResult `json:"quality,omitempty"`
	AddedAt    time.Time      `json:"added_at"`
}
