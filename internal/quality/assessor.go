// Package quality provides image quality assessment for hemoscan.
// The Assessor contract wraps the external quality collaborator; AssessAll
// fans assessment out across a selection since per-image assessments are
// independent and carry no ordering requirement.
package quality

import (
	"context"
	"errors"

	"github.com/thebtf/hemoscan/pkg/models"
)

// ErrAssessment indicates the collaborator could not score an image.
var ErrAssessment = errors.New("quality assessment failed")

// FallbackScore is the conservative score recorded when assessment of one
// image fails. It sits below the default usability threshold so the failure
// is surfaced to the user instead of silently passing.
const FallbackScore = 50

// Assessor scores a single image's suitability for analysis.
// Implementations must return within the caller's context deadline or fail
// explicitly; they must never hang.
type Assessor interface {
	Assess(ctx context.Context, imageURI string) (models.QualityResult, error)
}

// FallbackResult is the conservative placeholder recorded for a failed
// assessment.
func FallbackResult() models.QualityResult {
	return models.QualityResult{
		Score:  FallbackScore,
		Issues: []string{models.IssueAssessmentFailed},
	}
}
