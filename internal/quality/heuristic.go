package quality

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"os"

	"github.com/thebtf/hemoscan/pkg/models"
)

const (
	// minWidth/minHeight are the smallest dimensions considered usable for
	// parasite counting.
	minWidth  = 640
	minHeight = 480

	// minFileSize below which an image is assumed too compressed or blurred
	// to carry usable detail.
	minFileSize = 32 * 1024
)

// Heuristic is a local Assessor that scores images from cheap file headers:
// dimensions and encoded size. It stands in for the microscope vendor's
// assessment service on devices that operate offline.
type Heuristic struct{}

// NewHeuristic creates a heuristic assessor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Assess scores the image at imageURI (a local file path).
// An empty or undecodable file scores 0 with a low-resolution tag rather
// than failing; only filesystem errors are surfaced.
func (h *Heuristic) Assess(ctx context.Context, imageURI string) (models.QualityResult, error) {
	if err := ctx.Err(); err != nil {
		return models.QualityResult{}, err
	}

	info, err := os.Stat(imageURI)
	if err != nil {
		return models.QualityResult{}, fmt.Errorf("%w: %v", ErrAssessment, err)
	}

	if info.Size() == 0 {
		return models.QualityResult{
			Score:  0,
			Issues: []string{models.IssueLowResolution},
		}, nil
	}

	score := 100
	var issues []string

	f, err := os.Open(imageURI)
	if err != nil {
		return models.QualityResult{}, fmt.Errorf("%w: %v", ErrAssessment, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		// Not a decodable image: report unusable, not an error
		return models.QualityResult{
			Score:  0,
			Issues: []string{models.IssueLowResolution},
		}, nil
	}

	if cfg.Width < minWidth || cfg.Height < minHeight {
		score -= 50
		issues = append(issues, models.IssueLowResolution)
	}

	if info.Size() < minFileSize {
		// Heavily compressed capture; fine detail is likely gone
		score -= 30
		issues = append(issues, models.IssueBlur)
	}

	if score < 0 {
		score = 0
	}
	return models.QualityResult{Score: score, Issues: issues}, nil
}
