// Package analysis provides the Analysis Service client for hemoscan.
// The service performs per-image diagnostic inference; batching across images
// is the pipeline's responsibility, never the service's.
package analysis

import (
	"context"
	"errors"

	"github.com/thebtf/hemoscan/pkg/models"
)

var (
	// ErrAnalysis indicates the service rejected or failed the image.
	ErrAnalysis = errors.New("analysis failed")

	// ErrTimeout indicates the service did not answer within the bounded
	// call duration.
	ErrTimeout = errors.New("analysis timed out")
)

// Service is the external Analysis Service contract: one call per image.
type Service interface {
	Analyze(ctx context.Context, imageURI string, sampleType models.SampleType) (models.AnalysisResult, error)
}
