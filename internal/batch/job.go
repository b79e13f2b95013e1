// Package batch provides the sequential analysis pipeline for hemoscan.
// A Job drives one sample's confirmed images through the Analysis Service
// strictly one at a time. Sequential submission is deliberate: it bounds peak
// memory and network load on field devices and gives the operator incremental
// progress instead of an all-or-nothing wait.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/internal/analysis"
	"github.com/thebtf/hemoscan/pkg/models"
)

var (
	// ErrEmptySelection rejects a selection with no images.
	ErrEmptySelection = errors.New("selection contains no images")

	// ErrLowQualityUnconfirmed rejects a selection containing below-threshold
	// images without the explicit override flag.
	ErrLowQualityUnconfirmed = errors.New("selection contains low-quality images without confirmation")

	// ErrInvalidSampleType rejects an unknown smear preparation.
	ErrInvalidSampleType = errors.New("invalid sample type")

	// ErrJobAlreadyRan rejects re-running a job; callers create a new one.
	ErrJobAlreadyRan = errors.New("job already ran")

	// ErrJobCancelled is returned by Run when the job was cancelled.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrJobNotCompleted guards results and summaries of unfinished or
	// cancelled jobs.
	ErrJobNotCompleted = errors.New("job not completed")
)

// Selection is a confirmed set of images for one sample, as handed over by
// the selection surface. The quality gate is decided here, not in any
// rendering layer: low-quality images are never silently dropped, and the
// override must be explicit.
type Selection struct {
	SampleID            uuid.UUID
	SampleType          models.SampleType
	Images              []models.CapturedImage
	QualityThreshold    int
	LowQualityConfirmed bool
}

// Job is one run of sequential analysis over a sample's images.
// Results are owned by the job while running; consumers only see a
// completed, immutable snapshot.
type Job struct {
	ID       uuid.UUID
	SampleID uuid.UUID

	sampleType  models.SampleType
	images      []models.CapturedImage
	service     analysis.Service
	callTimeout time.Duration

	mu       sync.Mutex
	state    models.BatchState
	current  int
	results  []models.AnalysisResult
	events   chan models.Progress
	cancelFn context.CancelFunc
	started  bool
}

// NewJob validates the selection and creates an idle job.
func NewJob(sel Selection, service analysis.Service, callTimeout time.Duration) (*Job, error) {
	if len(sel.Images) == 0 {
		return nil, ErrEmptySelection
	}
	if !models.ValidSampleType(sel.SampleType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSampleType, sel.SampleType)
	}

	if !sel.LowQualityConfirmed {
		for _, img := range sel.Images {
			if img.Quality != nil && !img.Quality.Usable(sel.QualityThreshold) {
				return nil, fmt.Errorf("%w: %s scored %d (threshold %d)",
					ErrLowQualityUnconfirmed, img.URI, img.Quality.Score, sel.QualityThreshold)
			}
		}
	}

	sampleID := sel.SampleID
	if sampleID == uuid.Nil {
		sampleID = uuid.New()
	}

	images := make([]models.CapturedImage, len(sel.Images))
	copy(images, sel.Images)

	return &Job{
		ID:          uuid.New(),
		SampleID:    sampleID,
		sampleType:  sel.SampleType,
		images:      images,
		service:     service,
		callTimeout: callTimeout,
		state:       models.BatchIdle,
		results:     make([]models.AnalysisResult, 0, len(images)),
		// Buffer sized to the image count so the runner never blocks on a
		// slow progress consumer
		events: make(chan models.Progress, len(images)),
	}, nil
}

// Events returns the progress stream. It is closed when the job reaches a
// terminal state.
func (j *Job) Events() <-chan models.Progress {
	return j.events
}

// State returns the job's current lifecycle state.
func (j *Job) State() models.BatchState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns processed and total image counts.
func (j *Job) Progress() (current, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current, len(j.images)
}

// SampleType returns the smear preparation this job analyzes.
func (j *Job) SampleType() models.SampleType {
	return j.sampleType
}

// Images returns the job's ordered image set.
func (j *Job) Images() []models.CapturedImage {
	out := make([]models.CapturedImage, len(j.images))
	copy(out, j.images)
	return out
}

// Run processes images strictly in submission order, one in flight at a
// time. It blocks until the job completes or is cancelled. A per-image
// analysis failure is recorded as that image's result and the run continues;
// only cancellation ends the run early.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.state == models.BatchCancelled {
		j.mu.Unlock()
		return ErrJobCancelled
	}
	if j.started {
		j.mu.Unlock()
		return ErrJobAlreadyRan
	}
	j.started = true
	j.state = models.BatchRunning
	runCtx, cancel := context.WithCancel(ctx)
	j.cancelFn = cancel
	j.mu.Unlock()
	defer cancel()

	total := len(j.images)
	log.Info().
		Str("jobId", j.ID.String()).
		Str("sampleId", j.SampleID.String()).
		Int("images", total).
		Msg("Batch run started")

	for i, img := range j.images {
		if runCtx.Err() != nil {
			return j.finishCancelled(i)
		}

		result, err := j.analyzeOne(runCtx, img.URI)
		if err != nil {
			// Cancellation aborts the run without appending a partial
			// result; any other failure becomes the image's result.
			if runCtx.Err() != nil {
				return j.finishCancelled(i)
			}
			result = models.FailedResult(img.URI, failureReason(err))
			recordAnalysisFailure(ctx)
			log.Warn().
				Str("jobId", j.ID.String()).
				Str("image", img.URI).
				Err(err).
				Msg("Image analysis failed, recording failure result")
		} else {
			recordImageAnalyzed(ctx)
		}

		j.mu.Lock()
		j.results = append(j.results, result)
		j.current = i + 1
		j.mu.Unlock()

		j.events <- models.Progress{Index: i + 1, Total: total, LastResult: &result}
	}

	j.mu.Lock()
	j.state = models.BatchCompleted
	j.mu.Unlock()
	close(j.events)
	recordJobCompleted(ctx)

	log.Info().
		Str("jobId", j.ID.String()).
		Int("images", total).
		Msg("Batch run completed")
	return nil
}

// analyzeOne submits a single image with the bounded call duration.
func (j *Job) analyzeOne(ctx context.Context, uri string) (models.AnalysisResult, error) {
	if j.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.callTimeout)
		defer cancel()
	}
	return j.service.Analyze(ctx, uri, j.sampleType)
}

func (j *Job) finishCancelled(processed int) error {
	j.mu.Lock()
	j.state = models.BatchCancelled
	// Partial results are discarded from downstream consumption
	j.results = nil
	j.current = 0
	j.mu.Unlock()
	close(j.events)
	recordJobCancelled(context.Background())

	log.Info().
		Str("jobId", j.ID.String()).
		Int("processedBeforeCancel", processed).
		Msg("Batch run cancelled")
	return ErrJobCancelled
}

// Cancel requests cooperative cancellation. It takes effect no later than
// the completion of the in-flight submission. Cancelling a job that never
// started moves it straight to Cancelled.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.state == models.BatchCompleted || j.state == models.BatchCancelled {
		j.mu.Unlock()
		return
	}
	if !j.started {
		j.state = models.BatchCancelled
		j.results = nil
		j.mu.Unlock()
		close(j.events)
		return
	}
	cancel := j.cancelFn
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Results returns the completed, ordered result set. results[i] always
// corresponds to images[i].
func (j *Job) Results() ([]models.AnalysisResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != models.BatchCompleted {
		return nil, fmt.Errorf("%w: state is %s", ErrJobNotCompleted, j.state)
	}
	out := make([]models.AnalysisResult, len(j.results))
	copy(out, j.results)
	return out, nil
}

// Summarize computes the aggregate over a completed job.
func (j *Job) Summarize() (models.BatchSummary, error) {
	results, err := j.Results()
	if err != nil {
		return models.BatchSummary{}, err
	}
	return models.Summarize(j.SampleID, results), nil
}

// failureReason maps service errors to a human-readable per-image reason.
func failureReason(err error) string {
	switch {
	case errors.Is(err, analysis.ErrTimeout):
		return "analysis timed out"
	case errors.Is(err, analysis.ErrAnalysis):
		return err.Error()
	default:
		return fmt.Sprintf("analysis failed: %v", err)
	}
}
