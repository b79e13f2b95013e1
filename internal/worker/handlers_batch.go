package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/internal/batch"
	"github.com/thebtf/hemoscan/internal/worker/sse"
	"github.com/thebtf/hemoscan/pkg/models"
)

type startBatchRequest struct {
	SampleID            string            `json:"sample_id,omitempty"`
	SampleType          models.SampleType `json:"sample_type"`
	ImageURIs           []string          `json:"image_uris"`
	LowQualityConfirmed bool              `json:"low_quality_confirmed"`
}

// handleStartBatch confirms the selection and starts sequential analysis.
// Only one batch runs at a time on a device.
func (s *Service) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sampleID := uuid.New()
	if req.SampleID != "" {
		parsed, err := uuid.Parse(req.SampleID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid sample_id")
			return
		}
		sampleID = parsed
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.job != nil {
		switch s.job.State() {
		case models.BatchIdle, models.BatchRunning:
			writeError(w, http.StatusConflict, "a batch is already running")
			return
		}
	}

	// Validate against a snapshot; nothing leaves the working set until the
	// whole selection is accepted. A rejected confirmation must keep the
	// operator's staged captures.
	seen := make(map[string]struct{}, len(req.ImageURIs))
	images := make([]models.CapturedImage, 0, len(req.ImageURIs))
	for _, uri := range req.ImageURIs {
		if _, dup := seen[uri]; dup {
			writeError(w, http.StatusBadRequest, "selection repeats an image")
			return
		}
		seen[uri] = struct{}{}

		img := s.workingSet.Get(uri)
		if img == nil {
			writeError(w, http.StatusBadRequest, "selection references unknown images")
			return
		}
		images = append(images, *img)
	}

	sel := batch.Selection{
		SampleID:            sampleID,
		SampleType:          req.SampleType,
		Images:              images,
		QualityThreshold:    s.cfg.QualityThreshold,
		LowQualityConfirmed: req.LowQualityConfirmed,
	}

	job, err := batch.NewJob(sel, s.analyzer, s.cfg.AnalysisTimeout)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.workingSet.Take(req.ImageURIs)
	s.job = job
	go s.runJob(job)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id":  job.ID,
		"sample_id": job.SampleID,
		"state":     job.State(),
		"total":     len(images),
	})
}

// runJob drives one job to a terminal state, relaying progress events to the
// SSE stream and archiving completed results.
func (s *Service) runJob(job *batch.Job) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range job.Events() {
			s.broadcaster.Broadcast(sse.EventBatchProgress, map[string]interface{}{
				"batch_id": job.ID,
				"index":    p.Index,
				"total":    p.Total,
				"result":   p.LastResult,
			})
		}
	}()

	err := job.Run(s.ctx)
	<-done

	if errors.Is(err, batch.ErrJobCancelled) {
		s.broadcaster.Broadcast(sse.EventBatchCancelled, map[string]interface{}{
			"batch_id": job.ID,
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("batchId", job.ID.String()).Msg("Batch run failed")
		return
	}

	summary, err := job.Summarize()
	if err != nil {
		log.Error().Err(err).Str("batchId", job.ID.String()).Msg("Failed to summarize completed batch")
		return
	}

	s.archiveJob(job)

	s.broadcaster.Broadcast(sse.EventBatchCompleted, map[string]interface{}{
		"batch_id": job.ID,
		"summary":  summary,
	})
}

func (s *Service) archiveJob(job *batch.Job) {
	if s.archive == nil {
		return
	}

	session := s.sessions.Current()
	if session == nil {
		log.Warn().Str("batchId", job.ID.String()).Msg("No session at archive time, skipping history record")
		return
	}

	results, err := job.Results()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	err = s.archive.SaveCompleted(ctx, job.ID, job.SampleID, session.UserID, job.SampleType(), results)
	if err != nil {
		log.Error().Err(err).Str("batchId", job.ID.String()).Msg("Failed to archive batch")
	}
}

func (s *Service) handleActiveBatch(w http.ResponseWriter, r *http.Request) {
	s.jobMu.Lock()
	job := s.job
	s.jobMu.Unlock()

	if job == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"state": models.BatchIdle})
		return
	}

	current, total := job.Progress()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id":  job.ID,
		"sample_id": job.SampleID,
		"state":     job.State(),
		"current":   current,
		"total":     total,
	})
}

func (s *Service) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	s.jobMu.Lock()
	job := s.job
	s.jobMu.Unlock()

	if job == nil {
		writeError(w, http.StatusNotFound, "no active batch")
		return
	}

	job.Cancel()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": job.ID,
		"state":    job.State(),
	})
}

func (s *Service) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	s.jobMu.Lock()
	job := s.job
	s.jobMu.Unlock()

	if job == nil {
		writeError(w, http.StatusNotFound, "no active batch")
		return
	}

	summary, err := job.Summarize()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	results, err := job.Results()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": job.ID,
		"summary":  summary,
		"results":  results,
	})
}

func (s *Service) handleBatchHistory(w http.ResponseWriter, r *http.Request) {
	// Re-check: a logout can land between the middleware and here
	session := s.sessions.Current()
	if session == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "batch history requires a database")
		return
	}

	batches, err := s.archive.ListRecent(r.Context(), session.UserID, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

func (s *Service) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "batch history requires a database")
		return
	}

	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	archived, err := s.archive.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	if archived == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}

	writeJSON(w, http.StatusOK, archived)
}
