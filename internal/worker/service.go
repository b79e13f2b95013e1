// Package worker provides the main background service for hemoscan.
// It owns the HTTP surface the capture UI talks to and bridges session
// state changes and batch progress onto the SSE stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/internal/analysis"
	"github.com/thebtf/hemoscan/internal/auth"
	"github.com/thebtf/hemoscan/internal/batch"
	"github.com/thebtf/hemoscan/internal/config"
	gormdb "github.com/thebtf/hemoscan/internal/db/gorm"
	"github.com/thebtf/hemoscan/internal/intake"
	"github.com/thebtf/hemoscan/internal/worker/sse"
	"github.com/thebtf/hemoscan/pkg/models"
)

// Service is the worker service handling the UI-facing API.
type Service struct {
	version     string
	cfg         *config.Config
	sessions    *auth.Manager
	workingSet  *intake.WorkingSet
	analyzer    analysis.Service
	archive     *gormdb.ResultStore
	broadcaster *sse.Broadcaster
	router      chi.Router
	httpServer  *http.Server
	ctx         context.Context
	cancel      context.CancelFunc
	startTime   time.Time
	ready       atomic.Bool

	// One batch runs at a time; the device has one operator.
	jobMu sync.Mutex
	job   *batch.Job
}

// NewService creates the worker service and wires its routes.
// archive may be nil when no database is available; batch history is
// then disabled but analysis still works.
func NewService(version string, cfg *config.Config, sessions *auth.Manager, workingSet *intake.WorkingSet, analyzer analysis.Service, archive *gormdb.ResultStore) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:     version,
		cfg:         cfg,
		sessions:    sessions,
		workingSet:  workingSet,
		analyzer:    analyzer,
		archive:     archive,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}

	svc.setupRoutes()
	svc.forwardSessionEvents()

	return svc
}

// forwardSessionEvents relays auth state changes onto the SSE stream so the
// UI can switch screens without polling.
func (s *Service) forwardSessionEvents() {
	events, unsubscribe := s.sessions.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.broadcaster.Broadcast(sse.EventSession, ev)
			}
		}
	}()
}

// AddImage registers a captured image in the working set and announces it on
// the SSE stream. The capture watcher calls this for every settled file.
func (s *Service) AddImage(uri string, sampleType models.SampleType) {
	s.workingSet.Add(s.ctx, uri, sampleType)
	s.broadcaster.Broadcast(sse.EventImageAdded, map[string]string{
		"uri":         uri,
		"sample_type": string(sampleType),
	})
}

// Start begins serving HTTP on the configured port. It blocks until the
// server stops.
func (s *Service) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.WorkerPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.ready.Store(true)
	log.Info().Str("addr", addr).Str("version", s.version).Msg("Worker service listening")

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("worker serve: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and cancels any running batch.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	s.jobMu.Lock()
	if s.job != nil {
		s.job.Cancel()
	}
	s.jobMu.Unlock()

	s.cancel()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) uptime() time.Duration {
	return time.Since(s.startTime)
}
