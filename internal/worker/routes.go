package worker

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupRoutes configures the HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/events", s.broadcaster.HandleSSE)

	s.router.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/biometric/login", s.handleBiometricLogin)
		r.Post("/biometric/enroll", s.handleBiometricEnroll)
		r.Post("/biometric/skip", s.handleBiometricSkip)
		r.Post("/logout", s.handleLogout)
		r.Get("/session", s.handleCurrentSession)
		r.Post("/session/resume", s.handleResumeSession)
		r.Post("/onboarding/complete", s.handleOnboardingComplete)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Route("/api/images", func(r chi.Router) {
			r.Get("/", s.handleListImages)
			r.Post("/", s.handleAddImage)
			r.Post("/discard", s.handleDiscardImage)
		})

		r.Route("/api/batches", func(r chi.Router) {
			r.Post("/", s.handleStartBatch)
			r.Get("/active", s.handleActiveBatch)
			r.Post("/active/cancel", s.handleCancelBatch)
			r.Get("/active/summary", s.handleBatchSummary)
			r.Get("/history", s.handleBatchHistory)
			r.Get("/{batchID}", s.handleGetBatch)
		})
	})
}

// requireSession rejects requests made without an active session. The UI
// shell never shows these surfaces pre-login, but the API enforces it too.
func (s *Service) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions.Current() == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports service liveness.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"ready":   s.ready.Load(),
		"uptime":  int64(s.uptime().Seconds()),
	})
}
