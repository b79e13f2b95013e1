package worker

import (
	"net/http"

	"github.com/thebtf/hemoscan/internal/auth"
	"github.com/thebtf/hemoscan/pkg/models"
)

type registerRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, err := s.sessions.Register(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id":            userID,
		"pending_enrollment": true,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

type biometricRequest struct {
	TemplateID string `json:"template_id"`
	Data       []byte `json:"data,omitempty"`
}

func (s *Service) handleBiometricLogin(w http.ResponseWriter, r *http.Request) {
	var req biometricRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sample := auth.BiometricSample{TemplateID: req.TemplateID, Data: req.Data}
	session, err := s.sessions.LoginWithBiometric(r.Context(), sample)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (s *Service) handleBiometricEnroll(w http.ResponseWriter, r *http.Request) {
	var req biometricRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sample := auth.BiometricSample{TemplateID: req.TemplateID, Data: req.Data}
	if err := s.sessions.SetupBiometric(r.Context(), sample); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enrolled": true})
}

func (s *Service) handleBiometricSkip(w http.ResponseWriter, r *http.Request) {
	s.sessions.SkipEnrollment()
	writeJSON(w, http.StatusOK, map[string]bool{"skipped": true})
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

func (s *Service) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	session := s.sessions.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated":        session != nil,
		"session":              session,
		"pending_enrollment":   s.sessions.PendingEnrollment(),
		"onboarding_completed": s.sessions.OnboardingCompleted(),
	})
}

func (s *Service) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	session := s.sessions.ResumeSession(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": session != nil,
		"session":       session,
	})
}

func (s *Service) handleOnboardingComplete(w http.ResponseWriter, r *http.Request) {
	s.sessions.MarkOnboardingComplete()
	writeJSON(w, http.StatusOK, map[string]bool{"onboarding_completed": true})
}
