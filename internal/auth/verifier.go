package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Capture-side failures reported by a verifier implementation.
var (
	ErrNoFaceDetected   = errors.New("no face detected")
	ErrPermissionDenied = errors.New("camera permission denied")
)

// BiometricSample is an opaque sample produced by the capture hardware.
type BiometricSample struct {
	TemplateID string
	Data       []byte
}

// BiometricVerifier is the external biometric collaborator contract.
// Match must never create or imply a session; it only resolves identity.
type BiometricVerifier interface {
	// Enroll registers a sample for the given user and returns the stored
	// template id.
	Enroll(ctx context.Context, userID uuid.UUID, sample BiometricSample) (string, error)

	// Match resolves a sample to an enrolled user. ok is false when no
	// enrolled template matches.
	Match(ctx context.Context, sample BiometricSample) (userID uuid.UUID, ok bool, err error)
}

// TemplateVerifier is a verifier that matches samples by exact template id
// against per-user enrolled templates. Matching is always per-user: a sample
// that matches no enrolled template resolves to no identity, regardless of
// how many users are enrolled.
type TemplateVerifier struct {
	mu       sync.RWMutex
	byTmpl   map[string]uuid.UUID
	failNext error
}

// NewTemplateVerifier creates an empty template verifier.
func NewTemplateVerifier() *TemplateVerifier {
	return &TemplateVerifier{byTmpl: make(map[string]uuid.UUID)}
}

// FailNext makes the next Enroll or Match call return err. Test hook.
func (v *TemplateVerifier) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

func (v *TemplateVerifier) takeFailure() error {
	err := v.failNext
	v.failNext = nil
	return err
}

// Enroll registers the sample's template for userID.
func (v *TemplateVerifier) Enroll(ctx context.Context, userID uuid.UUID, sample BiometricSample) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return "", err
	}

	tmpl := sample.TemplateID
	if tmpl == "" {
		tmpl = uuid.NewString()
	}
	v.byTmpl[tmpl] = userID
	return tmpl, nil
}

// Match resolves the sample's template to an enrolled user.
func (v *TemplateVerifier) Match(ctx context.Context, sample BiometricSample) (uuid.UUID, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure(); err != nil {
		return uuid.Nil, false, err
	}

	id, ok := v.byTmpl[sample.TemplateID]
	if !ok {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}
