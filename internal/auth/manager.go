// Package auth provides the authentication session manager for hemoscan.
// The Manager owns the single in-process Session, the credential and biometric
// login flows, registration with optional biometric enrollment, and session
// persistence in the secure credential store.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/thebtf/hemoscan/internal/securestore"
	"github.com/thebtf/hemoscan/pkg/models"
)

// Event is a session state change notification.
type Event struct {
	Authenticated bool            `json:"authenticated"`
	Session       *models.Session `json:"session,omitempty"`
}

// Manager owns the authentication lifecycle. At most one Session is active
// per process; the Manager is the secure store's only writer.
type Manager struct {
	users    UserRepository
	store    securestore.Store
	verifier BiometricVerifier

	mu      sync.RWMutex
	session *models.Session
	pending *models.PendingRegistration

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int
}

// NewManager creates a session manager over the given collaborators.
func NewManager(users UserRepository, store securestore.Store, verifier BiometricVerifier) *Manager {
	return &Manager{
		users:    users,
		store:    store,
		verifier: verifier,
		subs:     make(map[int]chan Event),
	}
}

// Current returns the active session, or nil when unauthenticated.
func (m *Manager) Current() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

// Subscribe registers a session state listener. The returned cancel func
// must be called to release the subscription. Events that cannot be
// delivered immediately are dropped; subscribers read state via Current.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.subID++
	id := m.subID
	ch := make(chan Event, 8)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *Manager) notify(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Login verifies credentials and establishes the session. The session is
// persisted before it becomes visible: a store failure fails the whole
// attempt and leaves the manager unauthenticated.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.Session, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidInput)
	}

	user, err := m.users.FindByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return m.establishSession(ctx, user)
}

// LoginWithBiometric delegates identity resolution to the verifier and
// establishes the session on a match. No session is created on no-match.
func (m *Manager) LoginWithBiometric(ctx context.Context, sample BiometricSample) (*models.Session, error) {
	userID, ok, err := m.verifier.Match(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("biometric match: %w", err)
	}
	if !ok {
		return nil, ErrBiometricNotRecognized
	}

	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		// Verifier knows a template the repository no longer has a record for.
		log.Warn().Str("userId", userID.String()).Msg("Biometric match for unknown user record")
		return nil, ErrBiometricNotRecognized
	}

	return m.establishSession(ctx, user)
}

// establishSession persists and installs the session atomically with respect
// to manager state.
func (m *Manager) establishSession(ctx context.Context, user *models.User) (*models.Session, error) {
	session := models.NewSession(user)

	blob, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(securestore.KeyCurrentSession, blob); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	// Best-effort: a failed timestamp update does not fail the login.
	if err := m.users.UpdateLastLogin(ctx, user.ID, session.LoginAt); err != nil {
		log.Warn().Err(err).Str("userId", user.ID.String()).Msg("Failed to update last login")
	}

	log.Info().
		Str("userId", user.ID.String()).
		Str("role", string(user.Role)).
		Msg("Session established")

	cp := *session
	m.notify(Event{Authenticated: true, Session: &cp})
	return &cp, nil
}

// Register creates a user record and a pending registration for the
// enrollment step. Registration alone does not authenticate.
func (m *Manager) Register(ctx context.Context, name, email, password string, role models.Role) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if err := validateEmail(email); err != nil {
		return uuid.Nil, err
	}
	if len(password) < 8 {
		return uuid.Nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if !models.ValidRole(role) {
		return uuid.Nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	normalized := models.NormalizeEmail(email)
	existing, err := m.users.FindByEmail(ctx, normalized)
	if err != nil {
		return uuid.Nil, fmt.Errorf("look up user: %w", err)
	}
	if existing != nil {
		return uuid.Nil, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        normalized,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := m.users.Create(ctx, user); err != nil {
		return uuid.Nil, fmt.Errorf("create user: %w", err)
	}

	m.mu.Lock()
	m.pending = &models.PendingRegistration{
		UserID:   user.ID,
		Email:    normalized,
		Password: password,
		Role:     role,
	}
	m.mu.Unlock()

	// Best-effort breadcrumb so the enrollment screen can resume after a
	// process restart mid-onboarding.
	if err := m.store.Set(securestore.KeyRegistrationEmail, []byte(normalized)); err != nil {
		log.Warn().Err(err).Msg("Failed to stash registration email")
	}

	log.Info().Str("userId", user.ID.String()).Str("role", string(role)).Msg("User registered")
	return user.ID, nil
}

// SetupBiometric enrolls the presented sample for the pending registration,
// or for the authenticated user on re-enrollment. The pending registration is
// erased once enrollment succeeds.
func (m *Manager) SetupBiometric(ctx context.Context, sample BiometricSample) error {
	m.mu.RLock()
	pending := m.pending
	session := m.session
	m.mu.RUnlock()

	var userID uuid.UUID
	switch {
	case pending != nil:
		userID = pending.UserID
	case session != nil:
		userID = session.UserID
	default:
		return ErrNoActiveRegistration
	}

	templateID, err := m.verifier.Enroll(ctx, userID, sample)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentFailed, err)
	}

	if err := m.users.SetBiometric(ctx, userID, templateID); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentFailed, err)
	}

	m.consumePending()

	m.mu.Lock()
	if m.session != nil && m.session.UserID == userID {
		m.session.HasBiometric = true
	}
	m.mu.Unlock()

	log.Info().Str("userId", userID.String()).Msg("Biometric enrolled")
	return nil
}

// SkipEnrollment discards the pending registration without enrolling.
// The user can still log in with credentials.
func (m *Manager) SkipEnrollment() {
	m.consumePending()
}

// PendingEnrollment reports whether a registration is awaiting enrollment.
func (m *Manager) PendingEnrollment() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending != nil
}

func (m *Manager) consumePending() {
	m.mu.Lock()
	if m.pending != nil {
		m.pending.Erase()
		m.pending = nil
	}
	m.mu.Unlock()

	if err := m.store.Delete(securestore.KeyRegistrationEmail); err != nil {
		log.Warn().Err(err).Msg("Failed to clear registration email")
	}
}

// Logout clears the session and its persisted blob. Idempotent: calling
// Logout with no active session is a no-op.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	had := m.session != nil
	m.session = nil
	m.mu.Unlock()

	if err := m.store.Delete(securestore.KeyCurrentSession); err != nil {
		log.Warn().Err(err).Msg("Failed to clear persisted session")
	}

	if had {
		log.Info().Msg("Session cleared")
		m.notify(Event{Authenticated: false})
	}
}

// ResumeSession rehydrates the session from the secure store at process
// start. Absent or corrupt data yields nil, never an error surfaced as a
// crash.
func (m *Manager) ResumeSession(ctx context.Context) *models.Session {
	blob, err := m.store.Get(securestore.KeyCurrentSession)
	if err != nil {
		log.Warn().Err(err).Msg("Secure store read failed during resume")
		return nil
	}
	if blob == nil {
		return nil
	}

	var session models.Session
	if err := json.Unmarshal(blob, &session); err != nil || session.UserID == uuid.Nil {
		log.Warn().Msg("Persisted session corrupt, treating as absent")
		if err := m.store.Delete(securestore.KeyCurrentSession); err != nil {
			log.Warn().Err(err).Msg("Failed to clear corrupt session blob")
		}
		return nil
	}

	m.mu.Lock()
	m.session = &session
	m.mu.Unlock()

	log.Info().Str("userId", session.UserID.String()).Msg("Session resumed")
	cp := session
	m.notify(Event{Authenticated: true, Session: &cp})
	return &cp
}

// MarkOnboardingComplete records that the first-run flow finished.
func (m *Manager) MarkOnboardingComplete() {
	if err := m.store.Set(securestore.KeyOnboardingCompleted, []byte("true")); err != nil {
		log.Warn().Err(err).Msg("Failed to persist onboarding flag")
	}
}

// OnboardingCompleted reports whether the first-run flow has finished.
func (m *Manager) OnboardingCompleted() bool {
	v, err := m.store.Get(securestore.KeyOnboardingCompleted)
	if err != nil {
		return false
	}
	return string(v) == "true"
}

// validateEmail rejects obviously malformed addresses before any lookup.
func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email must not be empty", ErrInvalidInput)
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("%w: %q is not a valid email address", ErrInvalidInput, email)
	}
	return nil
}
