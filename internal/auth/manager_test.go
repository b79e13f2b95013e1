// Package auth provides the authentication session manager for hemoscan.
package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/thebtf/hemoscan/internal/securestore"
	"github.com/thebtf/hemoscan/pkg/models"
)

// ManagerSuite is a test suite for session manager operations.
type ManagerSuite struct {
	suite.Suite
	ctx      context.Context
	users    *MemoryRepository
	store    *securestore.Memory
	verifier *TemplateVerifier
	manager  *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.users = NewMemoryRepository()
	s.store = securestore.NewMemory()
	s.verifier = NewTemplateVerifier()
	s.manager = NewManager(s.users, s.store, s.verifier)
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

// seedUser creates a user record with a bcrypt-hashed password.
func (s *ManagerSuite) seedUser(email, password string, role models.Role) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.Require().NoError(err)

	user := &models.User{
		ID:           uuid.New(),
		Name:         "Test User",
		Email:        models.NormalizeEmail(email),
		PasswordHash: string(hash),
		Role:         role,
	}
	s.Require().NoError(s.users.Create(s.ctx, user))
	return user
}

// TestLoginSuccess tests credential login with a known record.
func (s *ManagerSuite) TestLoginSuccess() {
	user := s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)

	session, err := s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.Require().NoError(err)
	s.Equal(user.ID, session.UserID)
	s.Equal(models.RoleLabTechnician, session.Role)
	s.NotNil(s.manager.Current())

	// Last login is stamped on the record
	stored, err := s.users.FindByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.False(stored.LastLoginAt.IsZero())
}

// TestLoginEmailCaseInsensitive tests that email comparison is normalized.
func (s *ManagerSuite) TestLoginEmailCaseInsensitive() {
	s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)

	session, err := s.manager.Login(s.ctx, "  Tech@Clinic.Example ", "slide-pass-1")
	s.NoError(err)
	s.NotNil(session)
}

// TestLoginWrongPassword tests that a mismatch yields no session, repeatedly.
func (s *ManagerSuite) TestLoginWrongPassword() {
	s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)

	for i := 0; i < 3; i++ {
		session, err := s.manager.Login(s.ctx, "tech@clinic.example", "wrong")
		s.ErrorIs(err, ErrInvalidCredentials)
		s.Nil(session)
		s.Nil(s.manager.Current())
	}

	// Nothing was persisted
	blob, err := s.store.Get(securestore.KeyCurrentSession)
	s.NoError(err)
	s.Nil(blob)
}

// TestLoginUnknownEmail tests that an unknown record yields the same failure.
func (s *ManagerSuite) TestLoginUnknownEmail() {
	_, err := s.manager.Login(s.ctx, "nobody@clinic.example", "whatever")
	s.ErrorIs(err, ErrInvalidCredentials)
}

// TestLoginInputValidation tests synchronous rejection of malformed input.
func (s *ManagerSuite) TestLoginInputValidation() {
	_, err := s.manager.Login(s.ctx, "", "pw")
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.manager.Login(s.ctx, "not-an-email", "pw")
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.manager.Login(s.ctx, "a@b.example", "")
	s.ErrorIs(err, ErrInvalidInput)
}

// TestLoginStoreWriteFailureIsAtomic tests that a failed session write leaves
// the manager unauthenticated.
func (s *ManagerSuite) TestLoginStoreWriteFailureIsAtomic() {
	s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)
	s.store.FailWrites = true

	session, err := s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.Error(err)
	s.Nil(session)
	s.Nil(s.manager.Current())

	// The attempt is retryable once the store recovers
	s.store.FailWrites = false
	session, err = s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.NoError(err)
	s.NotNil(session)
}

// TestRegisterAndLogin tests the registration flow.
func (s *ManagerSuite) TestRegisterAndLogin() {
	userID, err := s.manager.Register(s.ctx, "Ada", "ada@clinic.example", "longenough", models.RoleDoctor)
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, userID)

	// Registration does not authenticate
	s.Nil(s.manager.Current())
	s.True(s.manager.PendingEnrollment())

	session, err := s.manager.Login(s.ctx, "ada@clinic.example", "longenough")
	s.Require().NoError(err)
	s.Equal(userID, session.UserID)
	s.Equal(models.RoleDoctor, session.Role)
}

// TestRegisterDuplicateEmail tests that a collision fails without altering
// the existing record.
func (s *ManagerSuite) TestRegisterDuplicateEmail() {
	existing := s.seedUser("ada@clinic.example", "original-pw", models.RoleDoctor)

	_, err := s.manager.Register(s.ctx, "Imposter", "ADA@clinic.example", "longenough", models.RoleAdmin)
	s.ErrorIs(err, ErrEmailInUse)

	stored, err := s.users.FindByID(s.ctx, existing.ID)
	s.Require().NoError(err)
	s.Equal(models.RoleDoctor, stored.Role)
	s.Equal(existing.PasswordHash, stored.PasswordHash)
}

// TestRegisterInputValidation tests synchronous rejection before any call.
func (s *ManagerSuite) TestRegisterInputValidation() {
	_, err := s.manager.Register(s.ctx, "", "a@b.example", "longenough", models.RoleDoctor)
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.manager.Register(s.ctx, "Ada", "bad-email", "longenough", models.RoleDoctor)
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.manager.Register(s.ctx, "Ada", "a@b.example", "short", models.RoleDoctor)
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.manager.Register(s.ctx, "Ada", "a@b.example", "longenough", models.Role("janitor"))
	s.ErrorIs(err, ErrInvalidInput)
}

// TestSetupBiometricAfterRegister tests the enrollment path and that the
// pending registration is erased after consumption.
func (s *ManagerSuite) TestSetupBiometricAfterRegister() {
	userID, err := s.manager.Register(s.ctx, "Ada", "ada@clinic.example", "longenough", models.RoleDoctor)
	s.Require().NoError(err)

	sample := BiometricSample{TemplateID: "tmpl-ada"}
	s.Require().NoError(s.manager.SetupBiometric(s.ctx, sample))
	s.False(s.manager.PendingEnrollment())

	stored, err := s.users.FindByID(s.ctx, userID)
	s.Require().NoError(err)
	s.True(stored.HasBiometric)
	s.Equal("tmpl-ada", stored.BiometricTemplateID)

	// The transient registration breadcrumb is gone
	v, err := s.store.Get(securestore.KeyRegistrationEmail)
	s.NoError(err)
	s.Nil(v)

	// And the enrolled sample now logs in
	session, err := s.manager.LoginWithBiometric(s.ctx, sample)
	s.Require().NoError(err)
	s.Equal(userID, session.UserID)
	s.True(session.HasBiometric)
}

// TestSetupBiometricWithoutRegistration tests the NoActiveRegistration path.
func (s *ManagerSuite) TestSetupBiometricWithoutRegistration() {
	err := s.manager.SetupBiometric(s.ctx, BiometricSample{TemplateID: "tmpl"})
	s.ErrorIs(err, ErrNoActiveRegistration)
}

// TestSetupBiometricReEnrollment tests re-enrollment for an authenticated user.
func (s *ManagerSuite) TestSetupBiometricReEnrollment() {
	user := s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)
	_, err := s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.Require().NoError(err)

	s.Require().NoError(s.manager.SetupBiometric(s.ctx, BiometricSample{TemplateID: "tmpl-2"}))

	stored, err := s.users.FindByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.True(stored.HasBiometric)
	s.True(s.manager.Current().HasBiometric)
}

// TestSetupBiometricEnrollFailure tests verifier failure conversion.
func (s *ManagerSuite) TestSetupBiometricEnrollFailure() {
	_, err := s.manager.Register(s.ctx, "Ada", "ada@clinic.example", "longenough", models.RoleDoctor)
	s.Require().NoError(err)

	s.verifier.FailNext(ErrNoFaceDetected)
	err = s.manager.SetupBiometric(s.ctx, BiometricSample{TemplateID: "t"})
	s.ErrorIs(err, ErrEnrollmentFailed)

	// Pending registration survives a failed enrollment for retry
	s.True(s.manager.PendingEnrollment())
}

// TestSkipEnrollment tests the explicit skip path.
func (s *ManagerSuite) TestSkipEnrollment() {
	_, err := s.manager.Register(s.ctx, "Ada", "ada@clinic.example", "longenough", models.RoleDoctor)
	s.Require().NoError(err)

	s.manager.SkipEnrollment()
	s.False(s.manager.PendingEnrollment())

	err = s.manager.SetupBiometric(s.ctx, BiometricSample{TemplateID: "t"})
	s.ErrorIs(err, ErrNoActiveRegistration)
}

// TestBiometricLoginNoMatch tests that no-match creates no session.
func (s *ManagerSuite) TestBiometricLoginNoMatch() {
	session, err := s.manager.LoginWithBiometric(s.ctx, BiometricSample{TemplateID: "unknown"})
	s.ErrorIs(err, ErrBiometricNotRecognized)
	s.Nil(session)
	s.Nil(s.manager.Current())
}

// TestLogoutIdempotent tests logout with and without an active session.
func (s *ManagerSuite) TestLogoutIdempotent() {
	s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)
	_, err := s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.Require().NoError(err)

	s.manager.Logout(s.ctx)
	s.Nil(s.manager.Current())

	blob, err := s.store.Get(securestore.KeyCurrentSession)
	s.NoError(err)
	s.Nil(blob)

	// Second logout is a no-op, not an error
	s.manager.Logout(s.ctx)
	s.Nil(s.manager.Current())
}

// TestResumeSessionAbsent tests resume with no prior stored session.
func (s *ManagerSuite) TestResumeSessionAbsent() {
	s.Nil(s.manager.ResumeSession(s.ctx))
}

// TestResumeSessionAfterLogin tests rehydration against the same store,
// simulating a process restart.
func (s *ManagerSuite) TestResumeSessionAfterLogin() {
	user := s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)
	_, err := s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.Require().NoError(err)

	fresh := NewManager(s.users, s.store, s.verifier)
	resumed := fresh.ResumeSession(s.ctx)
	s.Require().NotNil(resumed)
	s.Equal(user.ID, resumed.UserID)
	s.Equal(models.RoleLabTechnician, resumed.Role)
}

// TestResumeSessionCorruptBlob tests that corrupt data reads as absent.
func (s *ManagerSuite) TestResumeSessionCorruptBlob() {
	s.Require().NoError(s.store.Set(securestore.KeyCurrentSession, []byte("{not json")))

	s.Nil(s.manager.ResumeSession(s.ctx))

	// Corrupt blob was cleared
	blob, err := s.store.Get(securestore.KeyCurrentSession)
	s.NoError(err)
	s.Nil(blob)
}

// TestSubscribeEvents tests session state change notifications.
func (s *ManagerSuite) TestSubscribeEvents() {
	s.seedUser("tech@clinic.example", "slide-pass-1", models.RoleLabTechnician)

	events, cancel := s.manager.Subscribe()
	defer cancel()

	_, err := s.manager.Login(s.ctx, "tech@clinic.example", "slide-pass-1")
	s.Require().NoError(err)

	ev := <-events
	s.True(ev.Authenticated)
	s.Require().NotNil(ev.Session)
	s.Equal(models.RoleLabTechnician, ev.Session.Role)

	s.manager.Logout(s.ctx)
	ev = <-events
	s.False(ev.Authenticated)
	s.Nil(ev.Session)
}

// TestOnboardingFlag tests the onboarding-completed flag round trip.
func (s *ManagerSuite) TestOnboardingFlag() {
	s.False(s.manager.OnboardingCompleted())
	s.manager.MarkOnboardingComplete()
	s.True(s.manager.OnboardingCompleted())
}
