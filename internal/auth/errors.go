package auth

import "errors"

// Expected, recoverable failures surfaced to the caller. None of these leave
// Session or PendingRegistration state mutated.
var (
	// ErrInvalidInput rejects malformed input before any external call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned when no record matches the presented
	// email and password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailInUse is returned when registering with an email that already
	// has a record.
	ErrEmailInUse = errors.New("email already in use")

	// ErrBiometricNotRecognized is returned when the verifier finds no match
	// for the presented sample.
	ErrBiometricNotRecognized = errors.New("face not recognized")

	// ErrEnrollmentFailed is returned when the verifier cannot enroll the
	// presented sample.
	ErrEnrollmentFailed = errors.New("biometric enrollment failed")

	// ErrNoActiveRegistration is returned when SetupBiometric is called with
	// neither a pending registration nor an authenticated session.
	ErrNoActiveRegistration = errors.New("no active registration or session")
)
