// Package securestore provides the secure credential store for hemoscan.
package securestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

// FileStoreSuite is a test suite for the sealed file store.
type FileStoreSuite struct {
	suite.Suite
	tempDir string
	store   *File
}

func (s *FileStoreSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "securestore-test-*")
	s.Require().NoError(err)

	s.store, err = NewFile(filepath.Join(s.tempDir, "store.bin"))
	s.Require().NoError(err)
}

func (s *FileStoreSuite) TearDownTest() {
	os.RemoveAll(s.tempDir)
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

// TestGetAbsent tests that an absent key returns nil without error.
func (s *FileStoreSuite) TestGetAbsent() {
	v, err := s.store.Get(KeyCurrentSession)
	s.NoError(err)
	s.Nil(v)
}

// TestSetGetRoundTrip tests basic persistence.
func (s *FileStoreSuite) TestSetGetRoundTrip() {
	s.Require().NoError(s.store.Set(KeyCurrentSession, []byte(`{"user_id":"abc"}`)))

	v, err := s.store.Get(KeyCurrentSession)
	s.NoError(err)
	s.Equal([]byte(`{"user_id":"abc"}`), v)
}

// TestPersistsAcrossReopen tests that a fresh store instance sees prior writes.
func (s *FileStoreSuite) TestPersistsAcrossReopen() {
	s.Require().NoError(s.store.Set(KeyOnboardingCompleted, []byte("true")))

	reopened, err := NewFile(filepath.Join(s.tempDir, "store.bin"))
	s.Require().NoError(err)

	v, err := reopened.Get(KeyOnboardingCompleted)
	s.NoError(err)
	s.Equal([]byte("true"), v)
}

// TestDeleteIdempotent tests that delete removes keys and tolerates absence.
func (s *FileStoreSuite) TestDeleteIdempotent() {
	s.Require().NoError(s.store.Set(KeyCurrentSession, []byte("x")))
	s.NoError(s.store.Delete(KeyCurrentSession))
	s.NoError(s.store.Delete(KeyCurrentSession))

	v, err := s.store.Get(KeyCurrentSession)
	s.NoError(err)
	s.Nil(v)
}

// TestCorruptFileTreatedAsEmpty tests that garbage on disk never errors.
func (s *FileStoreSuite) TestCorruptFileTreatedAsEmpty() {
	path := filepath.Join(s.tempDir, "store.bin")
	s.Require().NoError(s.store.Set(KeyCurrentSession, []byte("x")))
	s.Require().NoError(os.WriteFile(path, []byte("not a sealed document"), 0o600))

	v, err := s.store.Get(KeyCurrentSession)
	s.NoError(err)
	s.Nil(v)

	// Store remains writable after corruption
	s.NoError(s.store.Set(KeyCurrentSession, []byte("y")))
	v, err = s.store.Get(KeyCurrentSession)
	s.NoError(err)
	s.Equal([]byte("y"), v)
}

// TestSealedOnDisk tests that plaintext values do not appear in the file.
func (s *FileStoreSuite) TestSealedOnDisk() {
	secret := []byte("secret-session-token")
	s.Require().NoError(s.store.Set(KeyCurrentSession, secret))

	raw, err := os.ReadFile(filepath.Join(s.tempDir, "store.bin"))
	s.Require().NoError(err)
	s.NotContains(string(raw), string(secret))
}

// TestWrongKeyTreatedAsEmpty tests that a store sealed under another device
// key reads as empty instead of failing.
func (s *FileStoreSuite) TestWrongKeyTreatedAsEmpty() {
	s.Require().NoError(s.store.Set(KeyCurrentSession, []byte("x")))

	// Replace the device key; the sealed doc can no longer be opened
	s.Require().NoError(os.Remove(filepath.Join(s.tempDir, "device.key")))
	reopened, err := NewFile(filepath.Join(s.tempDir, "store.bin"))
	s.Require().NoError(err)

	v, err := reopened.Get(KeyCurrentSession)
	s.NoError(err)
	s.Nil(v)
}

// TestMemoryStore tests the in-memory implementation.
func (s *FileStoreSuite) TestMemoryStore() {
	m := NewMemory()

	v, err := m.Get("k")
	s.NoError(err)
	s.Nil(v)

	s.NoError(m.Set("k", []byte("v")))
	v, err = m.Get("k")
	s.NoError(err)
	s.Equal([]byte("v"), v)

	s.NoError(m.Delete("k"))
	s.NoError(m.Delete("k"))

	m.FailWrites = true
	s.ErrorIs(m.Set("k", []byte("v")), ErrStorage)
}
