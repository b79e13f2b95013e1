// Package gorm provides GORM-based database operations for hemoscan.
package gorm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/hemoscan/pkg/models"
)

// StoreSuite is a test suite for store, user, and result operations.
type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	tempDir string
	store   *Store
	users   *UserStore
	results *ResultStore
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()

	var err error
	s.tempDir, err = os.MkdirTemp("", "gorm-test-*")
	s.Require().NoError(err)

	s.store, err = NewStore(Config{
		Path:     filepath.Join(s.tempDir, "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)

	s.users = NewUserStore(s.store)
	s.results = NewResultStore(s.store)
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
	os.RemoveAll(s.tempDir)
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

// TestNewStore tests that migrations create the core tables in WAL mode.
func (s *StoreSuite) TestNewStore() {
	s.NoError(s.store.Ping())

	var journalMode string
	s.Require().NoError(s.store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	s.Equal("wal", journalMode)

	for _, table := range []string{"users", "batches", "batch_results"} {
		s.True(s.store.DB.Migrator().HasTable(table), "table %q should exist", table)
	}
}

func (s *StoreSuite) seedUser(email string) *models.User {
	user := &models.User{
		ID:           uuid.New(),
		Name:         "Test Tech",
		Email:        email,
		PasswordHash: "$2a$04$notarealhash",
		Role:         models.RoleLabTechnician,
		CreatedAt:    time.Now(),
	}
	s.Require().NoError(s.users.Create(s.ctx, user))
	return user
}

// TestUserRoundTrip tests create and both lookups.
func (s *StoreSuite) TestUserRoundTrip() {
	user := s.seedUser("tech@clinic.example")

	byEmail, err := s.users.FindByEmail(s.ctx, "TECH@clinic.example")
	s.Require().NoError(err)
	s.Require().NotNil(byEmail)
	s.Equal(user.ID, byEmail.ID)
	s.Equal(models.RoleLabTechnician, byEmail.Role)

	byID, err := s.users.FindByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Require().NotNil(byID)
	s.Equal("tech@clinic.example", byID.Email)
}

// TestUserNotFound tests the (nil, nil) contract.
func (s *StoreSuite) TestUserNotFound() {
	u, err := s.users.FindByEmail(s.ctx, "nobody@clinic.example")
	s.NoError(err)
	s.Nil(u)

	u, err = s.users.FindByID(s.ctx, uuid.New())
	s.NoError(err)
	s.Nil(u)
}

// TestDuplicateEmailRejected tests the unique index on email.
func (s *StoreSuite) TestDuplicateEmailRejected() {
	s.seedUser("tech@clinic.example")

	dup := &models.User{
		ID:           uuid.New(),
		Name:         "Other",
		Email:        "tech@clinic.example",
		PasswordHash: "x",
		Role:         models.RoleDoctor,
	}
	s.Error(s.users.Create(s.ctx, dup))
}

// TestUpdateLastLogin tests the login timestamp update.
func (s *StoreSuite) TestUpdateLastLogin() {
	user := s.seedUser("tech@clinic.example")

	at := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	s.Require().NoError(s.users.UpdateLastLogin(s.ctx, user.ID, at))

	stored, err := s.users.FindByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(at.UnixMilli(), stored.LastLoginAt.UnixMilli())
}

// TestSetBiometric tests enrollment persistence.
func (s *StoreSuite) TestSetBiometric() {
	user := s.seedUser("tech@clinic.example")

	s.Require().NoError(s.users.SetBiometric(s.ctx, user.ID, "tmpl-1"))

	stored, err := s.users.FindByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.True(stored.HasBiometric)
	s.Equal("tmpl-1", stored.BiometricTemplateID)
}

func (s *StoreSuite) sampleResults(n int) []models.AnalysisResult {
	results := make([]models.AnalysisResult, n)
	for i := range results {
		results[i] = models.AnalysisResult{
			ImageURI:          filepath.Join("captures", uuid.NewString()+".png"),
			Confidence:        80 + i,
			ParasitesDetected: i%2 == 0,
			ParasiteCount:     map[bool]int{true: 5, false: 0}[i%2 == 0],
			RBCCount:          4000,
			Timestamp:         time.Now(),
		}
	}
	return results
}

// TestArchiveRoundTrip tests saving and reloading a batch with order intact.
func (s *StoreSuite) TestArchiveRoundTrip() {
	user := s.seedUser("tech@clinic.example")
	results := s.sampleResults(4)
	results[3].Failed = true
	results[3].FailureReason = "analysis timed out"
	results[3].ParasitesDetected = false
	results[3].ParasiteCount = 0

	batchID := uuid.New()
	sampleID := uuid.New()
	s.Require().NoError(s.results.SaveCompleted(s.ctx, batchID, sampleID, user.ID, models.SampleThickSmear, results))

	loaded, err := s.results.GetBatch(s.ctx, batchID)
	s.Require().NoError(err)
	s.Require().NotNil(loaded)

	s.Equal(sampleID, loaded.SampleID)
	s.Equal(models.SampleThickSmear, loaded.SampleType)
	s.Equal(4, loaded.Summary.TotalImages)
	s.Equal(1, loaded.Summary.FailedImages)

	s.Require().Len(loaded.Results, 4)
	for i, r := range loaded.Results {
		s.Equal(results[i].ImageURI, r.ImageURI, "order must survive the archive")
	}
	s.True(loaded.Results[3].Failed)
	s.Equal("analysis timed out", loaded.Results[3].FailureReason)
}

// TestGetBatchUnknown tests the (nil, nil) contract for unknown batches.
func (s *StoreSuite) TestGetBatchUnknown() {
	loaded, err := s.results.GetBatch(s.ctx, uuid.New())
	s.NoError(err)
	s.Nil(loaded)
}

// TestSaveEmptyRejected tests that an empty result set is never archived.
func (s *StoreSuite) TestSaveEmptyRejected() {
	user := s.seedUser("tech@clinic.example")
	err := s.results.SaveCompleted(s.ctx, uuid.New(), uuid.New(), user.ID, models.SampleThinSmear, nil)
	s.ErrorIs(err, ErrNotCompleted)
}

// TestListRecent tests per-user listing, newest first.
func (s *StoreSuite) TestListRecent() {
	user := s.seedUser("tech@clinic.example")
	other := s.seedUser("doc@clinic.example")

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.results.SaveCompleted(s.ctx, uuid.New(), uuid.New(), user.ID, models.SampleThinSmear, s.sampleResults(1)))
		time.Sleep(2 * time.Millisecond) // distinct completed_at_epoch
	}
	s.Require().NoError(s.results.SaveCompleted(s.ctx, uuid.New(), uuid.New(), other.ID, models.SampleThinSmear, s.sampleResults(1)))

	batches, err := s.results.ListRecent(s.ctx, user.ID, 2)
	s.Require().NoError(err)
	s.Require().Len(batches, 2)
	s.GreaterOrEqual(batches[0].Summary.CompletedAt.UnixMilli(), batches[1].Summary.CompletedAt.UnixMilli())
	for _, b := range batches {
		s.Equal(user.ID, b.UserID)
	}
}
