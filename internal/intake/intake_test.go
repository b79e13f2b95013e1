// Package intake provides capture intake for hemoscan.
package intake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/hemoscan/pkg/models"
)

// fixedAssessor returns a constant score for every image.
type fixedAssessor struct {
	score int
}

func (a *fixedAssessor) Assess(ctx context.Context, uri string) (models.QualityResult, error) {
	return models.QualityResult{Score: a.score}, nil
}

// WorkingSetSuite is a test suite for working set operations.
type WorkingSetSuite struct {
	suite.Suite
	set *WorkingSet
}

func (s *WorkingSetSuite) SetupTest() {
	s.set = NewWorkingSet(&fixedAssessor{score: 80}, time.Second)
}

func TestWorkingSetSuite(t *testing.T) {
	suite.Run(t, new(WorkingSetSuite))
}

// TestAddAssessesAsync tests that added images gain a quality result.
func (s *WorkingSetSuite) TestAddAssessesAsync() {
	s.set.Add(context.Background(), "a.png", models.SampleThinSmear)
	s.Equal(1, s.set.Len())

	s.Require().Eventually(func() bool {
		img := s.set.Get("a.png")
		return img != nil && img.Quality != nil
	}, time.Second, 5*time.Millisecond)

	s.Equal(80, s.set.Get("a.png").Quality.Score)
}

// TestAddDuplicateIsNoOp tests that re-adding a URI does not duplicate it.
func (s *WorkingSetSuite) TestAddDuplicateIsNoOp() {
	s.set.Add(context.Background(), "a.png", models.SampleThinSmear)
	s.set.Add(context.Background(), "a.png", models.SampleThinSmear)
	s.Equal(1, s.set.Len())
}

// TestAddBatchAssessesAll tests synchronous batch intake.
func (s *WorkingSetSuite) TestAddBatchAssessesAll() {
	s.set.AddBatch(context.Background(), []string{"a.png", "b.png", "c.png"}, models.SampleThickSmear)

	images := s.set.List()
	s.Require().Len(images, 3)
	for _, img := range images {
		s.Require().NotNil(img.Quality)
		s.Equal(80, img.Quality.Score)
		s.Equal(models.SampleThickSmear, img.SampleType)
	}
}

// TestDiscard tests removal from the working set.
func (s *WorkingSetSuite) TestDiscard() {
	s.set.AddBatch(context.Background(), []string{"a.png", "b.png"}, models.SampleThinSmear)
	s.set.Discard("a.png")

	s.Equal(1, s.set.Len())
	s.Nil(s.set.Get("a.png"))
	s.NotNil(s.set.Get("b.png"))
}

// TestTakePreservesRequestedOrder tests that confirming a selection hands
// images over in the caller's order and removes only the taken ones.
func (s *WorkingSetSuite) TestTakePreservesRequestedOrder() {
	s.set.AddBatch(context.Background(), []string{"a.png", "b.png", "c.png"}, models.SampleThinSmear)

	taken := s.set.Take([]string{"c.png", "a.png"})
	s.Require().Len(taken, 2)
	s.Equal("c.png", taken[0].URI)
	s.Equal("a.png", taken[1].URI)

	// Unselected images stay staged
	s.Equal(1, s.set.Len())
	s.NotNil(s.set.Get("b.png"))
	s.Nil(s.set.Get("a.png"))
}

// TestListOrderedByCaptureTime tests stable listing order.
func (s *WorkingSetSuite) TestListOrderedByCaptureTime() {
	s.set.Add(context.Background(), "b.png", models.SampleThinSmear)
	s.set.Add(context.Background(), "a.png", models.SampleThinSmear)

	images := s.set.List()
	s.Require().Len(images, 2)
	// Same AddedAt resolution ties break by URI
	s.True(images[0].AddedAt.Before(images[1].AddedAt) ||
		images[0].AddedAt.Equal(images[1].AddedAt))
}

func TestWatcherReportsNewImages(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string
	w, err := NewWatcher(dir, func(path string) {
		mu.Lock()
		seen = append(seen, filepath.Base(path))
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "slide-1.png"), []byte("data"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"slide-1.png"}, seen)
	mu.Unlock()
}

func TestWatcherReportsPreexistingImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.jpg"), []byte("data"), 0o600))

	var mu sync.Mutex
	var seen []string
	w, err := NewWatcher(dir, func(path string) {
		mu.Lock()
		seen = append(seen, filepath.Base(path))
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	mu.Lock()
	assert.Equal(t, []string{"old.jpg"}, seen)
	mu.Unlock()
}

func TestWatcherIgnoresRemovedBeforeSettle(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	count := 0
	w, err := NewWatcher(dir, func(path string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(dir, "flicker.png")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	require.NoError(t, os.Remove(path))

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, count)
	mu.Unlock()
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), func(string) {})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
