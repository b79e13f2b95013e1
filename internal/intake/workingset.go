// Package intake provides capture intake for hemoscan: a working set of
// images awaiting selection, fed by a watcher on the capture directory.
package intake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/internal/quality"
	"github.com/thebtf/hemoscan/pkg/models"
)

// WorkingSet holds the images captured for the sample currently being
// prepared. Images are assessed as they arrive; discarded images leave the
// set entirely.
type WorkingSet struct {
	assessor      quality.Assessor
	assessTimeout time.Duration

	mu     sync.RWMutex
	images map[string]*models.CapturedImage
}

// NewWorkingSet creates an empty working set over the given assessor.
func NewWorkingSet(assessor quality.Assessor, assessTimeout time.Duration) *WorkingSet {
	return &WorkingSet{
		assessor:      assessor,
		assessTimeout: assessTimeout,
		images:        make(map[string]*models.CapturedImage),
	}
}

// Add registers a captured image and assesses it asynchronously. Adding an
// already-known URI is a no-op.
func (ws *WorkingSet) Add(ctx context.Context, uri string, sampleType models.SampleType) {
	ws.mu.Lock()
	if _, exists := ws.images[uri]; exists {
		ws.mu.Unlock()
		return
	}
	ws.images[uri] = &models.CapturedImage{
		URI:        uri,
		SampleType: sampleType,
		AddedAt:    time.Now(),
	}
	ws.mu.Unlock()

	go func() {
		results := quality.AssessAll(ctx, ws.assessor, []string{uri}, ws.assessTimeout)
		result := results[uri]

		ws.mu.Lock()
		if img, ok := ws.images[uri]; ok {
			img.Quality = &result
		}
		ws.mu.Unlock()

		log.Debug().
			Str("image", uri).
			Int("score", result.Score).
			Strs("issues", result.Issues).
			Msg("Image assessed")
	}()
}

// AddBatch registers several images and assesses them concurrently.
func (ws *WorkingSet) AddBatch(ctx context.Context, uris []string, sampleType models.SampleType) {
	now := time.Now()
	fresh := make([]string, 0, len(uris))

	ws.mu.Lock()
	for _, uri := range uris {
		if _, exists := ws.images[uri]; exists {
			continue
		}
		ws.images[uri] = &models.CapturedImage{URI: uri, SampleType: sampleType, AddedAt: now}
		fresh = append(fresh, uri)
	}
	ws.mu.Unlock()

	if len(fresh) == 0 {
		return
	}

	results := quality.AssessAll(ctx, ws.assessor, fresh, ws.assessTimeout)

	ws.mu.Lock()
	for uri, result := range results {
		if img, ok := ws.images[uri]; ok {
			r := result
			img.Quality = &r
		}
	}
	ws.mu.Unlock()
}

// Discard removes an image from the working set.
func (ws *WorkingSet) Discard(uri string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	delete(ws.images, uri)
}

// Get returns one image by URI, or nil.
func (ws *WorkingSet) Get(uri string) *models.CapturedImage {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	img, ok := ws.images[uri]
	if !ok {
		return nil
	}
	cp := *img
	return &cp
}

// List returns the working set ordered by capture time.
func (ws *WorkingSet) List() []models.CapturedImage {
	ws.mu.RLock()
	out := make([]models.CapturedImage, 0, len(ws.images))
	for _, img := range ws.images {
		out = append(out, *img)
	}
	ws.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].URI < out[j].URI
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

// Take returns the named images in the given order and removes exactly those
// from the set. Called when a selection is confirmed and handed to the
// pipeline; staged images left out of the selection stay in the set.
func (ws *WorkingSet) Take(uris []string) []models.CapturedImage {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	out := make([]models.CapturedImage, 0, len(uris))
	for _, uri := range uris {
		if img, ok := ws.images[uri]; ok {
			out = append(out, *img)
			delete(ws.images, uri)
		}
	}
	return out
}

// Len returns the number of images in the set.
func (ws *WorkingSet) Len() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.images)
}
