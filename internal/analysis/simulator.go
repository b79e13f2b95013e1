package analysis

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/thebtf/hemoscan/pkg/models"
)

// Simulator is an offline Service implementation used when no inference
// server is configured. Results are derived from a seeded generator so a
// given image always yields the same verdict, with optional artificial
// latency to exercise callers' sequencing and cancellation behavior.
type Simulator struct {
	mu       sync.Mutex
	seed     int64
	minDelay time.Duration
	maxDelay time.Duration
	rng      *rand.Rand
}

// NewSimulator creates a simulator with the given per-call latency range.
func NewSimulator(seed int64, minDelay, maxDelay time.Duration) *Simulator {
	return &Simulator{
		seed:     seed,
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Analyze produces a deterministic simulated verdict for the image.
func (s *Simulator) Analyze(ctx context.Context, imageURI string, sampleType models.SampleType) (models.AnalysisResult, error) {
	if delay := s.nextDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return models.AnalysisResult{}, ErrTimeout
			}
			return models.AnalysisResult{}, ctx.Err()
		}
	}

	// Per-image generator keyed by URI and seed: stable across runs
	h := fnv.New64a()
	h.Write([]byte(imageURI))
	rng := rand.New(rand.NewSource(s.seed ^ int64(h.Sum64())))

	detected := rng.Intn(100) < 35
	result := models.AnalysisResult{
		ImageURI:          imageURI,
		Confidence:        70 + rng.Intn(30),
		ParasitesDetected: detected,
		RBCCount:          3500 + rng.Intn(2500),
		Timestamp:         time.Now(),
	}
	if detected {
		result.ParasiteCount = 1 + rng.Intn(40)
		// Thick smears concentrate more blood per field
		if sampleType == models.SampleThickSmear {
			result.ParasiteCount *= 2
		}
	}
	return result, nil
}

func (s *Simulator) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rng.Int63n(int64(s.maxDelay-s.minDelay)))
}
