package quality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/hemoscan/pkg/models"
)

// AssessAll assesses every image concurrently and returns results keyed by
// image URI. A failed assessment for one image degrades to FallbackResult
// instead of aborting the others; AssessAll itself never fails.
func AssessAll(ctx context.Context, assessor Assessor, uris []string, perImageTimeout time.Duration) map[string]models.QualityResult {
	results := make(map[string]models.QualityResult, len(uris))
	if len(uris) == 0 {
		return results
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for _, uri := range uris {
		uri := uri
		g.Go(func() error {
			assessCtx := ctx
			if perImageTimeout > 0 {
				var cancel context.CancelFunc
				assessCtx, cancel = context.WithTimeout(ctx, perImageTimeout)
				defer cancel()
			}

			result, err := assessor.Assess(assessCtx, uri)
			if err != nil {
				log.Warn().Err(err).Str("image", uri).Msg("Assessment failed, recording fallback")
				result = FallbackResult()
			}

			mu.Lock()
			results[uri] = result
			mu.Unlock()
			return nil
		})
	}

	// Workers only ever return nil; failures are degraded per image.
	_ = g.Wait()
	return results
}
