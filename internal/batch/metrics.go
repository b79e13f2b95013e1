package batch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline counters. The global meter provider is a no-op unless the host
// application installs one.
var (
	metricsOnce      sync.Once
	imagesAnalyzed   metric.Int64Counter
	analysisFailures metric.Int64Counter
	jobsCompleted    metric.Int64Counter
	jobsCancelled    metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("github.com/thebtf/hemoscan/internal/batch")

	imagesAnalyzed, _ = meter.Int64Counter("hemoscan.batch.images_analyzed",
		metric.WithDescription("Images successfully analyzed"))
	analysisFailures, _ = meter.Int64Counter("hemoscan.batch.analysis_failures",
		metric.WithDescription("Per-image analysis failures recorded in results"))
	jobsCompleted, _ = meter.Int64Counter("hemoscan.batch.jobs_completed",
		metric.WithDescription("Batch jobs that reached Completed"))
	jobsCancelled, _ = meter.Int64Counter("hemoscan.batch.jobs_cancelled",
		metric.WithDescription("Batch jobs cancelled before completion"))
}

func recordImageAnalyzed(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	imagesAnalyzed.Add(ctx, 1)
}

func recordAnalysisFailure(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	analysisFailures.Add(ctx, 1)
}

func recordJobCompleted(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	jobsCompleted.Add(ctx, 1)
}

func recordJobCancelled(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	jobsCancelled.Add(ctx, 1)
}
