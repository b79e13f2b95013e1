// Package main provides the hemoscan worker entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hemoscan/internal/analysis"
	"github.com/thebtf/hemoscan/internal/auth"
	"github.com/thebtf/hemoscan/internal/config"
	gormdb "github.com/thebtf/hemoscan/internal/db/gorm"
	"github.com/thebtf/hemoscan/internal/intake"
	"github.com/thebtf/hemoscan/internal/quality"
	"github.com/thebtf/hemoscan/internal/securestore"
	"github.com/thebtf/hemoscan/internal/worker"
	"github.com/thebtf/hemoscan/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// Parse flags
	captureDir := flag.String("capture-dir", "", "Directory watched for captured smear images")
	port := flag.Int("port", 0, "Worker HTTP port (default: from settings)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// The worker serves the UI over HTTP, so logs go to stderr
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	// Ensure the data directory and settings exist
	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
		cfg = config.Default()
	}
	if *captureDir != "" {
		cfg.CaptureDir = *captureDir
	}
	if *port != 0 {
		cfg.WorkerPort = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Initialize the database (migrations run automatically)
	store, err := gormdb.NewStore(gormdb.Config{
		Path:        config.DBPath(),
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.MaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	users := gormdb.NewUserStore(store)
	archive := gormdb.NewResultStore(store)

	// Session blob lives in the device data directory, sealed per device
	blob, err := securestore.NewFile(config.SessionBlobPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}

	sessions := auth.NewManager(users, blob, auth.NewTemplateVerifier())
	if session := sessions.ResumeSession(ctx); session != nil {
		log.Info().Str("email", session.Email).Msg("Resumed persisted session")
	}

	// Quality assessment runs locally on the device
	workingSet := intake.NewWorkingSet(quality.NewHeuristic(), cfg.AssessTimeout)

	// Analysis goes to the configured service, or the built-in simulator
	// when the device is offline
	var analyzer analysis.Service
	if cfg.AnalysisURL != "" {
		analyzer = analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisTimeout)
		log.Info().Str("url", cfg.AnalysisURL).Msg("Using remote analysis service")
	} else {
		analyzer = analysis.NewSimulator(time.Now().UnixNano(), 200*time.Millisecond, 900*time.Millisecond)
		log.Info().Msg("No analysis URL configured, using simulator")
	}

	svc := worker.NewService(Version, cfg, sessions, workingSet, analyzer, archive)

	// Watch the capture directory so field captures land in the working set
	// without manual imports
	if cfg.CaptureDir != "" {
		w, err := intake.NewWatcher(cfg.CaptureDir, func(path string) {
			svc.AddImage(path, models.SampleThinSmear)
		})
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.CaptureDir).Msg("Capture watcher unavailable")
		} else if err := w.Start(); err != nil {
			log.Warn().Err(err).Str("dir", cfg.CaptureDir).Msg("Failed to start capture watcher")
		} else {
			defer w.Stop()
			log.Info().Str("dir", cfg.CaptureDir).Msg("Watching capture directory")
		}
	}

	// Run the HTTP service until a signal arrives
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start()
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Worker service failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
}
