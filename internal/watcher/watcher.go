package watcher

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jspiv/calendpro-worker/internal/config"
	"github.com/jspiv/calendpro-worker/internal/models"
	"github.com/jspiv/calendpro-worker/internal/service"
)

const dueBatchSize = 10

// SourceLister finds calendar sources that are due for a sync and reclaims
// runs abandoned by a crashed process.
type SourceLister interface {
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error)
	ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncRunner executes a sync run for a single calendar source.
type SyncRunner interface {
	SyncSource(ctx context.Context, sourceID string) (*service.SourceSyncResult, error)
}

type Watcher struct {
	cfg     *config.Config
	sources SourceLister
	engine  SyncRunner
}

func New(cfg *config.Config, sources SourceLister, engine SyncRunner) *Watcher {
	return &Watcher{
		cfg:     cfg,
		sources: sources,
		engine:  engine,
	}
}

// Start begins polling for stale calendar sources and syncing them.
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("Starting watcher for stale calendar sources...")

	// Process any stale sources from previous runs
	if err := w.processDueSources(ctx); err != nil {
		log.Printf("Warning: failed to process due sources on startup: %v", err)
	}

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Watcher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processDueSources(ctx); err != nil {
				log.Printf("Error processing due sources: %v", err)
			}
		}
	}
}

// processDueSources syncs every source whose last successful sync is older
// than the configured staleness window.
func (w *Watcher) processDueSources(ctx context.Context) error {
	// Runs abandoned by a crash keep status running and would otherwise be
	// skipped forever; return them to error status first.
	stuckCutoff := time.Now().Add(-time.Duration(w.cfg.StuckRunning) * time.Minute)
	if reclaimed, err := w.sources.ReclaimStuck(ctx, stuckCutoff); err != nil {
		log.Printf("Error reclaiming stuck sources: %v", err)
	} else if reclaimed > 0 {
		log.Printf("Reclaimed %d abandoned sync run(s)", reclaimed)
	}

	cutoff := time.Now().Add(-time.Duration(w.cfg.SyncStaleness) * time.Minute)

	due, err := w.sources.ListDue(ctx, cutoff, dueBatchSize)
	if err != nil {
		return err
	}

	if len(due) == 0 {
		return nil
	}

	log.Printf("Found %d calendar source(s) due for sync", len(due))

	for _, source := range due {
		result, err := w.engine.SyncSource(ctx, source.ID)
		if err != nil {
			// Another run already holds the source, pick it up next tick.
			if errors.Is(err, service.ErrSyncInProgress) {
				continue
			}
			log.Printf("Failed to sync source %s: %v", source.ID, err)
			continue
		}
		log.Printf("Synced source %s: %d upserted, %d tombstoned", source.ID, result.Synced, result.Tombstoned)
	}

	return nil
}
