package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jspiv/calendpro-worker/internal/config"
	"github.com/jspiv/calendpro-worker/internal/models"
	"github.com/jspiv/calendpro-worker/internal/service"
)

type mockSourceLister struct {
	listDueFunc      func(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error)
	reclaimStuckFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockSourceLister) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error) {
	if m.listDueFunc != nil {
		return m.listDueFunc(ctx, cutoff, limit)
	}
	return nil, nil
}

func (m *mockSourceLister) ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.reclaimStuckFunc != nil {
		return m.reclaimStuckFunc(ctx, cutoff)
	}
	return 0, nil
}

type mockSyncRunner struct {
	syncSourceFunc func(ctx context.Context, sourceID string) (*service.SourceSyncResult, error)
}

func (m *mockSyncRunner) SyncSource(ctx context.Context, sourceID string) (*service.SourceSyncResult, error) {
	if m.syncSourceFunc != nil {
		return m.syncSourceFunc(ctx, sourceID)
	}
	return &service.SourceSyncResult{SourceID: sourceID}, nil
}

func TestWatcher_ProcessDueSources(t *testing.T) {
	cfg := &config.Config{PollInterval: 30, SyncStaleness: 15}

	lister := &mockSourceLister{
		listDueFunc: func(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error) {
			if time.Since(cutoff) < 14*time.Minute {
				t.Fatalf("expected cutoff around 15 minutes ago, got %s", cutoff)
			}
			return []models.CalendarSource{{ID: "src-1"}, {ID: "src-2"}}, nil
		},
	}

	var synced []string
	runner := &mockSyncRunner{
		syncSourceFunc: func(ctx context.Context, sourceID string) (*service.SourceSyncResult, error) {
			synced = append(synced, sourceID)
			return &service.SourceSyncResult{SourceID: sourceID}, nil
		},
	}

	w := New(cfg, lister, runner)

	if err := w.processDueSources(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(synced) != 2 {
		t.Fatalf("expected 2 sources synced, got %d", len(synced))
	}
}

func TestWatcher_ReclaimsAbandonedRunsBeforeListing(t *testing.T) {
	cfg := &config.Config{PollInterval: 30, SyncStaleness: 15, StuckRunning: 30}

	reclaimed := false
	lister := &mockSourceLister{
		reclaimStuckFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
			if time.Since(cutoff) < 29*time.Minute {
				t.Fatalf("expected stuck cutoff around 30 minutes ago, got %s", cutoff)
			}
			reclaimed = true
			return 1, nil
		},
		listDueFunc: func(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error) {
			if !reclaimed {
				t.Fatal("expected stuck sources reclaimed before listing due sources")
			}
			return []models.CalendarSource{{ID: "src-stuck"}}, nil
		},
	}

	var synced []string
	runner := &mockSyncRunner{
		syncSourceFunc: func(ctx context.Context, sourceID string) (*service.SourceSyncResult, error) {
			synced = append(synced, sourceID)
			return &service.SourceSyncResult{SourceID: sourceID}, nil
		},
	}

	w := New(cfg, lister, runner)

	if err := w.processDueSources(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(synced) != 1 || synced[0] != "src-stuck" {
		t.Errorf("expected reclaimed source synced, got %v", synced)
	}
}

func TestWatcher_SkipsBusySources(t *testing.T) {
	cfg := &config.Config{PollInterval: 30, SyncStaleness: 15}

	lister := &mockSourceLister{
		listDueFunc: func(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error) {
			return []models.CalendarSource{{ID: "src-busy"}, {ID: "src-2"}}, nil
		},
	}

	var synced []string
	runner := &mockSyncRunner{
		syncSourceFunc: func(ctx context.Context, sourceID string) (*service.SourceSyncResult, error) {
			if sourceID == "src-busy" {
				return nil, service.ErrSyncInProgress
			}
			synced = append(synced, sourceID)
			return &service.SourceSyncResult{SourceID: sourceID}, nil
		},
	}

	w := New(cfg, lister, runner)

	if err := w.processDueSources(context.Background()); err != nil {
		t.Fatalf("expected busy source skipped silently, got %v", err)
	}
	if len(synced) != 1 || synced[0] != "src-2" {
		t.Errorf("expected only src-2 synced, got %v", synced)
	}
}

func TestWatcher_ContinuesAfterSourceFailure(t *testing.T) {
	cfg := &config.Config{PollInterval: 30, SyncStaleness: 15}

	lister := &mockSourceLister{
		listDueFunc: func(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error) {
			return []models.CalendarSource{{ID: "src-1"}, {ID: "src-2"}}, nil
		},
	}

	var synced []string
	runner := &mockSyncRunner{
		syncSourceFunc: func(ctx context.Context, sourceID string) (*service.SourceSyncResult, error) {
			if sourceID == "src-1" {
				return nil, errors.New("provider down")
			}
			synced = append(synced, sourceID)
			return &service.SourceSyncResult{SourceID: sourceID}, nil
		},
	}

	w := New(cfg, lister, runner)

	if err := w.processDueSources(context.Background()); err != nil {
		t.Fatalf("expected per-source failures swallowed, got %v", err)
	}
	if len(synced) != 1 || synced[0] != "src-2" {
		t.Errorf("expected src-2 still synced, got %v", synced)
	}
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	cfg := &config.Config{PollInterval: 1, SyncStaleness: 15}
	w := New(cfg, &mockSourceLister{}, &mockSyncRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
