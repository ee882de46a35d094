package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jspiv/calendpro-worker/internal/models"
	"github.com/jspiv/calendpro-worker/internal/repository"
)

// CalendarSourceRepo is the calendar source persistence interface
type CalendarSourceRepo interface {
	GetByID(ctx context.Context, id string) (*models.CalendarSource, error)
	ListByUser(ctx context.Context, userID string) ([]models.CalendarSource, error)
	Upsert(ctx context.Context, source *models.CalendarSource) error
	TryMarkRunning(ctx context.Context, id string) (bool, error)
	FinishRun(ctx context.Context, id string, cursor *string, syncedAt time.Time) error
	FailRun(ctx context.Context, id, lastError string) error
	ClearCursor(ctx context.Context, id string) error
	Delete(ctx context.Context, id, userID string) error
}

// ExternalEventRepo is the event replica persistence interface
type ExternalEventRepo interface {
	GetBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*models.ExternalEvent, error)
	Create(ctx context.Context, event *models.ExternalEvent) error
	Upsert(ctx context.Context, event *models.ExternalEvent) error
	Update(ctx context.Context, event *models.ExternalEvent) error
	Tombstone(ctx context.Context, sourceID, externalID string) error
	TombstoneMissing(ctx context.Context, sourceID string, seen []string) (int64, error)
	ListByUserRange(ctx context.Context, userID string, start, end time.Time) ([]models.ExternalEvent, error)
	ListBySourceRange(ctx context.Context, sourceID string, start, end time.Time) ([]models.ExternalEvent, error)
}

// SourceSyncResult reports the outcome of one sync run.
type SourceSyncResult struct {
	SourceID   string
	Status     models.SyncStatus
	Synced     int
	Tombstoned int
	Err        error
}

// SyncEngine drives incremental and full synchronization of calendar sources.
// At most one run per source executes at a time; a second request is rejected
// with ErrSyncInProgress instead of queued.
type SyncEngine struct {
	sources  CalendarSourceRepo
	events   ExternalEventRepo
	api      CalendarAPI
	metrics  SyncMetrics
	provider string
}

func NewSyncEngine(sources CalendarSourceRepo, events ExternalEventRepo, api CalendarAPI, metrics SyncMetrics, provider string) *SyncEngine {
	return &SyncEngine{
		sources:  sources,
		events:   events,
		api:      api,
		metrics:  metrics,
		provider: provider,
	}
}

// SyncSource runs one synchronization of a calendar source. Incremental when
// a cursor is stored, full otherwise. On failure the previous cursor is left
// untouched and the source ends in error status.
func (e *SyncEngine) SyncSource(ctx context.Context, sourceID string) (*SourceSyncResult, error) {
	acquired, err := e.sources.TryMarkRunning(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}

	source, err := e.sources.GetByID(ctx, sourceID)
	if err != nil {
		e.fail(ctx, sourceID, err)
		return nil, err
	}

	result, nextCursor, err := e.run(ctx, source)
	if err != nil {
		e.fail(ctx, sourceID, err)
		return nil, err
	}

	if err := e.sources.FinishRun(ctx, sourceID, nextCursor, time.Now()); err != nil {
		e.fail(ctx, sourceID, err)
		return nil, err
	}

	e.metrics.RecordSyncRun("success")
	log.Printf("Synced source %s: %d upserted, %d tombstoned", sourceID, result.Synced, result.Tombstoned)
	return result, nil
}

// ForceFullSync drops the stored cursor and runs a sync, rebuilding the
// replica from the provider's full window.
func (e *SyncEngine) ForceFullSync(ctx context.Context, sourceID string) (*SourceSyncResult, error) {
	if err := e.sources.ClearCursor(ctx, sourceID); err != nil {
		return nil, err
	}
	return e.SyncSource(ctx, sourceID)
}

// run pages through the provider's changes and reconciles them into the
// replica. A rejected cursor triggers at most one in-run restart in full mode.
func (e *SyncEngine) run(ctx context.Context, source *models.CalendarSource) (*SourceSyncResult, *string, error) {
	cursor := ""
	if source.SyncCursor != nil {
		cursor = *source.SyncCursor
	}
	restarted := false

	for {
		full := cursor == ""
		pageToken := ""
		nextCursor := ""
		cursorInvalid := false
		upserted, tombstoned := 0, 0
		var seen []string

		for {
			page, err := e.api.ListEvents(ctx, source.UserID, source.ExternalCalendarID, cursor, pageToken)
			if err != nil {
				return nil, nil, err
			}

			if page.CursorInvalid {
				if restarted {
					return nil, nil, fmt.Errorf("provider rejected cursor again after full-sync restart")
				}
				log.Printf("Cursor rejected for source %s, restarting in full-sync mode", source.ID)
				restarted = true
				cursorInvalid = true
				break
			}

			for _, ev := range page.Events {
				if ev.Deleted {
					if err := e.events.Tombstone(ctx, source.ID, ev.ID); err != nil {
						return nil, nil, err
					}
					tombstoned++
					continue
				}

				changed, err := e.reconcile(ctx, source.ID, ev)
				if err != nil {
					return nil, nil, err
				}
				if changed {
					upserted++
				}
				if full {
					seen = append(seen, ev.ID)
				}
			}

			pageToken = page.NextPageToken
			if pageToken == "" {
				nextCursor = page.NextCursor
				break
			}
		}

		if cursorInvalid {
			cursor = ""
			continue
		}

		// A full sync also reconciles deletions: anything we no longer saw
		// upstream is tombstoned.
		if full {
			n, err := e.events.TombstoneMissing(ctx, source.ID, seen)
			if err != nil {
				return nil, nil, err
			}
			tombstoned += int(n)
		}

		e.metrics.RecordEventsUpserted(upserted)
		e.metrics.RecordEventsTombstoned(tombstoned)

		result := &SourceSyncResult{
			SourceID:   source.ID,
			Status:     models.SyncStatusIdle,
			Synced:     upserted,
			Tombstoned: tombstoned,
		}
		var cursorPtr *string
		if nextCursor != "" {
			cursorPtr = &nextCursor
		}
		return result, cursorPtr, nil
	}
}

// reconcile upserts one descriptor into the replica. An unchanged revision
// marker on a live row is a no-op.
func (e *SyncEngine) reconcile(ctx context.Context, sourceID string, ev EventDescriptor) (bool, error) {
	existing, err := e.events.GetBySourceAndExternalID(ctx, sourceID, ev.ID)
	if err != nil && !errors.Is(err, repository.ErrEventNotFound) {
		return false, err
	}
	if existing != nil && existing.RevisionMarker == ev.Revision && !existing.Tombstoned {
		return false, nil
	}

	now := time.Now()
	row := &models.ExternalEvent{
		ID:               uuid.New().String(),
		CalendarSourceID: sourceID,
		ExternalEventID:  ev.ID,
		Title:            ev.Title,
		Description:      ev.Description,
		Location:         ev.Location,
		StartAt:          ev.StartAt,
		EndAt:            ev.EndAt,
		AllDay:           ev.AllDay,
		RevisionMarker:   ev.Revision,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.events.Upsert(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func (e *SyncEngine) fail(ctx context.Context, sourceID string, cause error) {
	e.metrics.RecordSyncRun("error")
	if err := e.sources.FailRun(ctx, sourceID, cause.Error()); err != nil {
		log.Printf("Failed to record sync failure for source %s: %v", sourceID, err)
	}
}

// SyncUserCalendars refreshes the user's calendar source list from the
// provider and syncs every source, returning per-source results.
func (e *SyncEngine) SyncUserCalendars(ctx context.Context, userID string) ([]SourceSyncResult, error) {
	calendars, err := e.api.ListCalendars(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	now := time.Now()
	for _, cal := range calendars {
		source := &models.CalendarSource{
			ID:                 uuid.New().String(),
			UserID:             userID,
			Provider:           e.provider,
			ExternalCalendarID: cal.ID,
			Name:               cal.Name,
			Timezone:           cal.Timezone,
			IsPrimary:          cal.Primary,
			Status:             models.SyncStatusIdle,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := e.sources.Upsert(ctx, source); err != nil {
			return nil, err
		}
	}

	sources, err := e.sources.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]SourceSyncResult, 0, len(sources))
	for _, source := range sources {
		result, err := e.SyncSource(ctx, source.ID)
		if err != nil {
			status := models.SyncStatusError
			if errors.Is(err, ErrSyncInProgress) {
				status = models.SyncStatusRunning
			}
			results = append(results, SourceSyncResult{SourceID: source.ID, Status: status, Err: err})
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}
