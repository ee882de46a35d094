package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jspiv/calendpro-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEventNotFound = errors.New("external event not found")

type ExternalEventRepository struct {
	db *gorm.DB
}

func NewExternalEventRepository(db *gorm.DB) *ExternalEventRepository {
	return &ExternalEventRepository{db: db}
}

// GetBySourceAndExternalID retrieves a replica row by its provider identifier,
// tombstoned rows included
func (r *ExternalEventRepository) GetBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*models.ExternalEvent, error) {
	var event models.ExternalEvent
	result := r.db.WithContext(ctx).
		First(&event, "calendar_source_id = ? AND external_event_id = ?", sourceID, externalID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get external event: %w", result.Error)
	}
	return &event, nil
}

// Create inserts a new replica row
func (r *ExternalEventRepository) Create(ctx context.Context, event *models.ExternalEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create external event: %w", err)
	}
	return nil
}

// Upsert inserts the event or overwrites the existing row for the same
// (source, external id). A tombstoned row reported live again by the provider
// is resurrected.
func (r *ExternalEventRepository) Upsert(ctx context.Context, event *models.ExternalEvent) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "calendar_source_id"}, {Name: "external_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "location", "start_at", "end_at", "all_day",
			"revision_marker", "tombstoned", "updated_at",
		}),
	}).Create(event)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert external event: %w", result.Error)
	}
	return nil
}

// Update persists a locally patched replica row
func (r *ExternalEventRepository) Update(ctx context.Context, event *models.ExternalEvent) error {
	event.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).Model(&models.ExternalEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"title":           event.Title,
			"description":     event.Description,
			"location":        event.Location,
			"start_at":        event.StartAt,
			"end_at":          event.EndAt,
			"all_day":         event.AllDay,
			"revision_marker": event.RevisionMarker,
			"updated_at":      event.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update external event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Tombstone soft-deletes a replica row. Tombstoning an already tombstoned or
// absent row is a no-op.
func (r *ExternalEventRepository) Tombstone(ctx context.Context, sourceID, externalID string) error {
	result := r.db.WithContext(ctx).Model(&models.ExternalEvent{}).
		Where("calendar_source_id = ? AND external_event_id = ?", sourceID, externalID).
		Updates(map[string]interface{}{
			"tombstoned": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to tombstone external event: %w", result.Error)
	}
	return nil
}

// TombstoneMissing soft-deletes every live row of a source whose provider
// identifier is absent from the seen set. Used by full-sync deletion
// reconciliation.
func (r *ExternalEventRepository) TombstoneMissing(ctx context.Context, sourceID string, seen []string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ExternalEvent{}).
		Where("calendar_source_id = ? AND tombstoned = ?", sourceID, false)
	if len(seen) > 0 {
		query = query.Where("external_event_id NOT IN ?", seen)
	}
	result := query.Updates(map[string]interface{}{
		"tombstoned": true,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to tombstone missing events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListByUserRange returns the user's live events ordered by start time.
// Either bound may be zero to leave the range open on that side.
func (r *ExternalEventRepository) ListByUserRange(ctx context.Context, userID string, start, end time.Time) ([]models.ExternalEvent, error) {
	query := r.db.WithContext(ctx).Model(&models.ExternalEvent{}).
		Joins("JOIN calendar_source ON calendar_source.id = external_event.calendar_source_id").
		Where("calendar_source.user_id = ?", userID).
		Where("external_event.tombstoned = ?", false)
	if !start.IsZero() {
		query = query.Where("external_event.start_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("external_event.start_at <= ?", end)
	}

	var events []models.ExternalEvent
	result := query.Order("external_event.start_at ASC").Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list events: %w", result.Error)
	}
	return events, nil
}

// ListBySourceRange returns the live events of one source ordered by start time
func (r *ExternalEventRepository) ListBySourceRange(ctx context.Context, sourceID string, start, end time.Time) ([]models.ExternalEvent, error) {
	query := r.db.WithContext(ctx).
		Where("calendar_source_id = ? AND tombstoned = ?", sourceID, false)
	if !start.IsZero() {
		query = query.Where("start_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("start_at <= ?", end)
	}

	var events []models.ExternalEvent
	result := query.Order("start_at ASC").Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list events: %w", result.Error)
	}
	return events, nil
}
