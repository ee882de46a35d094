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

var ErrSourceNotFound = errors.New("calendar source not found")

type CalendarSourceRepository struct {
	db *gorm.DB
}

func NewCalendarSourceRepository(db *gorm.DB) *CalendarSourceRepository {
	return &CalendarSourceRepository{db: db}
}

// GetByID retrieves a calendar source by primary key
func (r *CalendarSourceRepository) GetByID(ctx context.Context, id string) (*models.CalendarSource, error) {
	var source models.CalendarSource
	result := r.db.WithContext(ctx).First(&source, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get calendar source: %w", result.Error)
	}
	return &source, nil
}

// ListByUser retrieves all calendar sources linked to a user
func (r *CalendarSourceRepository) ListByUser(ctx context.Context, userID string) ([]models.CalendarSource, error) {
	var sources []models.CalendarSource
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&sources)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list calendar sources: %w", result.Error)
	}
	return sources, nil
}

// ListDue retrieves sources whose last successful sync is older than the
// cutoff (or that never synced), skipping sources already running
func (r *CalendarSourceRepository) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.CalendarSource, error) {
	var sources []models.CalendarSource
	result := r.db.WithContext(ctx).
		Where("status <> ?", models.SyncStatusRunning).
		Where("last_synced_at IS NULL OR last_synced_at < ?", cutoff).
		Order("last_synced_at ASC NULLS FIRST").
		Limit(limit).
		Find(&sources)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due sources: %w", result.Error)
	}
	return sources, nil
}

// ReclaimStuck moves sources stuck in running back to error status so the
// scheduler picks them up again. A run that has not touched its row since the
// cutoff is considered abandoned (crashed process or failed cleanup).
func (r *CalendarSourceRepository) ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.CalendarSource{}).
		Where("status = ? AND updated_at < ?", models.SyncStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":     models.SyncStatusError,
			"last_error": "sync run abandoned",
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stuck sources: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Upsert inserts the source or refreshes the descriptive fields of the
// existing (user, external calendar) row. Cursor and sync state are never
// touched here.
func (r *CalendarSourceRepository) Upsert(ctx context.Context, source *models.CalendarSource) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "external_calendar_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "timezone", "is_primary", "updated_at",
		}),
	}).Create(source)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert calendar source: %w", result.Error)
	}
	return nil
}

// TryMarkRunning transitions the source to running unless a run is already in
// progress. Returns false when another sync holds the source.
func (r *CalendarSourceRepository) TryMarkRunning(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.CalendarSource{}).
		Where("id = ? AND status <> ?", id, models.SyncStatusRunning).
		Updates(map[string]interface{}{
			"status":     models.SyncStatusRunning,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark source running: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FinishRun records a successful sync: new cursor, sync timestamp, idle status
func (r *CalendarSourceRepository) FinishRun(ctx context.Context, id string, cursor *string, syncedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.CalendarSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.SyncStatusIdle,
			"sync_cursor":    cursor,
			"last_synced_at": syncedAt,
			"last_error":     nil,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finish sync run: %w", result.Error)
	}
	return nil
}

// FailRun records a failed sync. The stored cursor is deliberately left
// untouched so the next run resumes from the last fully consumed sequence.
func (r *CalendarSourceRepository) FailRun(ctx context.Context, id string, lastError string) error {
	result := r.db.WithContext(ctx).Model(&models.CalendarSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.SyncStatusError,
			"last_error": lastError,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record sync failure: %w", result.Error)
	}
	return nil
}

// ClearCursor drops the stored cursor so the next run performs a full sync
func (r *CalendarSourceRepository) ClearCursor(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.CalendarSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_cursor": nil,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear cursor: %w", result.Error)
	}
	return nil
}

// Delete unlinks a calendar source. Replica events cascade at the database level.
func (r *CalendarSourceRepository) Delete(ctx context.Context, id, userID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.CalendarSource{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete calendar source: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSourceNotFound
	}
	return nil
}
