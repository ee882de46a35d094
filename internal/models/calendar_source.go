package models

import "time"

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusError   SyncStatus = "error"
)

// CalendarSource is one remote calendar linked to a user. SyncCursor is the
// provider's opaque incremental token; a nil cursor forces a full sync on the
// next run.
type CalendarSource struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	UserID             string     `gorm:"column:user_id;uniqueIndex:uq_source_user_external"`
	Provider           string     `gorm:"column:provider"`
	ExternalCalendarID string     `gorm:"column:external_calendar_id;uniqueIndex:uq_source_user_external"`
	Name               string     `gorm:"column:name"`
	Timezone           string     `gorm:"column:timezone"`
	IsPrimary          bool       `gorm:"column:is_primary"`
	SyncCursor         *string    `gorm:"column:sync_cursor"`
	LastSyncedAt       *time.Time `gorm:"column:last_synced_at"`
	Status             SyncStatus `gorm:"column:status"`
	LastError          *string    `gorm:"column:last_error"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (CalendarSource) TableName() string {
	return "calendar_source"
}
