package models

import "time"

// ExternalEvent is the local replica of one remote calendar event.
// Tombstoned rows are kept, not purged, so delete replay stays idempotent;
// they fall out of every listing.
type ExternalEvent struct {
	ID               string    `gorm:"column:id;primaryKey"`
	CalendarSourceID string    `gorm:"column:calendar_source_id;uniqueIndex:uq_event_source_external;index:ix_event_source_start,priority:1"`
	ExternalEventID  string    `gorm:"column:external_event_id;uniqueIndex:uq_event_source_external"`
	Title            string    `gorm:"column:title"`
	Description      *string   `gorm:"column:description"`
	Location         *string   `gorm:"column:location"`
	StartAt          time.Time `gorm:"column:start_at;index:ix_event_source_start,priority:2"`
	EndAt            time.Time `gorm:"column:end_at"`
	AllDay           bool      `gorm:"column:all_day"`
	RevisionMarker   string    `gorm:"column:revision_marker"`
	Tombstoned       bool      `gorm:"column:tombstoned"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (ExternalEvent) TableName() string {
	return "external_event"
}
