package service

import (
	"context"
	"time"
)

// CalendarDescriptor is one calendar as reported by the remote provider.
type CalendarDescriptor struct {
	ID       string
	Name     string
	Timezone string
	Primary  bool
}

// EventDescriptor is one event as reported by the remote provider. Revision
// carries the provider's change marker (etag); Deleted marks events the
// provider reports as removed in an incremental page.
type EventDescriptor struct {
	ID          string
	Title       string
	Description *string
	Location    *string
	StartAt     time.Time
	EndAt       time.Time
	AllDay      bool
	Revision    string
	Deleted     bool
}

// EventPage is one page of a list_events call. CursorInvalid is set instead
// of an error when the provider rejected the supplied cursor, so the caller
// can fall back to a full sync.
type EventPage struct {
	Events        []EventDescriptor
	NextPageToken string
	NextCursor    string
	CursorInvalid bool
}

// EventDraft is the writable shape of an event for create/update calls.
type EventDraft struct {
	Title       string
	Description *string
	Location    *string
	StartAt     time.Time
	EndAt       time.Time
	AllDay      bool
}

// EventPatch is a partial update; nil fields are left unchanged.
type EventPatch struct {
	Title       *string
	Description *string
	Location    *string
	StartAt     *time.Time
	EndAt       *time.Time
	AllDay      *bool
}

// CalendarAPI is the provider-facing calendar interface. Implementations
// authenticate per user, retry transient failures internally, and surface the
// RemoteError/AuthError taxonomy. DeleteEvent treats an already absent remote
// event as success; callers additionally tolerate a RemoteNotFound from it.
type CalendarAPI interface {
	ListCalendars(ctx context.Context, userID string) ([]CalendarDescriptor, error)
	ListEvents(ctx context.Context, userID, calendarID, cursor, pageToken string) (*EventPage, error)
	CreateEvent(ctx context.Context, userID, calendarID string, draft EventDraft) (*EventDescriptor, error)
	UpdateEvent(ctx context.Context, userID, calendarID, eventID, revision string, draft EventDraft) (*EventDescriptor, error)
	DeleteEvent(ctx context.Context, userID, calendarID, eventID string) error
}

// SyncMetrics records sync engine outcomes.
type SyncMetrics interface {
	RecordSyncRun(outcome string)
	RecordEventsUpserted(count int)
	RecordEventsTombstoned(count int)
}
