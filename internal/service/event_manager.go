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

// EventManager performs event CRUD that must hold on both sides. The remote
// provider is the system of record: every mutation goes remote first, and the
// replica is only written after remote success.
type EventManager struct {
	sources CalendarSourceRepo
	events  ExternalEventRepo
	api     CalendarAPI
}

func NewEventManager(sources CalendarSourceRepo, events ExternalEventRepo, api CalendarAPI) *EventManager {
	return &EventManager{
		sources: sources,
		events:  events,
		api:     api,
	}
}

// ownedSource loads a calendar source and verifies it belongs to the user.
// Absent and not-owned are indistinguishable to the caller.
func (m *EventManager) ownedSource(ctx context.Context, userID, sourceID string) (*models.CalendarSource, error) {
	source, err := m.sources.GetByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if source.UserID != userID {
		return nil, ErrNotFound
	}
	return source, nil
}

func validateDraftTimes(draft EventDraft) error {
	if !draft.AllDay && !draft.EndAt.After(draft.StartAt) {
		return fmt.Errorf("event end time must be after start time")
	}
	return nil
}

// Create inserts the event remotely, then mirrors it into the replica using
// the identifier and revision the provider returned. A failed local insert is
// surfaced, but the remote event stays: the next sync run heals it into the
// replica under the same external identifier.
func (m *EventManager) Create(ctx context.Context, userID, sourceID string, draft EventDraft) (*models.ExternalEvent, error) {
	source, err := m.ownedSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}

	if err := validateDraftTimes(draft); err != nil {
		return nil, err
	}

	desc, err := m.api.CreateEvent(ctx, userID, source.ExternalCalendarID, draft)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	event := &models.ExternalEvent{
		ID:               uuid.New().String(),
		CalendarSourceID: source.ID,
		ExternalEventID:  desc.ID,
		Title:            draft.Title,
		Description:      draft.Description,
		Location:         draft.Location,
		StartAt:          draft.StartAt,
		EndAt:            draft.EndAt,
		AllDay:           draft.AllDay,
		RevisionMarker:   desc.Revision,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.events.Create(ctx, event); err != nil {
		log.Printf("Remote event %s created but local insert failed, next sync will heal it: %v", desc.ID, err)
		return nil, fmt.Errorf("failed to store created event: %w", err)
	}

	log.Printf("Created event %s in calendar %s", desc.ID, source.ExternalCalendarID)
	return event, nil
}

// Update patches the event remotely, then applies the same patch to the
// replica. A stale revision marker surfaces as ErrConflict; the caller must
// re-fetch and retry.
func (m *EventManager) Update(ctx context.Context, userID, sourceID, externalID string, patch EventPatch) (*models.ExternalEvent, error) {
	source, err := m.ownedSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}

	event, err := m.events.GetBySourceAndExternalID(ctx, source.ID, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if event.Tombstoned {
		return nil, ErrNotFound
	}

	applyPatch(event, patch)
	draft := EventDraft{
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartAt:     event.StartAt,
		EndAt:       event.EndAt,
		AllDay:      event.AllDay,
	}
	if err := validateDraftTimes(draft); err != nil {
		return nil, err
	}

	desc, err := m.api.UpdateEvent(ctx, userID, source.ExternalCalendarID, externalID, event.RevisionMarker, draft)
	if err != nil {
		if IsRemoteError(err, RemoteConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		if IsRemoteError(err, RemoteNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	event.RevisionMarker = desc.Revision
	if err := m.events.Update(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to store updated event: %w", err)
	}

	log.Printf("Updated event %s in calendar %s", externalID, source.ExternalCalendarID)
	return event, nil
}

// Delete removes the event remotely and tombstones the replica row. A remote
// already-absent response counts as success, so replays are idempotent.
func (m *EventManager) Delete(ctx context.Context, userID, sourceID, externalID string) error {
	source, err := m.ownedSource(ctx, userID, sourceID)
	if err != nil {
		return err
	}

	event, err := m.events.GetBySourceAndExternalID(ctx, source.ID, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return ErrNotFound
		}
		return err
	}
	if event.Tombstoned {
		return nil
	}

	// Already absent upstream still tombstones locally.
	if err := m.api.DeleteEvent(ctx, userID, source.ExternalCalendarID, externalID); err != nil && !IsRemoteError(err, RemoteNotFound) {
		return err
	}

	if err := m.events.Tombstone(ctx, source.ID, externalID); err != nil {
		return fmt.Errorf("failed to tombstone event: %w", err)
	}

	log.Printf("Deleted event %s from calendar %s", externalID, source.ExternalCalendarID)
	return nil
}

// RemoveSource unlinks a calendar source; its replica events cascade away
// with it. The remote calendar is left untouched.
func (m *EventManager) RemoveSource(ctx context.Context, userID, sourceID string) error {
	err := m.sources.Delete(ctx, sourceID, userID)
	if errors.Is(err, repository.ErrSourceNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	log.Printf("Removed calendar source %s for user %s", sourceID, userID)
	return nil
}

// List reads the user's events from the local replica only, ordered by start
// time ascending, tombstones excluded. An empty sourceID spans all of the
// user's calendars; zero time bounds leave the range open.
func (m *EventManager) List(ctx context.Context, userID, sourceID string, start, end time.Time) ([]models.ExternalEvent, error) {
	if sourceID == "" {
		return m.events.ListByUserRange(ctx, userID, start, end)
	}

	source, err := m.ownedSource(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	return m.events.ListBySourceRange(ctx, source.ID, start, end)
}

func applyPatch(event *models.ExternalEvent, patch EventPatch) {
	if patch.Title != nil {
		event.Title = *patch.Title
	}
	if patch.Description != nil {
		event.Description = patch.Description
	}
	if patch.Location != nil {
		event.Location = patch.Location
	}
	if patch.StartAt != nil {
		event.StartAt = *patch.StartAt
	}
	if patch.EndAt != nil {
		event.EndAt = *patch.EndAt
	}
	if patch.AllDay != nil {
		event.AllDay = *patch.AllDay
	}
}
