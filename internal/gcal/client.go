package gcal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jspiv/calendpro-worker/internal/models"
	"github.com/jspiv/calendpro-worker/internal/service"
)

const (
	maxPageSize = 250 // Google Calendar API max per page

	callTimeout = 30 * time.Second
	baseBackoff = 500 * time.Millisecond

	// Full syncs cover this window around now, matching what the replica is
	// expected to serve.
	fullSyncDaysBack    = 30
	fullSyncDaysForward = 90
)

// CredentialSource hands out non-expired credentials per user
type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID, provider string) (*models.OAuthCredential, error)
}

// CallMetrics records remote call outcomes and retries
type CallMetrics interface {
	RecordRemoteCall(operation string, duration time.Duration, err error)
	RecordRetry(operation string)
}

// Client is the Google Calendar implementation of service.CalendarAPI. Every
// call is authenticated through the credential source, rate limited, bounded
// by a timeout, and retried on transient failures.
type Client struct {
	creds      CredentialSource
	metrics    CallMetrics
	limiter    *rate.Limiter
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(creds CredentialSource, metrics CallMetrics, maxRetries int) *Client {
	return &Client{
		creds:      creds,
		metrics:    metrics,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		maxRetries: maxRetries,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// svc builds a Calendar API service authenticated as the given user
func (c *Client) svc(ctx context.Context, userID string) (*calendar.Service, error) {
	cred, err := c.creds.GetValidCredential(ctx, userID, Provider)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// call runs one remote operation under the rate limiter and per-call timeout,
// retrying transient and rate-limited failures with exponential backoff. A
// provider Retry-After hint overrides the computed delay.
func (c *Client) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		start := time.Now()
		err := mapError(fn(callCtx))
		cancel()
		c.metrics.RecordRemoteCall(operation, time.Since(start), err)

		if err == nil {
			return nil
		}

		var remoteErr *service.RemoteError
		if !errors.As(err, &remoteErr) || !remoteErr.Retryable() || attempt >= c.maxRetries {
			return err
		}

		delay := backoffDelay(attempt)
		if remoteErr.RetryAfter > 0 {
			delay = remoteErr.RetryAfter
		}

		c.metrics.RecordRetry(operation)
		log.Printf("Retrying %s after %s (attempt %d): %v", operation, delay, attempt+1, err)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// mapError classifies a Google API failure into the service error taxonomy
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Network failures and timeouts are transient.
		return &service.RemoteError{Kind: service.RemoteTransient, Err: err}
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return &service.AuthError{Reason: service.AuthRevokedByUser, Err: err}
	case apiErr.Code == http.StatusTooManyRequests,
		apiErr.Code == http.StatusForbidden && isRateLimited(apiErr):
		return &service.RemoteError{
			Kind:       service.RemoteRateLimited,
			StatusCode: apiErr.Code,
			RetryAfter: retryAfter(apiErr),
			Err:        err,
		}
	case apiErr.Code == http.StatusNotFound, apiErr.Code == http.StatusGone:
		return &service.RemoteError{Kind: service.RemoteNotFound, StatusCode: apiErr.Code, Err: err}
	case apiErr.Code == http.StatusConflict, apiErr.Code == http.StatusPreconditionFailed:
		return &service.RemoteError{Kind: service.RemoteConflict, StatusCode: apiErr.Code, Err: err}
	case apiErr.Code >= 500:
		return &service.RemoteError{Kind: service.RemoteTransient, StatusCode: apiErr.Code, Err: err}
	default:
		return &service.RemoteError{Kind: service.RemoteRejected, StatusCode: apiErr.Code, Err: err}
	}
}

func isRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func retryAfter(apiErr *googleapi.Error) time.Duration {
	if apiErr.Header == nil {
		return 0
	}
	raw := apiErr.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ListCalendars returns every calendar on the user's calendar list
func (c *Client) ListCalendars(ctx context.Context, userID string) ([]service.CalendarDescriptor, error) {
	svc, err := c.svc(ctx, userID)
	if err != nil {
		return nil, err
	}

	var calendars []service.CalendarDescriptor
	pageToken := ""
	for {
		var resp *calendar.CalendarList
		err := c.call(ctx, "calendars.list", func(callCtx context.Context) error {
			listCall := svc.CalendarList.List().MaxResults(maxPageSize)
			if pageToken != "" {
				listCall = listCall.PageToken(pageToken)
			}
			var callErr error
			resp, callErr = listCall.Context(callCtx).Do()
			return callErr
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			calendars = append(calendars, service.CalendarDescriptor{
				ID:       item.Id,
				Name:     item.Summary,
				Timezone: item.TimeZone,
				Primary:  item.Primary,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return calendars, nil
		}
	}
}

// ListEvents fetches one page of events. With a cursor the call is
// incremental; without one it covers the full sync window. A provider 410 on
// the cursor yields CursorInvalid instead of an error.
func (c *Client) ListEvents(ctx context.Context, userID, calendarID, cursor, pageToken string) (*service.EventPage, error) {
	svc, err := c.svc(ctx, userID)
	if err != nil {
		return nil, err
	}

	var resp *calendar.Events
	cursorInvalid := false
	err = c.call(ctx, "events.list", func(callCtx context.Context) error {
		listCall := svc.Events.List(calendarID).MaxResults(maxPageSize).SingleEvents(true).ShowDeleted(true)
		if cursor != "" {
			listCall = listCall.SyncToken(cursor)
		} else {
			now := time.Now()
			listCall = listCall.
				TimeMin(now.AddDate(0, 0, -fullSyncDaysBack).Format(time.RFC3339)).
				TimeMax(now.AddDate(0, 0, fullSyncDaysForward).Format(time.RFC3339))
		}
		if pageToken != "" {
			listCall = listCall.PageToken(pageToken)
		}

		var callErr error
		resp, callErr = listCall.Context(callCtx).Do()
		if callErr != nil && cursor != "" {
			var apiErr *googleapi.Error
			if errors.As(callErr, &apiErr) && apiErr.Code == http.StatusGone {
				cursorInvalid = true
				return nil
			}
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if cursorInvalid {
		return &service.EventPage{CursorInvalid: true}, nil
	}

	page := &service.EventPage{
		NextPageToken: resp.NextPageToken,
		NextCursor:    resp.NextSyncToken,
	}
	for _, item := range resp.Items {
		desc, err := eventDescriptor(item)
		if err != nil {
			log.Printf("Skipping malformed event %s in calendar %s: %v", item.Id, calendarID, err)
			continue
		}
		page.Events = append(page.Events, desc)
	}
	return page, nil
}

// CreateEvent inserts a new remote event and returns its descriptor
func (c *Client) CreateEvent(ctx context.Context, userID, calendarID string, draft service.EventDraft) (*service.EventDescriptor, error) {
	svc, err := c.svc(ctx, userID)
	if err != nil {
		return nil, err
	}

	var created *calendar.Event
	err = c.call(ctx, "events.insert", func(callCtx context.Context) error {
		var callErr error
		created, callErr = svc.Events.Insert(calendarID, eventBody(draft)).Context(callCtx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	desc, err := eventDescriptor(created)
	if err != nil {
		return nil, fmt.Errorf("provider returned malformed event: %w", err)
	}
	return &desc, nil
}

// UpdateEvent replaces a remote event, guarded by the revision marker: a
// stale revision fails with a Conflict.
func (c *Client) UpdateEvent(ctx context.Context, userID, calendarID, eventID, revision string, draft service.EventDraft) (*service.EventDescriptor, error) {
	svc, err := c.svc(ctx, userID)
	if err != nil {
		return nil, err
	}

	var updated *calendar.Event
	err = c.call(ctx, "events.update", func(callCtx context.Context) error {
		updateCall := svc.Events.Update(calendarID, eventID, eventBody(draft))
		if revision != "" {
			updateCall.Header().Set("If-Match", revision)
		}
		var callErr error
		updated, callErr = updateCall.Context(callCtx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	desc, err := eventDescriptor(updated)
	if err != nil {
		return nil, fmt.Errorf("provider returned malformed event: %w", err)
	}
	return &desc, nil
}

// DeleteEvent removes a remote event. Already absent upstream counts as
// success.
func (c *Client) DeleteEvent(ctx context.Context, userID, calendarID, eventID string) error {
	svc, err := c.svc(ctx, userID)
	if err != nil {
		return err
	}

	err = c.call(ctx, "events.delete", func(callCtx context.Context) error {
		return svc.Events.Delete(calendarID, eventID).Context(callCtx).Do()
	})
	if service.IsRemoteError(err, service.RemoteNotFound) {
		return nil
	}
	return err
}

func eventBody(draft service.EventDraft) *calendar.Event {
	event := &calendar.Event{Summary: draft.Title}
	if draft.Description != nil {
		event.Description = *draft.Description
	}
	if draft.Location != nil {
		event.Location = *draft.Location
	}
	if draft.AllDay {
		event.Start = &calendar.EventDateTime{Date: draft.StartAt.Format("2006-01-02")}
		event.End = &calendar.EventDateTime{Date: draft.EndAt.Format("2006-01-02")}
	} else {
		event.Start = &calendar.EventDateTime{DateTime: draft.StartAt.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		event.End = &calendar.EventDateTime{DateTime: draft.EndAt.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}
	return event
}

// eventDescriptor maps a provider event to the service descriptor. Cancelled
// events arrive without times and map to a deletion.
func eventDescriptor(item *calendar.Event) (service.EventDescriptor, error) {
	desc := service.EventDescriptor{
		ID:       item.Id,
		Title:    item.Summary,
		Revision: item.Etag,
	}

	if item.Status == "cancelled" {
		desc.Deleted = true
		return desc, nil
	}

	if item.Description != "" {
		description := item.Description
		desc.Description = &description
	}
	if item.Location != "" {
		location := item.Location
		desc.Location = &location
	}

	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return desc, fmt.Errorf("invalid start time: %w", err)
	}
	end, _, err := parseEventTime(item.End)
	if err != nil {
		return desc, fmt.Errorf("invalid end time: %w", err)
	}

	desc.StartAt = start
	desc.EndAt = end
	desc.AllDay = allDay
	return desc, nil
}

func parseEventTime(t *calendar.EventDateTime) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	// All-day events carry a civil date instead of a timestamp.
	if t.Date != "" {
		parsed, err := time.Parse("2006-01-02", t.Date)
		return parsed, true, err
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	return parsed, false, err
}
