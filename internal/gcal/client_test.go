package gcal

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/jspiv/calendpro-worker/internal/service"
)

type mockCallMetrics struct {
	calls   int
	retries int
}

func (m *mockCallMetrics) RecordRemoteCall(operation string, duration time.Duration, err error) {
	m.calls++
}

func (m *mockCallMetrics) RecordRetry(operation string) {
	m.retries++
}

func testClient(metrics *mockCallMetrics, maxRetries int) (*Client, *[]time.Duration) {
	var slept []time.Duration
	c := &Client{
		metrics:    metrics,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: maxRetries,
		sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return c, &slept
}

func TestMapError_Unauthorized(t *testing.T) {
	err := mapError(&googleapi.Error{Code: http.StatusUnauthorized})
	if !service.IsAuthError(err, service.AuthRevokedByUser) {
		t.Fatalf("expected AuthRevokedByUser, got %v", err)
	}
}

func TestMapError_RateLimited(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")
	err := mapError(&googleapi.Error{Code: http.StatusTooManyRequests, Header: header})

	var remoteErr *service.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Kind != service.RemoteRateLimited {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if remoteErr.RetryAfter != 7*time.Second {
		t.Errorf("expected RetryAfter 7s, got %s", remoteErr.RetryAfter)
	}
	if !remoteErr.Retryable() {
		t.Error("expected rate limited error to be retryable")
	}
}

func TestMapError_ForbiddenQuota(t *testing.T) {
	err := mapError(&googleapi.Error{
		Code:   http.StatusForbidden,
		Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}},
	})
	if !service.IsRemoteError(err, service.RemoteRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}

	// A plain 403 is a rejection, not a quota problem.
	err = mapError(&googleapi.Error{Code: http.StatusForbidden})
	if !service.IsRemoteError(err, service.RemoteRejected) {
		t.Fatalf("expected rejected error, got %v", err)
	}
}

func TestMapError_NotFoundAndGone(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		err := mapError(&googleapi.Error{Code: code})
		if !service.IsRemoteError(err, service.RemoteNotFound) {
			t.Fatalf("expected not found for status %d, got %v", code, err)
		}
	}
}

func TestMapError_Conflict(t *testing.T) {
	for _, code := range []int{http.StatusConflict, http.StatusPreconditionFailed} {
		err := mapError(&googleapi.Error{Code: code})
		if !service.IsRemoteError(err, service.RemoteConflict) {
			t.Fatalf("expected conflict for status %d, got %v", code, err)
		}
	}
}

func TestMapError_ServerErrorTransient(t *testing.T) {
	err := mapError(&googleapi.Error{Code: http.StatusServiceUnavailable})
	var remoteErr *service.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Kind != service.RemoteTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !remoteErr.Retryable() {
		t.Error("expected server error to be retryable")
	}
}

func TestMapError_NetworkErrorTransient(t *testing.T) {
	err := mapError(errors.New("connection reset"))
	if !service.IsRemoteError(err, service.RemoteTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestMapError_ContextCanceledPassesThrough(t *testing.T) {
	err := mapError(context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestClientCall_RetriesTransientThenSucceeds(t *testing.T) {
	metrics := &mockCallMetrics{}
	client, slept := testClient(metrics, 3)

	attempts := 0
	err := client.call(context.Background(), "events.list", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &googleapi.Error{Code: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if metrics.retries != 2 {
		t.Errorf("expected 2 retries recorded, got %d", metrics.retries)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	for i, d := range *slept {
		if d != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, d, want[i])
		}
	}
}

func TestClientCall_HonorsRetryAfter(t *testing.T) {
	metrics := &mockCallMetrics{}
	client, slept := testClient(metrics, 3)

	header := http.Header{}
	header.Set("Retry-After", "3")
	attempts := 0
	err := client.call(context.Background(), "events.list", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &googleapi.Error{Code: http.StatusTooManyRequests, Header: header}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 3*time.Second {
		t.Errorf("expected a single 3s sleep from Retry-After, got %v", *slept)
	}
}

func TestClientCall_GivesUpAfterMaxRetries(t *testing.T) {
	metrics := &mockCallMetrics{}
	client, _ := testClient(metrics, 2)

	attempts := 0
	err := client.call(context.Background(), "events.list", func(ctx context.Context) error {
		attempts++
		return &googleapi.Error{Code: http.StatusServiceUnavailable}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 { // initial call plus two retries
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestClientCall_DoesNotRetryRejections(t *testing.T) {
	metrics := &mockCallMetrics{}
	client, _ := testClient(metrics, 3)

	attempts := 0
	err := client.call(context.Background(), "events.insert", func(ctx context.Context) error {
		attempts++
		return &googleapi.Error{Code: http.StatusBadRequest}
	})
	if !service.IsRemoteError(err, service.RemoteRejected) {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "12")
	if got := retryAfter(&googleapi.Error{Header: header}); got != 12*time.Second {
		t.Errorf("expected 12s, got %s", got)
	}
	if got := retryAfter(&googleapi.Error{}); got != 0 {
		t.Errorf("expected 0 without header, got %s", got)
	}
	bad := http.Header{}
	bad.Set("Retry-After", "soon")
	if got := retryAfter(&googleapi.Error{Header: bad}); got != 0 {
		t.Errorf("expected 0 for unparseable header, got %s", got)
	}
}

func TestEventDescriptor_TimedEvent(t *testing.T) {
	desc, err := eventDescriptor(&calendar.Event{
		Id:          "ev-1",
		Etag:        "v1",
		Summary:     "Standup",
		Description: "Daily",
		Location:    "Room 2",
		Start:       &calendar.EventDateTime{DateTime: "2026-03-10T09:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2026-03-10T09:30:00Z"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if desc.ID != "ev-1" || desc.Revision != "v1" {
		t.Errorf("unexpected identity fields: %+v", desc)
	}
	if desc.AllDay {
		t.Error("expected timed event")
	}
	if desc.Description == nil || *desc.Description != "Daily" {
		t.Error("expected description carried over")
	}
	if !desc.EndAt.After(desc.StartAt) {
		t.Errorf("expected end after start, got %s / %s", desc.StartAt, desc.EndAt)
	}
}

func TestEventDescriptor_AllDayEvent(t *testing.T) {
	desc, err := eventDescriptor(&calendar.Event{
		Id:    "ev-2",
		Etag:  "v1",
		Start: &calendar.EventDateTime{Date: "2026-03-10"},
		End:   &calendar.EventDateTime{Date: "2026-03-11"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !desc.AllDay {
		t.Error("expected all-day event")
	}
	if desc.StartAt.Hour() != 0 {
		t.Errorf("expected midnight start, got %s", desc.StartAt)
	}
}

func TestEventDescriptor_CancelledEvent(t *testing.T) {
	desc, err := eventDescriptor(&calendar.Event{
		Id:     "ev-3",
		Etag:   "v2",
		Status: "cancelled",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !desc.Deleted {
		t.Error("expected cancelled event marked deleted")
	}
}

func TestEventDescriptor_MissingTimes(t *testing.T) {
	_, err := eventDescriptor(&calendar.Event{Id: "ev-4"})
	if err == nil {
		t.Fatal("expected error for event without times")
	}
}

func TestEventBody(t *testing.T) {
	location := "Room 2"
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	body := eventBody(service.EventDraft{
		Title:    "Planning",
		Location: &location,
		StartAt:  start,
		EndAt:    start.Add(time.Hour),
	})
	if body.Summary != "Planning" {
		t.Errorf("expected summary Planning, got %s", body.Summary)
	}
	if body.Start.DateTime == "" || body.Start.Date != "" {
		t.Errorf("expected timed start, got %+v", body.Start)
	}

	allDay := eventBody(service.EventDraft{
		Title:   "Offsite",
		AllDay:  true,
		StartAt: start,
		EndAt:   start.AddDate(0, 0, 1),
	})
	if allDay.Start.Date != "2026-03-10" || allDay.Start.DateTime != "" {
		t.Errorf("expected all-day start date, got %+v", allDay.Start)
	}
}
