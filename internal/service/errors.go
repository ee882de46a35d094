package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSyncInProgress is returned when a sync is requested for a source
	// that already has a running sync. Benign; callers may retry later.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNotFound is returned when a local entity is absent or not owned by
	// the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the remote provider rejected an update
	// because the local revision marker is stale. The caller must re-fetch.
	ErrConflict = errors.New("event revision conflict")
)

type AuthReason string

const (
	AuthNotLinked     AuthReason = "not_linked"
	AuthRefreshFailed AuthReason = "refresh_failed"
	AuthRevokedByUser AuthReason = "revoked_by_user"
)

// AuthError reports a credential problem. RevokedByUser and NotLinked require
// user action (re-authorization); RefreshFailed may succeed on a later retry.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err carries the given auth reason.
func IsAuthError(err error, reason AuthReason) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Reason == reason
}

type RemoteErrorKind string

const (
	RemoteTransient   RemoteErrorKind = "transient"
	RemoteRateLimited RemoteErrorKind = "rate_limited"
	RemoteNotFound    RemoteErrorKind = "not_found"
	RemoteConflict    RemoteErrorKind = "conflict"
	RemoteRejected    RemoteErrorKind = "rejected"
)

// RemoteError classifies a failed provider call. RetryAfter is set when the
// provider supplied a rate-limit hint and must be honored exactly.
type RemoteError struct {
	Kind       RemoteErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("remote error (%s)", e.Kind)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth a bounded retry.
func (e *RemoteError) Retryable() bool {
	return e.Kind == RemoteTransient || e.Kind == RemoteRateLimited
}

// IsRemoteError reports whether err carries the given remote failure kind.
func IsRemoteError(err error, kind RemoteErrorKind) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && remoteErr.Kind == kind
}
