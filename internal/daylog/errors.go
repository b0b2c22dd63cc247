package daylog

import (
	"errors"
	"fmt"

	"github.com/sadopc/platelog/internal/model"
)

// Kind classifies engine failures.
type Kind string

const (
	// KindSubscription ends the live subscription. The caller re-selects today to retry.
	KindSubscription Kind = "subscription"
	// KindLoad is a failed historical read. Stale cache entries are never served instead.
	KindLoad Kind = "load"
	// KindMutation is a failed write or delete, or a failed cache invalidation after one.
	KindMutation Kind = "mutation"
	// KindStreakRecompute leaves the previous streak state in place.
	KindStreakRecompute Kind = "streak_recompute"
)

var (
	// ErrTodayIsLive is returned by the historical loader for the current day.
	ErrTodayIsLive = errors.New("today is served by the live subscription")
	// ErrSuperseded is returned when the view date changed before a load completed.
	ErrSuperseded = errors.New("view date changed before load completed")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")

	errNotInitialized = errors.New("streak engine not initialized")
)

type Error struct {
	Kind   Kind
	Op     string
	UserID string
	Date   model.Date
	Err    error
}

func (e *Error) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.UserID, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.UserID, e.Date, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err wraps an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
