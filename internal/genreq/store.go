package genreq

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no request with the given ID exists.
var ErrNotFound = errors.New("generation request not found")

// ErrInvalidTransition is returned by [Store.Transition] when the requested
// status change is not in [Transitions], or when the stored request is no
// longer in the expected source status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Update carries the fields a transition may set alongside the status
// change. Nil pointer fields are left untouched.
type Update struct {
	RawOutput      *string
	ParsedData     []byte
	Issues         []Issue
	ModeratorID    *string
	ModeratorNotes *string
}

// Filter narrows [Store.List] results. GuildID is mandatory — requests are
// never listed across guilds.
type Filter struct {
	GuildID string
	Status  Status // optional
	Type    Type   // optional
	Limit   int    // 0 means no limit
}

// Store is the durable record of every generation attempt. Implementations
// must enforce the state machine: a transition is applied atomically only if
// the stored request is currently in the expected source status, so two
// racing transitions on the same request cannot both win.
//
// Requests are never deleted.
type Store interface {
	// Create persists a new request in [StatusPendingValidation]. The
	// request's ID, GuildID and Type must be set.
	Create(ctx context.Context, req *Request) error

	// Get retrieves a request by ID. Returns [ErrNotFound] if absent.
	Get(ctx context.Context, id string) (*Request, error)

	// List returns requests matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Request, error)

	// SetRawOutput persists the generator's raw response without changing
	// status, so the output survives a crash between generation and
	// validation. Returns [ErrNotFound] if the request does not exist.
	SetRawOutput(ctx context.Context, id string, raw string) error

	// Transition atomically moves a request from one status to another,
	// applying upd in the same write. Returns [ErrInvalidTransition] when
	// from → to is not permitted or the stored status is not from, and
	// [ErrNotFound] when the request does not exist.
	Transition(ctx context.Context, id string, from, to Status, upd Update) error
}
