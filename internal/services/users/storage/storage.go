// Package storage defines persistence contracts for registry state: the
// current snapshot, the call journal, and the deployable code references.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrRevisionConflict indicates a snapshot save lost a revision race.
var ErrRevisionConflict = errors.New("snapshot revision conflict")

// Snapshot is the persisted registry state plus its optimistic revision.
type Snapshot struct {
	Revision  int64
	State     []byte
	UpdatedAt time.Time
}

// Event is one journal row describing a dispatched call.
type Event struct {
	Seq        int64
	Ts         time.Time
	Entrypoint string
	Origin     string
	SenderKind string
	SenderID   string
	Params     []byte
}

// SaveRequest is one atomic state transition: the new snapshot bytes, the
// journal event describing the call, and optionally a code activation that
// must land in the same transaction.
type SaveRequest struct {
	ExpectedRevision int64
	State            []byte
	Event            Event
	ActivateRef      string
}

// ListEventsRequest selects one page of the call journal. FilterClause and
// FilterParams are a pre-translated SQL fragment over the journal columns.
type ListEventsRequest struct {
	PageSize     int
	CursorSeq    int64
	Descending   bool
	FilterClause string
	FilterParams []any
}

// EventPage is one page of journal rows.
type EventPage struct {
	Events     []Event
	HasNext    bool
	TotalCount int64
}

// CodeRef is one code reference known to the deployment.
type CodeRef struct {
	Ref     string
	Note    string
	Active  bool
	AddedAt time.Time
}

// Store persists registry snapshots, the call journal, and code references.
type Store interface {
	// LoadSnapshot returns the current snapshot, or ErrNotFound before init.
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	// SaveSnapshot applies one transition. ExpectedRevision 0 creates the
	// snapshot row; a stale revision returns ErrRevisionConflict. The
	// returned event carries its assigned sequence number.
	SaveSnapshot(ctx context.Context, req SaveRequest) (Snapshot, Event, error)
	// ListEvents returns one journal page.
	ListEvents(ctx context.Context, req ListEventsRequest) (EventPage, error)
	// PutCodeRef records a code reference; existing refs are left untouched.
	PutCodeRef(ctx context.Context, ref CodeRef) error
	// ListCodeRefs returns all known code references in insertion order.
	ListCodeRefs(ctx context.Context) ([]CodeRef, error)
	// ActiveCodeRef returns the currently active reference, or ErrNotFound.
	ActiveCodeRef(ctx context.Context) (CodeRef, error)
	Close() error
}
