// Package engine serializes registry calls into atomic, journaled state
// transitions. Every dispatched call either commits a new snapshot revision
// together with its journal entry, or leaves the registry untouched.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sasha-s/go-deadlock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/services/users/domain"
	"github.com/louisbranch/overlay/internal/services/users/manifest"
	"github.com/louisbranch/overlay/internal/services/users/storage"
)

const tracerName = "users"

// Engine owns the in-memory registry state and its persistence. All calls
// funnel through one mutex, so each transition observes the previous one.
type Engine struct {
	mu       deadlock.Mutex
	store    storage.Store
	manifest manifest.Manifest
	state    *domain.State
	revision int64
	onEvent  func(storage.Event)
}

// DispatchResult reports what a dispatched call produced. Result is set for
// view entrypoints, Event for journaled mutations.
type DispatchResult struct {
	Result   json.RawMessage
	Revision int64
	Event    *storage.Event
}

// New seeds the manifest's code references into the store and restores the
// latest snapshot, if one exists.
func New(ctx context.Context, store storage.Store, m manifest.Manifest) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	e := &Engine{store: store, manifest: m}
	for _, module := range m.Modules {
		ref := storage.CodeRef{Ref: module.Ref, Note: module.Note}
		if err := store.PutCodeRef(ctx, ref); err != nil {
			return nil, fmt.Errorf("seed code ref %s: %w", module.Ref, err)
		}
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return e, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var decoded domain.Snapshot
	if err := json.Unmarshal(snap.State, &decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	state, err := domain.FromSnapshot(decoded)
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}

	e.state = state
	e.revision = snap.Revision
	return e, nil
}

// SetEventHook registers a callback invoked after each committed transition.
// The hook runs while the engine lock is held and must not block.
func (e *Engine) SetEventHook(fn func(storage.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

// Dispatch runs one entrypoint call. Mutations are applied to a detached
// copy of the state and committed with their journal entry in a single
// store transaction before the copy replaces the live state.
func (e *Engine) Dispatch(ctx context.Context, call domain.Call, entrypoint string, params []byte) (DispatchResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "users.dispatch",
		trace.WithAttributes(
			attribute.String("entrypoint", entrypoint),
			attribute.String("origin", string(call.Origin)),
			attribute.String("sender", call.Sender.String()),
		))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	call.Owner = domain.AccountID(e.manifest.Owner)

	if entrypoint == EntrypointInit {
		return e.dispatchInit(ctx, call, params)
	}
	if e.state == nil {
		return DispatchResult{}, apperrors.New(apperrors.CodeFailedPrecondition, "registry is not initialized")
	}

	if isView(entrypoint) {
		outcome, err := e.applyEntrypoint(e.state, call, entrypoint, params)
		if err != nil {
			return DispatchResult{}, err
		}
		return DispatchResult{Result: outcome.result, Revision: e.revision}, nil
	}

	working := e.state.Clone()
	outcome, err := e.applyEntrypoint(working, call, entrypoint, params)
	if err != nil {
		return DispatchResult{}, err
	}

	stateJSON, err := json.Marshal(working.Snapshot())
	if err != nil {
		return DispatchResult{}, apperrors.Wrap(apperrors.CodeInternal, "encode snapshot", err)
	}

	snap, evt, err := e.store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: e.revision,
		State:            stateJSON,
		Event:            eventFor(call, entrypoint, params),
		ActivateRef:      outcome.activateRef,
	})
	if err != nil {
		return DispatchResult{}, fmt.Errorf("persist transition: %w", err)
	}

	e.state = working
	e.revision = snap.Revision
	e.notify(evt)

	return DispatchResult{Result: outcome.result, Revision: snap.Revision, Event: &evt}, nil
}

func (e *Engine) dispatchInit(ctx context.Context, call domain.Call, params []byte) (DispatchResult, error) {
	if e.state != nil {
		return DispatchResult{}, apperrors.New(apperrors.CodeAlreadyExists, "registry is already initialized")
	}
	if err := ensureNoParams(params); err != nil {
		return DispatchResult{}, err
	}

	state, err := domain.NewState(call.Origin)
	if err != nil {
		return DispatchResult{}, err
	}

	stateJSON, err := json.Marshal(state.Snapshot())
	if err != nil {
		return DispatchResult{}, apperrors.Wrap(apperrors.CodeInternal, "encode snapshot", err)
	}

	var activateRef string
	if refs := e.manifest.Refs(); len(refs) > 0 {
		activateRef = refs[0]
	}

	snap, evt, err := e.store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 0,
		State:            stateJSON,
		Event:            eventFor(call, EntrypointInit, params),
		ActivateRef:      activateRef,
	})
	if err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			return DispatchResult{}, apperrors.New(apperrors.CodeAlreadyExists, "registry is already initialized")
		}
		return DispatchResult{}, fmt.Errorf("persist init: %w", err)
	}

	e.state = state
	e.revision = snap.Revision
	e.notify(evt)

	return DispatchResult{Revision: snap.Revision, Event: &evt}, nil
}

func (e *Engine) notify(evt storage.Event) {
	if e.onEvent != nil {
		e.onEvent(evt)
	}
}

func eventFor(call domain.Call, entrypoint string, params []byte) storage.Event {
	return storage.Event{
		Entrypoint: entrypoint,
		Origin:     string(call.Origin),
		SenderKind: string(call.Sender.Kind),
		SenderID:   call.Sender.ID,
		Params:     params,
	}
}

// Initialized reports whether the registry holds state.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != nil
}

// Revision returns the current snapshot revision, 0 before init.
func (e *Engine) Revision() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// ViewUser returns the stored record for addr, or the default record when
// none exists.
func (e *Engine) ViewUser(addr domain.AccountID) (domain.UserRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return domain.UserRecord{}, apperrors.New(apperrors.CodeFailedPrecondition, "registry is not initialized")
	}
	return e.state.ViewUser(addr), nil
}

// ViewAllUsers returns every stored record. Order is unspecified.
func (e *Engine) ViewAllUsers() ([]domain.UserEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, apperrors.New(apperrors.CodeFailedPrecondition, "registry is not initialized")
	}
	return e.state.ViewAllUsers(), nil
}

// ViewAdmin returns the root configuration to an admin origin.
func (e *Engine) ViewAdmin(call domain.Call) (domain.RootView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return domain.RootView{}, apperrors.New(apperrors.CodeFailedPrecondition, "registry is not initialized")
	}
	return e.state.ViewAdmin(call)
}
