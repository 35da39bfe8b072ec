package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/overlay/internal/services/users/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/registry.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func saveTransition(t *testing.T, store *Store, revision int64, entrypoint string) storage.Event {
	t.Helper()
	_, evt, err := store.SaveSnapshot(context.Background(), storage.SaveRequest{
		ExpectedRevision: revision,
		State:            []byte(fmt.Sprintf(`{"rev":%d}`, revision+1)),
		Event: storage.Event{
			Entrypoint: entrypoint,
			Origin:     "acc-admin",
			SenderKind: "account",
			SenderID:   "acc-admin",
			Params:     []byte(`{}`),
		},
	})
	if err != nil {
		t.Fatalf("save transition %d (%s): %v", revision+1, entrypoint, err)
	}
	return evt
}

func TestSnapshotLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.LoadSnapshot(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("load before init = %v, want ErrNotFound", err)
	}

	ts := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	snap, evt, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 0,
		State:            []byte(`{"admin":"acc-admin"}`),
		Event: storage.Event{
			Ts:         ts,
			Entrypoint: "init",
			Origin:     "acc-admin",
			SenderKind: "account",
			SenderID:   "acc-admin",
			Params:     []byte(`{}`),
		},
	})
	if err != nil {
		t.Fatalf("save initial snapshot: %v", err)
	}
	if snap.Revision != 1 {
		t.Fatalf("revision = %d, want 1", snap.Revision)
	}
	if evt.Seq != 1 {
		t.Fatalf("event seq = %d, want 1", evt.Seq)
	}

	loaded, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded.Revision != 1 {
		t.Fatalf("loaded revision = %d, want 1", loaded.Revision)
	}
	if string(loaded.State) != `{"admin":"acc-admin"}` {
		t.Fatalf("loaded state = %s", loaded.State)
	}
	if !loaded.UpdatedAt.Equal(ts) {
		t.Fatalf("updated at = %v, want %v", loaded.UpdatedAt, ts)
	}

	saveTransition(t, store, 1, "add_curator")

	if _, _, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 1,
		State:            []byte(`{"stale":true}`),
		Event:            storage.Event{Entrypoint: "add_curator"},
	}); !errors.Is(err, storage.ErrRevisionConflict) {
		t.Fatalf("stale save = %v, want ErrRevisionConflict", err)
	}
	if _, _, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 0,
		State:            []byte(`{"reinit":true}`),
		Event:            storage.Event{Entrypoint: "init"},
	}); !errors.Is(err, storage.ErrRevisionConflict) {
		t.Fatalf("re-init save = %v, want ErrRevisionConflict", err)
	}
}

func TestSaveSnapshotValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, _, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		State: []byte(`{}`),
		Event: storage.Event{Entrypoint: " "},
	}); err == nil {
		t.Fatal("expected error for blank entrypoint")
	}
	if _, _, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		Event: storage.Event{Entrypoint: "init"},
	}); err == nil {
		t.Fatal("expected error for empty state")
	}
	if _, _, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: -1,
		State:            []byte(`{}`),
		Event:            storage.Event{Entrypoint: "init"},
	}); err == nil {
		t.Fatal("expected error for negative revision")
	}
}

func TestRevisionConflictLeavesJournalUntouched(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	saveTransition(t, store, 0, "init")
	saveTransition(t, store, 1, "add_curator")

	if _, _, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 1,
		State:            []byte(`{"stale":true}`),
		Event:            storage.Event{Entrypoint: "curate"},
		ActivateRef:      "code-ref-1",
	}); !errors.Is(err, storage.ErrRevisionConflict) {
		t.Fatalf("stale save = %v, want ErrRevisionConflict", err)
	}

	page, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 10})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if page.TotalCount != 2 {
		t.Fatalf("total count = %d, want 2", page.TotalCount)
	}
	if _, err := store.ActiveCodeRef(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("active ref after failed save = %v, want ErrNotFound", err)
	}
}

func TestListEventsPagination(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entrypoints := []string{"init", "add_curator", "curate", "add_validator", "validate"}
	for i, entrypoint := range entrypoints {
		saveTransition(t, store, int64(i), entrypoint)
	}

	first, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 2})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Events) != 2 || first.Events[0].Seq != 1 || first.Events[1].Seq != 2 {
		t.Fatalf("first page = %+v", first.Events)
	}
	if !first.HasNext {
		t.Fatal("expected next page")
	}
	if first.TotalCount != 5 {
		t.Fatalf("total count = %d, want 5", first.TotalCount)
	}

	second, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 2, CursorSeq: first.Events[1].Seq})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Events) != 2 || second.Events[0].Seq != 3 || second.Events[1].Seq != 4 {
		t.Fatalf("second page = %+v", second.Events)
	}

	last, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 2, CursorSeq: second.Events[1].Seq})
	if err != nil {
		t.Fatalf("list last page: %v", err)
	}
	if len(last.Events) != 1 || last.Events[0].Seq != 5 {
		t.Fatalf("last page = %+v", last.Events)
	}
	if last.HasNext {
		t.Fatal("expected no next page")
	}

	newest, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 2, Descending: true})
	if err != nil {
		t.Fatalf("list descending: %v", err)
	}
	if len(newest.Events) != 2 || newest.Events[0].Seq != 5 || newest.Events[1].Seq != 4 {
		t.Fatalf("descending page = %+v", newest.Events)
	}

	older, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 2, Descending: true, CursorSeq: newest.Events[1].Seq})
	if err != nil {
		t.Fatalf("list descending cursor: %v", err)
	}
	if len(older.Events) != 2 || older.Events[0].Seq != 3 || older.Events[1].Seq != 2 {
		t.Fatalf("descending cursor page = %+v", older.Events)
	}
}

func TestListEventsFilterClause(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entrypoints := []string{"init", "add_curator", "curate", "add_curator"}
	for i, entrypoint := range entrypoints {
		saveTransition(t, store, int64(i), entrypoint)
	}

	page, err := store.ListEvents(ctx, storage.ListEventsRequest{
		PageSize:     10,
		FilterClause: "entrypoint = ?",
		FilterParams: []any{"add_curator"},
	})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].Seq != 2 || page.Events[1].Seq != 4 {
		t.Fatalf("filtered page = %+v", page.Events)
	}
	if page.TotalCount != 2 {
		t.Fatalf("filtered total = %d, want 2", page.TotalCount)
	}
}

func TestEventTimestampRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, time.March, 1, 12, 0, 0, 123456789, time.UTC)
	_, saved, err := store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 0,
		State:            []byte(`{}`),
		Event:            storage.Event{Ts: ts, Entrypoint: "init", Origin: "acc-admin"},
	})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if !saved.Ts.Equal(ts) {
		t.Fatalf("saved ts = %v, want %v", saved.Ts, ts)
	}

	page, err := store.ListEvents(ctx, storage.ListEventsRequest{PageSize: 1})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page.Events) != 1 || !page.Events[0].Ts.Equal(ts) {
		t.Fatalf("listed ts = %v, want %v", page.Events[0].Ts, ts)
	}
}

func TestCodeRefLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.ActiveCodeRef(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("active ref before activation = %v, want ErrNotFound", err)
	}

	added := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	if err := store.PutCodeRef(ctx, storage.CodeRef{Ref: "code-ref-1", Note: "initial", AddedAt: added}); err != nil {
		t.Fatalf("put code ref: %v", err)
	}
	if err := store.PutCodeRef(ctx, storage.CodeRef{Ref: "code-ref-2", AddedAt: added.Add(time.Minute)}); err != nil {
		t.Fatalf("put second code ref: %v", err)
	}
	if err := store.PutCodeRef(ctx, storage.CodeRef{Ref: "code-ref-1", Note: "overwritten", AddedAt: added.Add(time.Hour)}); err != nil {
		t.Fatalf("re-put code ref: %v", err)
	}
	if err := store.PutCodeRef(ctx, storage.CodeRef{Ref: "  "}); err == nil {
		t.Fatal("expected error for blank ref")
	}

	refs, err := store.ListCodeRefs(ctx)
	if err != nil {
		t.Fatalf("list code refs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %d, want 2", len(refs))
	}
	if refs[0].Ref != "code-ref-1" || refs[0].Note != "initial" {
		t.Fatalf("first ref = %+v, want original note kept", refs[0])
	}
	if refs[0].Active || refs[1].Active {
		t.Fatal("expected no active refs yet")
	}

	_, _, err = store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 0,
		State:            []byte(`{}`),
		Event:            storage.Event{Entrypoint: "init", Origin: "acc-admin"},
		ActivateRef:      "code-ref-1",
	})
	if err != nil {
		t.Fatalf("save with activation: %v", err)
	}

	active, err := store.ActiveCodeRef(ctx)
	if err != nil {
		t.Fatalf("active code ref: %v", err)
	}
	if active.Ref != "code-ref-1" || !active.Active {
		t.Fatalf("active = %+v, want code-ref-1", active)
	}

	_, _, err = store.SaveSnapshot(ctx, storage.SaveRequest{
		ExpectedRevision: 1,
		State:            []byte(`{}`),
		Event:            storage.Event{Entrypoint: "upgrade", Origin: "acc-owner"},
		ActivateRef:      "code-ref-2",
	})
	if err != nil {
		t.Fatalf("save with reactivation: %v", err)
	}

	active, err = store.ActiveCodeRef(ctx)
	if err != nil {
		t.Fatalf("active code ref: %v", err)
	}
	if active.Ref != "code-ref-2" {
		t.Fatalf("active ref = %q, want code-ref-2", active.Ref)
	}

	refs, err = store.ListCodeRefs(ctx)
	if err != nil {
		t.Fatalf("list code refs: %v", err)
	}
	if refs[0].Active || !refs[1].Active {
		t.Fatalf("active flags = %v/%v, want false/true", refs[0].Active, refs[1].Active)
	}
}

func TestOpenValidatesPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}
