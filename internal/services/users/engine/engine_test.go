package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/services/users/domain"
	"github.com/louisbranch/overlay/internal/services/users/manifest"
	"github.com/louisbranch/overlay/internal/services/users/storage"
	"github.com/louisbranch/overlay/internal/services/users/storage/sqlite"
)

const (
	testOwner     = "acc-owner"
	testAdmin     = "acc-owner"
	testAccount   = "acc-carol"
	testAuthority = "svc-projects"
)

func testManifest() manifest.Manifest {
	return manifest.Manifest{
		Owner:   testOwner,
		Service: "users",
		Modules: []manifest.Module{
			{Ref: "ref-genesis", Note: "initial rollout"},
			{Ref: "ref-v2", Note: "adds validator tooling"},
		},
	}
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(t.TempDir() + "/registry.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	store := openTestStore(t)
	e, err := New(context.Background(), store, testManifest())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, store
}

func newInitializedEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	e, store := newTestEngine(t)
	mustDispatch(t, e, adminCall(), EntrypointInit, "")
	return e, store
}

func adminCall() domain.Call {
	return domain.Call{Origin: testAdmin, Sender: domain.AccountAddress(testAdmin)}
}

func callFrom(origin domain.AccountID) domain.Call {
	return domain.Call{Origin: origin, Sender: domain.AccountAddress(origin)}
}

func authorityCall() domain.Call {
	return domain.Call{Origin: testAccount, Sender: domain.ServiceAddress(testAuthority)}
}

func mustDispatch(t *testing.T, e *Engine, call domain.Call, entrypoint, params string) DispatchResult {
	t.Helper()
	res, err := e.Dispatch(context.Background(), call, entrypoint, []byte(params))
	if err != nil {
		t.Fatalf("dispatch %s: %v", entrypoint, err)
	}
	return res
}

func assertCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected coded error, got %v", err)
	}
	if domainErr.Code != want {
		t.Fatalf("expected code %s, got %s (%v)", want, domainErr.Code, err)
	}
}

func journalCount(t *testing.T, store *sqlite.Store) int64 {
	t.Helper()
	page, err := store.ListEvents(context.Background(), storage.ListEventsRequest{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return page.TotalCount
}

func activeRef(t *testing.T, store *sqlite.Store) string {
	t.Helper()
	ref, err := store.ActiveCodeRef(context.Background())
	if err != nil {
		t.Fatalf("active code ref: %v", err)
	}
	return ref.Ref
}

func TestDispatchBeforeInit(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, entrypoint := range []string{EntrypointAddCurator, EntrypointCurate, EntrypointViewUsers, EntrypointUpgrade} {
		_, err := e.Dispatch(context.Background(), adminCall(), entrypoint, []byte(`{}`))
		assertCode(t, err, apperrors.CodeFailedPrecondition)
	}
}

func TestInitCreatesRegistry(t *testing.T) {
	e, store := newInitializedEngine(t)

	if e.Revision() != 1 {
		t.Fatalf("expected revision 1 after init, got %d", e.Revision())
	}
	if !e.Initialized() {
		t.Fatal("expected engine to report initialized")
	}
	if got := journalCount(t, store); got != 1 {
		t.Fatalf("expected one journal entry, got %d", got)
	}

	view, err := e.ViewAdmin(adminCall())
	if err != nil {
		t.Fatalf("view admin: %v", err)
	}
	if view.Admin != testAdmin {
		t.Fatalf("expected admin %s, got %s", testAdmin, view.Admin)
	}
	if !view.Authority.IsZero() {
		t.Fatalf("expected sentinel authority, got %s", view.Authority)
	}
}

func TestInitRejectsSecondCall(t *testing.T) {
	e, _ := newInitializedEngine(t)

	_, err := e.Dispatch(context.Background(), callFrom("acc-other"), EntrypointInit, nil)
	assertCode(t, err, apperrors.CodeAlreadyExists)
}

func TestInitRejectsParams(t *testing.T) {
	e, store := newTestEngine(t)

	_, err := e.Dispatch(context.Background(), adminCall(), EntrypointInit, []byte(`{"admin":"acc-other"}`))
	assertCode(t, err, apperrors.CodeMalformedInput)
	if got := journalCount(t, store); got != 0 {
		t.Fatalf("expected empty journal, got %d entries", got)
	}
}

func TestInitActivatesFirstManifestRef(t *testing.T) {
	_, store := newInitializedEngine(t)

	if got := activeRef(t, store); got != "ref-genesis" {
		t.Fatalf("expected ref-genesis active, got %s", got)
	}
}

func TestInitSeedsManifestRefs(t *testing.T) {
	_, store := newTestEngine(t)

	refs, err := store.ListCodeRefs(context.Background())
	if err != nil {
		t.Fatalf("list code refs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 seeded refs, got %d", len(refs))
	}
}

func TestGrantRoleThroughDispatch(t *testing.T) {
	e, store := newInitializedEngine(t)

	res := mustDispatch(t, e, adminCall(), EntrypointAddCurator, `{"addr":"acc-carol"}`)
	if res.Result != nil {
		t.Fatalf("expected no result for a mutation, got %s", res.Result)
	}
	if res.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", res.Revision)
	}
	if res.Event == nil || res.Event.Entrypoint != EntrypointAddCurator {
		t.Fatalf("expected journaled add_curator event, got %+v", res.Event)
	}
	if got := journalCount(t, store); got != 2 {
		t.Fatalf("expected 2 journal entries, got %d", got)
	}

	record, err := e.ViewUser(testAccount)
	if err != nil {
		t.Fatalf("view user: %v", err)
	}
	if !record.IsCurator {
		t.Fatal("expected curator flag set")
	}
}

func TestRejectedCallLeavesNoTrace(t *testing.T) {
	e, store := newInitializedEngine(t)

	_, err := e.Dispatch(context.Background(), callFrom("acc-mallory"), EntrypointAddCurator, []byte(`{"addr":"acc-mallory"}`))
	assertCode(t, err, apperrors.CodeInvalidCaller)

	if e.Revision() != 1 {
		t.Fatalf("expected revision 1 after rejected call, got %d", e.Revision())
	}
	if got := journalCount(t, store); got != 1 {
		t.Fatalf("expected journal untouched, got %d entries", got)
	}
	record, err := e.ViewUser("acc-mallory")
	if err != nil {
		t.Fatalf("view user: %v", err)
	}
	if record.IsCurator {
		t.Fatal("expected no curator grant from rejected call")
	}
}

func TestDispatchParamValidation(t *testing.T) {
	e, _ := newInitializedEngine(t)

	tests := []struct {
		name       string
		entrypoint string
		params     string
		want       apperrors.Code
	}{
		{"truncated document", EntrypointAddCurator, `{"addr":`, apperrors.CodeMalformedInput},
		{"missing addr", EntrypointAddCurator, `{}`, apperrors.CodeMalformedInput},
		{"empty params", EntrypointAddCurator, ``, apperrors.CodeMalformedInput},
		{"missing admin", EntrypointTransferAdmin, `{}`, apperrors.CodeMalformedInput},
		{"curate without addr", EntrypointCurate, `{"project_id":"proj-1"}`, apperrors.CodeMalformedInput},
		{"authority bad kind", EntrypointSetAuthority, `{"authority":{"kind":"robot","id":"svc-1"}}`, apperrors.CodeMalformedInput},
		{"authority missing id", EntrypointSetAuthority, `{"authority":{"kind":"service","id":""}}`, apperrors.CodeMalformedInput},
		{"upgrade without ref", EntrypointUpgrade, `{}`, apperrors.CodeMalformedInput},
		{"migrate without entrypoint", EntrypointUpgrade, `{"ref":"ref-v2","migrate":{"params":{}}}`, apperrors.CodeMalformedInput},
		{"view admin with params", EntrypointViewAdmin, `{"addr":"acc-carol"}`, apperrors.CodeMalformedInput},
		{"unknown entrypoint", "destroy_registry", `{}`, apperrors.CodeNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Dispatch(context.Background(), adminCall(), tc.entrypoint, []byte(tc.params))
			assertCode(t, err, tc.want)
		})
	}
}

func TestCurateFlowJournalsSender(t *testing.T) {
	e, _ := newInitializedEngine(t)

	mustDispatch(t, e, adminCall(), EntrypointSetAuthority, `{"authority":{"kind":"service","id":"svc-projects"}}`)
	mustDispatch(t, e, adminCall(), EntrypointAddCurator, `{"addr":"acc-carol"}`)
	res := mustDispatch(t, e, authorityCall(), EntrypointCurate, `{"addr":"acc-carol","project_id":"proj-1"}`)

	if res.Event == nil {
		t.Fatal("expected journaled curate event")
	}
	if res.Event.SenderKind != "service" || res.Event.SenderID != testAuthority {
		t.Fatalf("expected service sender in journal, got %s:%s", res.Event.SenderKind, res.Event.SenderID)
	}
	if res.Event.Origin != testAccount {
		t.Fatalf("expected origin %s, got %s", testAccount, res.Event.Origin)
	}

	record, err := e.ViewUser(testAccount)
	if err != nil {
		t.Fatalf("view user: %v", err)
	}
	if len(record.CuratedProjects) != 1 || record.CuratedProjects[0] != "proj-1" {
		t.Fatalf("expected [proj-1], got %v", record.CuratedProjects)
	}
}

func TestViewEntrypointsDoNotJournal(t *testing.T) {
	e, store := newInitializedEngine(t)
	mustDispatch(t, e, adminCall(), EntrypointAddCurator, `{"addr":"acc-carol"}`)
	before := journalCount(t, store)

	res := mustDispatch(t, e, adminCall(), EntrypointViewUser, `{"addr":"acc-carol"}`)
	if res.Event != nil {
		t.Fatalf("expected no event for a view, got %+v", res.Event)
	}
	var record domain.UserRecord
	if err := json.Unmarshal(res.Result, &record); err != nil {
		t.Fatalf("decode view result: %v", err)
	}
	if !record.IsCurator {
		t.Fatal("expected curator flag in view result")
	}

	res = mustDispatch(t, e, callFrom("acc-anon"), EntrypointViewUsers, "")
	var entries []domain.UserEntry
	if err := json.Unmarshal(res.Result, &entries); err != nil {
		t.Fatalf("decode listing result: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one listed record, got %d", len(entries))
	}

	res = mustDispatch(t, e, adminCall(), EntrypointViewAdmin, "")
	var view domain.RootView
	if err := json.Unmarshal(res.Result, &view); err != nil {
		t.Fatalf("decode admin view: %v", err)
	}
	if view.Admin != testAdmin {
		t.Fatalf("expected admin %s, got %s", testAdmin, view.Admin)
	}

	if got := journalCount(t, store); got != before {
		t.Fatalf("expected journal unchanged at %d entries, got %d", before, got)
	}
}

func TestViewAdminGateThroughDispatch(t *testing.T) {
	e, _ := newInitializedEngine(t)

	_, err := e.Dispatch(context.Background(), callFrom("acc-anon"), EntrypointViewAdmin, nil)
	assertCode(t, err, apperrors.CodeInvalidCaller)
}

func TestStateSurvivesRestart(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := New(ctx, store, testManifest())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	mustDispatch(t, first, adminCall(), EntrypointInit, "")
	mustDispatch(t, first, adminCall(), EntrypointSetAuthority, `{"authority":{"kind":"service","id":"svc-projects"}}`)
	mustDispatch(t, first, adminCall(), EntrypointAddCurator, `{"addr":"acc-carol"}`)
	mustDispatch(t, first, authorityCall(), EntrypointCurate, `{"addr":"acc-carol","project_id":"proj-1"}`)

	second, err := New(ctx, store, testManifest())
	if err != nil {
		t.Fatalf("reopen engine: %v", err)
	}
	if second.Revision() != first.Revision() {
		t.Fatalf("expected revision %d after restart, got %d", first.Revision(), second.Revision())
	}

	record, err := second.ViewUser(testAccount)
	if err != nil {
		t.Fatalf("view user: %v", err)
	}
	if !record.IsCurator || len(record.CuratedProjects) != 1 {
		t.Fatalf("expected restored curator with one project, got %+v", record)
	}

	mustDispatch(t, second, authorityCall(), EntrypointCurate, `{"addr":"acc-carol","project_id":"proj-2"}`)
}

func TestDirectViewsBeforeInit(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.ViewUser(testAccount)
	assertCode(t, err, apperrors.CodeFailedPrecondition)
	_, err = e.ViewAllUsers()
	assertCode(t, err, apperrors.CodeFailedPrecondition)
	_, err = e.ViewAdmin(adminCall())
	assertCode(t, err, apperrors.CodeFailedPrecondition)
	if e.Initialized() {
		t.Fatal("expected uninitialized engine")
	}
	if e.Revision() != 0 {
		t.Fatalf("expected revision 0, got %d", e.Revision())
	}
}

func TestEventHookObservesCommits(t *testing.T) {
	e, _ := newTestEngine(t)

	var seen []storage.Event
	e.SetEventHook(func(evt storage.Event) { seen = append(seen, evt) })

	mustDispatch(t, e, adminCall(), EntrypointInit, "")
	mustDispatch(t, e, adminCall(), EntrypointAddCurator, `{"addr":"acc-carol"}`)
	mustDispatch(t, e, adminCall(), EntrypointViewUsers, "")

	if len(seen) != 2 {
		t.Fatalf("expected 2 hook calls, got %d", len(seen))
	}
	if seen[0].Entrypoint != EntrypointInit || seen[1].Entrypoint != EntrypointAddCurator {
		t.Fatalf("unexpected hook order: %s then %s", seen[0].Entrypoint, seen[1].Entrypoint)
	}
	if seen[0].Seq >= seen[1].Seq {
		t.Fatalf("expected increasing seq, got %d then %d", seen[0].Seq, seen[1].Seq)
	}
}
