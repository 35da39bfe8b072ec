package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/services/users/client"
	"github.com/louisbranch/overlay/internal/services/users/domain"
	"github.com/louisbranch/overlay/internal/services/users/grant"
)

// expectedFailure is a pending expect_error declaration. The next registry
// call consumes it.
type expectedFailure struct {
	code    string
	message string
}

type scenarioState struct {
	identity     grant.Grant
	expect       *expectedFailure
	lastRevision int64
}

func (s *scenarioState) takeExpectation() *expectedFailure {
	expect := s.expect
	s.expect = nil
	return expect
}

func (r *Runner) runStep(ctx context.Context, state *scenarioState, step Step) error {
	switch step.Kind {
	case "as":
		return r.runAsStep(state, step)
	case "init":
		return r.runInitStep(ctx, state)
	case "transfer_admin":
		return r.runTransferAdminStep(ctx, state, step)
	case "set_authority":
		return r.runSetAuthorityStep(ctx, state, step)
	case "add_curator", "remove_curator", "add_validator", "remove_validator":
		return r.runRoleStep(ctx, state, step)
	case "curate", "validate":
		return r.runProjectStep(ctx, state, step)
	case "upgrade":
		return r.runUpgradeStep(ctx, state, step)
	case "view_user":
		return r.runViewUserStep(ctx, state, step)
	case "view_users":
		return r.runViewUsersStep(ctx, state, step)
	case "view_admin":
		return r.runViewAdminStep(ctx, state, step)
	case "expect_error":
		return r.runExpectErrorStep(state, step)
	default:
		return r.failf("unknown step kind %q", step.Kind)
	}
}

func (r *Runner) runAsStep(state *scenarioState, step Step) error {
	origin := requiredString(step.Args, "origin")
	if origin == "" {
		return r.failf("as origin is required")
	}
	state.identity = grant.Grant{
		Origin:     origin,
		SenderKind: optionalString(step.Args, "sender_kind", ""),
		SenderID:   optionalString(step.Args, "sender_id", ""),
	}
	r.logf("acting as origin=%s sender=%s/%s", state.identity.Origin, state.identity.SenderKind, state.identity.SenderID)
	return nil
}

func (r *Runner) runInitStep(ctx context.Context, state *scenarioState) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	res, err := r.registry.Init(ctx, state.identity)
	return r.dispatch(state, "init", res, err)
}

func (r *Runner) runTransferAdminStep(ctx context.Context, state *scenarioState, step Step) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	admin := requiredString(step.Args, "admin")
	if admin == "" {
		return r.failf("transfer_admin admin is required")
	}
	res, err := r.registry.TransferAdmin(ctx, state.identity, admin)
	return r.dispatch(state, "transfer_admin", res, err)
}

func (r *Runner) runSetAuthorityStep(ctx context.Context, state *scenarioState, step Step) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	kind := requiredString(step.Args, "kind")
	id := requiredString(step.Args, "id")
	if kind == "" || id == "" {
		return r.failf("set_authority kind and id are required")
	}
	authority := domain.Address{Kind: domain.AddressKind(kind), ID: id}
	res, err := r.registry.SetAuthority(ctx, state.identity, authority)
	return r.dispatch(state, "set_authority", res, err)
}

func (r *Runner) runRoleStep(ctx context.Context, state *scenarioState, step Step) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	addr := requiredString(step.Args, "addr")
	if addr == "" {
		return r.failf("%s addr is required", step.Kind)
	}

	var (
		res client.DispatchResult
		err error
	)
	switch step.Kind {
	case "add_curator":
		res, err = r.registry.AddCurator(ctx, state.identity, addr)
	case "remove_curator":
		res, err = r.registry.RemoveCurator(ctx, state.identity, addr)
	case "add_validator":
		res, err = r.registry.AddValidator(ctx, state.identity, addr)
	case "remove_validator":
		res, err = r.registry.RemoveValidator(ctx, state.identity, addr)
	}
	return r.dispatch(state, step.Kind, res, err)
}

func (r *Runner) runProjectStep(ctx context.Context, state *scenarioState, step Step) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	addr := requiredString(step.Args, "addr")
	project := requiredString(step.Args, "project")
	if addr == "" || project == "" {
		return r.failf("%s addr and project are required", step.Kind)
	}

	var (
		res client.DispatchResult
		err error
	)
	if step.Kind == "curate" {
		res, err = r.registry.Curate(ctx, state.identity, addr, project)
	} else {
		res, err = r.registry.Validate(ctx, state.identity, addr, project)
	}
	return r.dispatch(state, step.Kind, res, err)
}

func (r *Runner) runUpgradeStep(ctx context.Context, state *scenarioState, step Step) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	ref := requiredString(step.Args, "ref")
	if ref == "" {
		return r.failf("upgrade ref is required")
	}

	var migrate *client.Migration
	if entrypoint := optionalString(step.Args, "migrate_entrypoint", ""); entrypoint != "" {
		migrate = &client.Migration{Entrypoint: entrypoint}
		if params, ok := step.Args["migrate_params"]; ok {
			encoded, err := json.Marshal(params)
			if err != nil {
				return r.failf("upgrade migrate_params: %v", err)
			}
			migrate.Params = encoded
		}
	}

	res, err := r.registry.Upgrade(ctx, state.identity, ref, migrate)
	return r.dispatch(state, "upgrade", res, err)
}

func (r *Runner) runViewUserStep(ctx context.Context, state *scenarioState, step Step) error {
	addr := requiredString(step.Args, "addr")
	if addr == "" {
		return r.failf("view_user addr is required")
	}
	entry, err := r.registry.ViewUser(ctx, addr)
	if expect := state.takeExpectation(); expect != nil {
		return r.checkExpectedError("view_user", *expect, err)
	}
	if err != nil {
		return fmt.Errorf("view user: %w", err)
	}

	if want, ok := readBool(step.Args, "expect_curator"); ok && entry.Record.IsCurator != want {
		return r.assertf("view_user %s: is_curator = %t, want %t", addr, entry.Record.IsCurator, want)
	}
	if want, ok := readBool(step.Args, "expect_validator"); ok && entry.Record.IsValidator != want {
		return r.assertf("view_user %s: is_validator = %t, want %t", addr, entry.Record.IsValidator, want)
	}
	if want, ok := step.Args["expect_curated"]; ok {
		if err := r.assertStringList("view_user "+addr+" curated_projects", entry.Record.CuratedProjects, want); err != nil {
			return err
		}
	}
	if want, ok := step.Args["expect_validated"]; ok {
		if err := r.assertStringList("view_user "+addr+" validated_projects", entry.Record.ValidatedProjects, want); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runViewUsersStep(ctx context.Context, state *scenarioState, step Step) error {
	users, err := r.registry.ViewUsers(ctx)
	if expect := state.takeExpectation(); expect != nil {
		return r.checkExpectedError("view_users", *expect, err)
	}
	if err != nil {
		return fmt.Errorf("view users: %w", err)
	}

	if want, ok := readInt(step.Args, "expect_count"); ok && len(users) != want {
		return r.assertf("view_users: count = %d, want %d", len(users), want)
	}
	return nil
}

func (r *Runner) runViewAdminStep(ctx context.Context, state *scenarioState, step Step) error {
	if err := r.ensureIdentity(state); err != nil {
		return err
	}
	root, err := r.registry.ViewAdmin(ctx, state.identity)
	if expect := state.takeExpectation(); expect != nil {
		return r.checkExpectedError("view_admin", *expect, err)
	}
	if err != nil {
		return fmt.Errorf("view admin: %w", err)
	}

	if want := optionalString(step.Args, "expect_admin", ""); want != "" && string(root.Admin) != want {
		return r.assertf("view_admin: admin = %s, want %s", root.Admin, want)
	}
	if want := optionalString(step.Args, "expect_authority_kind", ""); want != "" && string(root.Authority.Kind) != want {
		return r.assertf("view_admin: authority kind = %s, want %s", root.Authority.Kind, want)
	}
	if want := optionalString(step.Args, "expect_authority_id", ""); want != "" && root.Authority.ID != want {
		return r.assertf("view_admin: authority id = %s, want %s", root.Authority.ID, want)
	}
	return nil
}

func (r *Runner) runExpectErrorStep(state *scenarioState, step Step) error {
	if state.expect != nil {
		return r.failf("expect_error (%s) is already pending", state.expect.code)
	}
	code := requiredString(step.Args, "code")
	if code == "" {
		return r.failf("expect_error code is required")
	}
	state.expect = &expectedFailure{
		code:    code,
		message: optionalString(step.Args, "message", ""),
	}
	return nil
}

// dispatch settles a mutation call: a pending expect_error consumes the
// outcome, otherwise the call must have succeeded.
func (r *Runner) dispatch(state *scenarioState, entrypoint string, res client.DispatchResult, err error) error {
	if expect := state.takeExpectation(); expect != nil {
		return r.checkExpectedError(entrypoint, *expect, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", entrypoint, err)
	}
	state.lastRevision = res.Revision
	r.logf("%s committed revision %d", entrypoint, res.Revision)
	return nil
}

func (r *Runner) checkExpectedError(entrypoint string, expect expectedFailure, err error) error {
	if err == nil {
		return r.assertf("%s: expected error %s, call succeeded", entrypoint, expect.code)
	}
	appErr, ok := apperrors.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", entrypoint, err)
	}
	if string(appErr.Code) != expect.code {
		return r.assertf("%s: error code = %s, want %s", entrypoint, appErr.Code, expect.code)
	}
	if expect.message != "" && !strings.Contains(appErr.Message, expect.message) {
		return r.assertf("%s: error message %q does not contain %q", entrypoint, appErr.Message, expect.message)
	}
	r.logf("%s failed as expected: %s", entrypoint, appErr.Code)
	return nil
}

func (r *Runner) ensureIdentity(state *scenarioState) error {
	if state.identity.Origin == "" {
		return r.failf("acting identity is required (use as)")
	}
	return nil
}

func (r *Runner) assertStringList(field string, got []string, want any) error {
	expected, err := toStringList(want)
	if err != nil {
		return r.failf("%s expectation: %v", field, err)
	}
	if len(got) != len(expected) {
		return r.assertf("%s = %v, want %v", field, got, expected)
	}
	for i := range expected {
		if got[i] != expected[i] {
			return r.assertf("%s = %v, want %v", field, got, expected)
		}
	}
	return nil
}

// toStringList accepts the two shapes a Lua script can produce for a list
// expectation: a dense array or an empty table.
func toStringList(value any) ([]string, error) {
	switch typed := value.(type) {
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return nil, errors.New("list must contain strings")
			}
			items = append(items, text)
		}
		return items, nil
	case map[string]any:
		if len(typed) == 0 {
			return nil, nil
		}
		return nil, errors.New("list must be an array")
	default:
		return nil, errors.New("list must be an array")
	}
}

func (r *Runner) failf(format string, args ...any) error {
	return r.assertions.Failf(format, args...)
}

func (r *Runner) assertf(format string, args ...any) error {
	return r.assertions.Assertf(format, args...)
}

func requiredString(args map[string]any, key string) string {
	value, ok := args[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if ok && text != "" {
		return text
	}
	return ""
}

func optionalString(args map[string]any, key, fallback string) string {
	value, ok := args[key]
	if !ok {
		return fallback
	}
	text, ok := value.(string)
	if ok && text != "" {
		return text
	}
	return fallback
}

func readBool(args map[string]any, key string) (bool, bool) {
	value, ok := args[key]
	if !ok {
		return false, false
	}
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		lower := strings.ToLower(strings.TrimSpace(typed))
		switch lower {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

func readInt(args map[string]any, key string) (int, bool) {
	value, ok := args[key]
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case int:
		return typed, true
	case float64:
		return int(typed), true
	default:
		return 0, false
	}
}
