package engine

import (
	"bytes"
	"encoding/json"
	"strings"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/services/users/domain"
)

// Wire names of the registry entrypoints.
const (
	EntrypointInit            = "init"
	EntrypointTransferAdmin   = "transfer_admin"
	EntrypointSetAuthority    = "set_authority"
	EntrypointAddCurator      = "add_curator"
	EntrypointRemoveCurator   = "remove_curator"
	EntrypointAddValidator    = "add_validator"
	EntrypointRemoveValidator = "remove_validator"
	EntrypointCurate          = "curate"
	EntrypointValidate        = "validate"
	EntrypointUpgrade         = "upgrade"
	EntrypointViewAdmin       = "view_admin"
	EntrypointViewUser        = "view_user"
	EntrypointViewUsers       = "view_users"
)

// Entrypoints returns every dispatchable wire name.
func Entrypoints() []string {
	return []string{
		EntrypointInit,
		EntrypointTransferAdmin,
		EntrypointSetAuthority,
		EntrypointAddCurator,
		EntrypointRemoveCurator,
		EntrypointAddValidator,
		EntrypointRemoveValidator,
		EntrypointCurate,
		EntrypointValidate,
		EntrypointUpgrade,
		EntrypointViewAdmin,
		EntrypointViewUser,
		EntrypointViewUsers,
	}
}

// KnownEntrypoint reports whether name is a dispatchable wire name.
func KnownEntrypoint(name string) bool {
	for _, entrypoint := range Entrypoints() {
		if entrypoint == name {
			return true
		}
	}
	return false
}

func isView(entrypoint string) bool {
	switch entrypoint {
	case EntrypointViewAdmin, EntrypointViewUser, EntrypointViewUsers:
		return true
	}
	return false
}

type transferAdminParams struct {
	Admin string `json:"admin"`
}

type addressParam struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type setAuthorityParams struct {
	Authority addressParam `json:"authority"`
}

type addrParams struct {
	Addr string `json:"addr"`
}

type projectParams struct {
	Addr      string `json:"addr"`
	ProjectID string `json:"project_id"`
}

type migrateParams struct {
	Entrypoint string          `json:"entrypoint"`
	Params     json.RawMessage `json:"params"`
}

type upgradeParams struct {
	Ref     string         `json:"ref"`
	Migrate *migrateParams `json:"migrate"`
}

// applyOutcome carries what an entrypoint produced beyond the state change:
// a view result, and for upgrades the code reference to activate.
type applyOutcome struct {
	result      json.RawMessage
	activateRef string
}

func malformed(message string) error {
	return apperrors.New(apperrors.CodeMalformedInput, message)
}

func decodeParams(params []byte, dst any) error {
	if len(bytes.TrimSpace(params)) == 0 {
		return malformed("call params are required")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return apperrors.WithMetadata(apperrors.CodeMalformedInput,
			"call params do not decode into the expected shape",
			map[string]string{"cause": err.Error()})
	}
	return nil
}

// ensureNoParams accepts only an absent or empty params document.
func ensureNoParams(params []byte) error {
	trimmed := string(bytes.TrimSpace(params))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return nil
	}
	return malformed("entrypoint takes no params")
}

func decodeAddr(params []byte) (domain.AccountID, error) {
	var p addrParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Addr) == "" {
		return "", malformed("addr is required")
	}
	return domain.AccountID(p.Addr), nil
}

func decodeProject(params []byte) (domain.AccountID, string, error) {
	var p projectParams
	if err := decodeParams(params, &p); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(p.Addr) == "" {
		return "", "", malformed("addr is required")
	}
	return domain.AccountID(p.Addr), p.ProjectID, nil
}

func decodeAuthority(params []byte) (domain.Address, error) {
	var p setAuthorityParams
	if err := decodeParams(params, &p); err != nil {
		return domain.Address{}, err
	}
	kind := domain.AddressKind(strings.TrimSpace(p.Authority.Kind))
	if kind != domain.KindAccount && kind != domain.KindService {
		return domain.Address{}, malformed("authority kind must be account or service")
	}
	if strings.TrimSpace(p.Authority.ID) == "" {
		return domain.Address{}, malformed("authority id is required")
	}
	return domain.Address{Kind: kind, ID: p.Authority.ID}, nil
}

func outcomeJSON(value any) (applyOutcome, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return applyOutcome{}, apperrors.Wrap(apperrors.CodeInternal, "encode view result", err)
	}
	return applyOutcome{result: encoded}, nil
}

// applyEntrypoint runs one entrypoint against the working state. Mutations
// change working in place; views leave it untouched and fill the outcome
// result. The caller decides whether the state transition persists.
func (e *Engine) applyEntrypoint(working *domain.State, call domain.Call, entrypoint string, params []byte) (applyOutcome, error) {
	switch entrypoint {
	case EntrypointTransferAdmin:
		var p transferAdminParams
		if err := decodeParams(params, &p); err != nil {
			return applyOutcome{}, err
		}
		if strings.TrimSpace(p.Admin) == "" {
			return applyOutcome{}, malformed("admin is required")
		}
		return applyOutcome{}, working.TransferAdmin(call, domain.AccountID(p.Admin))

	case EntrypointSetAuthority:
		authority, err := decodeAuthority(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.SetAuthority(call, authority)

	case EntrypointAddCurator:
		addr, err := decodeAddr(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.AddCurator(call, addr)

	case EntrypointRemoveCurator:
		addr, err := decodeAddr(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.RemoveCurator(call, addr)

	case EntrypointAddValidator:
		addr, err := decodeAddr(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.AddValidator(call, addr)

	case EntrypointRemoveValidator:
		addr, err := decodeAddr(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.RemoveValidator(call, addr)

	case EntrypointCurate:
		addr, project, err := decodeProject(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.Curate(call, addr, project)

	case EntrypointValidate:
		addr, project, err := decodeProject(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{}, working.Validate(call, addr, project)

	case EntrypointUpgrade:
		var p upgradeParams
		if err := decodeParams(params, &p); err != nil {
			return applyOutcome{}, err
		}
		if strings.TrimSpace(p.Ref) == "" {
			return applyOutcome{}, malformed("ref is required")
		}
		var migration *domain.Migration
		if p.Migrate != nil {
			if strings.TrimSpace(p.Migrate.Entrypoint) == "" {
				return applyOutcome{}, malformed("migrate entrypoint is required")
			}
			migration = &domain.Migration{Entrypoint: p.Migrate.Entrypoint, Payload: p.Migrate.Params}
		}
		host := &upgradeHost{engine: e, working: working, origin: call.Origin}
		if err := domain.Upgrade(call, host, p.Ref, migration); err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{activateRef: host.ref}, nil

	case EntrypointViewAdmin:
		if err := ensureNoParams(params); err != nil {
			return applyOutcome{}, err
		}
		view, err := working.ViewAdmin(call)
		if err != nil {
			return applyOutcome{}, err
		}
		return outcomeJSON(view)

	case EntrypointViewUser:
		addr, err := decodeAddr(params)
		if err != nil {
			return applyOutcome{}, err
		}
		return outcomeJSON(working.ViewUser(addr))

	case EntrypointViewUsers:
		if err := ensureNoParams(params); err != nil {
			return applyOutcome{}, err
		}
		return outcomeJSON(working.ViewAllUsers())

	default:
		return applyOutcome{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			"unknown entrypoint",
			map[string]string{"entrypoint": entrypoint})
	}
}

// upgradeHost adapts the engine to the two hosting primitives the upgrade
// gate drives. Migration calls run against the same working state as the
// upgrade itself, so a failed migration discards the whole transition.
type upgradeHost struct {
	engine  *Engine
	working *domain.State
	origin  domain.AccountID
	ref     string
}

func (h *upgradeHost) ReplaceCode(ref string) error {
	if !h.engine.manifest.HasRef(ref) {
		return apperrors.WithMetadata(apperrors.CodeNotFound,
			"code reference is not declared by the deployment manifest",
			map[string]string{"ref": ref})
	}
	h.ref = ref
	return nil
}

func (h *upgradeHost) InvokeSelf(entrypoint string, payload []byte) error {
	call := domain.Call{
		Origin: h.origin,
		Sender: domain.ServiceAddress(h.engine.manifest.Service),
		Owner:  domain.AccountID(h.engine.manifest.Owner),
	}
	_, err := h.engine.applyEntrypoint(h.working, call, entrypoint, payload)
	return err
}
