package domain

import (
	"fmt"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
)

// Host exposes the two hosting-layer primitives the upgrade gate drives. The
// registry never sees the wider hosting API.
type Host interface {
	// ReplaceCode activates the code reference for this deployment.
	ReplaceCode(ref string) error
	// InvokeSelf dispatches one follow-up call against the upgraded
	// deployment, with this registry as the sender.
	InvokeSelf(entrypoint string, payload []byte) error
}

// Migration is the optional follow-up call an upgrade runs once the new code
// reference is active.
type Migration struct {
	Entrypoint string
	Payload    []byte
}

// Upgrade activates a new code reference and optionally dispatches one
// migration call against it. Owner-gated: the immediate sender must be the
// deployment owner's account. Failures from either hosting primitive
// propagate to the caller unswallowed.
func Upgrade(call Call, host Host, ref string, migration *Migration) error {
	if err := requireOwner(call); err != nil {
		return err
	}
	if host == nil {
		return apperrors.New(apperrors.CodeInternal, "upgrade host is not configured")
	}
	if err := host.ReplaceCode(ref); err != nil {
		return fmt.Errorf("replace code: %w", err)
	}
	if migration != nil {
		if err := host.InvokeSelf(migration.Entrypoint, migration.Payload); err != nil {
			return fmt.Errorf("migration call %s: %w", migration.Entrypoint, err)
		}
	}
	return nil
}

func requireOwner(call Call) error {
	sender, ok := call.Sender.Account()
	if call.Owner == "" || !ok || sender != call.Owner {
		return apperrors.WithMetadata(apperrors.CodeInvalidCaller,
			"sender is not the deployment owner",
			map[string]string{"sender": call.Sender.String()})
	}
	return nil
}
