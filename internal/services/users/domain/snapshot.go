package domain

import (
	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
)

// Snapshot is the serializable form of the registry state. The hosting layer
// persists it as one page; the registry itself never touches storage.
type Snapshot struct {
	Admin      AccountID                `json:"admin"`
	Authority  Address                  `json:"authority"`
	Users      map[AccountID]UserRecord `json:"users"`
	Curators   []AccountID              `json:"curators"`
	Validators []AccountID              `json:"validators"`
}

// Snapshot copies the full state into its serializable form.
func (s *State) Snapshot() Snapshot {
	users := make(map[AccountID]UserRecord, len(s.users))
	for addr, record := range s.users {
		users[addr] = record.clone()
	}
	return Snapshot{
		Admin:      s.root.Admin,
		Authority:  s.root.Authority,
		Users:      users,
		Curators:   cloneAccounts(s.curators),
		Validators: cloneAccounts(s.validators),
	}
}

// FromSnapshot rebuilds a state from its persisted form.
func FromSnapshot(snap Snapshot) (*State, error) {
	if snap.Admin == "" {
		return nil, apperrors.New(apperrors.CodeInternal, "snapshot has no admin")
	}
	users := make(map[AccountID]*UserRecord, len(snap.Users))
	for addr, record := range snap.Users {
		cloned := record.clone()
		users[addr] = &cloned
	}
	return &State{
		root:       Root{Admin: snap.Admin, Authority: snap.Authority},
		users:      users,
		curators:   cloneAccounts(snap.Curators),
		validators: cloneAccounts(snap.Validators),
	}, nil
}

// Clone deep-copies the state so the hosting layer can apply a mutation and
// discard it wholesale on failure.
func (s *State) Clone() *State {
	users := make(map[AccountID]*UserRecord, len(s.users))
	for addr, record := range s.users {
		cloned := record.clone()
		users[addr] = &cloned
	}
	return &State{
		root:       s.root,
		users:      users,
		curators:   cloneAccounts(s.curators),
		validators: cloneAccounts(s.validators),
	}
}
