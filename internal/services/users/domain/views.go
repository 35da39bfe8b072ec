package domain

// RootView is the admin's snapshot of the registry root and membership lists.
type RootView struct {
	Admin      AccountID   `json:"admin"`
	Authority  Address     `json:"authority"`
	Curators   []AccountID `json:"curators"`
	Validators []AccountID `json:"validators"`
}

// UserEntry pairs an account with its record for bulk listings.
type UserEntry struct {
	Address AccountID  `json:"address"`
	Record  UserRecord `json:"record"`
}

// ViewAdmin returns the root and membership lists. Admin-gated: only the
// current admin may read its own configuration.
func (s *State) ViewAdmin(call Call) (RootView, error) {
	if err := s.requireAdmin(call); err != nil {
		return RootView{}, err
	}
	return RootView{
		Admin:      s.root.Admin,
		Authority:  s.root.Authority,
		Curators:   cloneAccounts(s.curators),
		Validators: cloneAccounts(s.validators),
	}, nil
}

// ViewUser returns a copy of the record for addr. An address never touched
// by a grant yields the default record rather than an error.
func (s *State) ViewUser(addr AccountID) UserRecord {
	record, ok := s.users[addr]
	if !ok {
		return UserRecord{CuratedProjects: []string{}, ValidatedProjects: []string{}}
	}
	return record.clone()
}

// ViewAllUsers returns every (address, record) pair. Iteration order is
// unspecified and need not be stable across calls.
func (s *State) ViewAllUsers() []UserEntry {
	entries := make([]UserEntry, 0, len(s.users))
	for addr, record := range s.users {
		entries = append(entries, UserEntry{Address: addr, Record: record.clone()})
	}
	return entries
}

func (r *UserRecord) clone() UserRecord {
	return UserRecord{
		IsCurator:         r.IsCurator,
		IsValidator:       r.IsValidator,
		CuratedProjects:   cloneStrings(r.CuratedProjects),
		ValidatedProjects: cloneStrings(r.ValidatedProjects),
	}
}

func cloneStrings(values []string) []string {
	cloned := make([]string, len(values))
	copy(cloned, values)
	return cloned
}

func cloneAccounts(values []AccountID) []AccountID {
	cloned := make([]AccountID, len(values))
	copy(cloned, values)
	return cloned
}
