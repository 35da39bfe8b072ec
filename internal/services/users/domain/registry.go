package domain

import (
	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
)

// Root holds the two identities every mutation is authorized against.
type Root struct {
	// Admin is the account empowered to manage roles and transfer itself.
	Admin AccountID
	// Authority is the single external collaborator allowed to record
	// project associations. Defaults to the sentinel address.
	Authority Address
}

// UserRecord is the per-account registry entry. Records are created on first
// role grant and never deleted; project lists survive role revocation.
type UserRecord struct {
	IsCurator         bool     `json:"is_curator"`
	IsValidator       bool     `json:"is_validator"`
	CuratedProjects   []string `json:"curated_projects"`
	ValidatedProjects []string `json:"validated_projects"`
}

// State is the whole registry: the root, the user table, and the ordered
// role membership lists kept consistent with the per-record flags.
//
// State is not safe for concurrent use; the hosting layer serializes calls.
type State struct {
	root       Root
	users      map[AccountID]*UserRecord
	curators   []AccountID
	validators []AccountID
}

// NewState creates the registry at deployment: the creator becomes admin and
// the authority starts as the sentinel address.
func NewState(creator AccountID) (*State, error) {
	if creator == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "creator account is required")
	}
	return &State{
		root:  Root{Admin: creator},
		users: make(map[AccountID]*UserRecord),
	}, nil
}

// TransferAdmin replaces the admin unconditionally. Admin-gated: the call
// origin must be the current admin. The new admin is not validated beyond
// decoding, so the admin may hand power to any account, itself included.
func (s *State) TransferAdmin(call Call, newAdmin AccountID) error {
	if err := s.requireAdmin(call); err != nil {
		return err
	}
	s.root.Admin = newAdmin
	return nil
}

// SetAuthority replaces the project authority unconditionally. Admin-gated.
func (s *State) SetAuthority(call Call, authority Address) error {
	if err := s.requireAdmin(call); err != nil {
		return err
	}
	s.root.Authority = authority
	return nil
}

// AddCurator grants the curator role. Admin-gated. A missing record is
// created with empty project lists; the membership list gains the address at
// most once no matter how often the grant repeats.
func (s *State) AddCurator(call Call, addr AccountID) error {
	if err := s.requireAdmin(call); err != nil {
		return err
	}
	record := s.ensureRecord(addr)
	record.IsCurator = true
	s.curators = appendUnique(s.curators, addr)
	return nil
}

// RemoveCurator revokes the curator role. Admin-gated. The record and its
// project history are kept; revoking an absent or never-granted address is a
// successful no-op.
func (s *State) RemoveCurator(call Call, addr AccountID) error {
	if err := s.requireAdmin(call); err != nil {
		return err
	}
	if record, ok := s.users[addr]; ok {
		record.IsCurator = false
	}
	s.curators = removeAll(s.curators, addr)
	return nil
}

// AddValidator grants the validator role. Admin-gated.
func (s *State) AddValidator(call Call, addr AccountID) error {
	if err := s.requireAdmin(call); err != nil {
		return err
	}
	record := s.ensureRecord(addr)
	record.IsValidator = true
	s.validators = appendUnique(s.validators, addr)
	return nil
}

// RemoveValidator revokes the validator role. Admin-gated.
func (s *State) RemoveValidator(call Call, addr AccountID) error {
	if err := s.requireAdmin(call); err != nil {
		return err
	}
	if record, ok := s.users[addr]; ok {
		record.IsValidator = false
	}
	s.validators = removeAll(s.validators, addr)
	return nil
}

// Curate records that addr curated project. Authority-gated: only the
// configured project authority may call, and only the immediate sender
// counts. The account must already hold the curator role; the project is
// appended at most once per record.
func (s *State) Curate(call Call, addr AccountID, project string) error {
	if err := s.requireAuthority(call); err != nil {
		return err
	}
	record, ok := s.users[addr]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"account has no registry record",
			map[string]string{"address": string(addr)})
	}
	if !record.IsCurator {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"account does not hold the curator role",
			map[string]string{"address": string(addr)})
	}
	record.CuratedProjects = appendUniqueString(record.CuratedProjects, project)
	return nil
}

// Validate records that addr validated project. Authority-gated, symmetric
// to Curate over the validator role.
func (s *State) Validate(call Call, addr AccountID, project string) error {
	if err := s.requireAuthority(call); err != nil {
		return err
	}
	record, ok := s.users[addr]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"account has no registry record",
			map[string]string{"address": string(addr)})
	}
	if !record.IsValidator {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"account does not hold the validator role",
			map[string]string{"address": string(addr)})
	}
	record.ValidatedProjects = appendUniqueString(record.ValidatedProjects, project)
	return nil
}

func (s *State) requireAdmin(call Call) error {
	if call.Origin == "" || call.Origin != s.root.Admin {
		return apperrors.WithMetadata(apperrors.CodeInvalidCaller,
			"call origin is not the registry admin",
			map[string]string{"origin": string(call.Origin)})
	}
	return nil
}

func (s *State) requireAuthority(call Call) error {
	if s.root.Authority.IsZero() || call.Sender != s.root.Authority {
		return apperrors.WithMetadata(apperrors.CodeInvalidCaller,
			"sender is not the project authority",
			map[string]string{"sender": call.Sender.String()})
	}
	return nil
}

func (s *State) ensureRecord(addr AccountID) *UserRecord {
	record, ok := s.users[addr]
	if !ok {
		record = &UserRecord{}
		s.users[addr] = record
	}
	return record
}

func appendUnique(list []AccountID, addr AccountID) []AccountID {
	for _, existing := range list {
		if existing == addr {
			return list
		}
	}
	return append(list, addr)
}

func removeAll(list []AccountID, addr AccountID) []AccountID {
	filtered := list[:0]
	for _, existing := range list {
		if existing != addr {
			filtered = append(filtered, existing)
		}
	}
	return filtered
}

func appendUniqueString(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
