package domain

// AccountID identifies an end-user account, the kind of identity that signs
// and originates a call chain.
type AccountID string

// AddressKind distinguishes the two identity kinds a caller may present.
type AddressKind string

const (
	// KindAccount marks an address backed by an end-user account key.
	KindAccount AddressKind = "account"
	// KindService marks an address backed by a deployed service.
	KindService AddressKind = "service"
)

// Address is a caller identity as the registry sees it. The zero Address is
// the sentinel "nobody" value and never matches a real caller.
type Address struct {
	Kind AddressKind `json:"kind"`
	ID   string      `json:"id"`
}

// AccountAddress returns the address form of an account identity.
func AccountAddress(id AccountID) Address {
	return Address{Kind: KindAccount, ID: string(id)}
}

// ServiceAddress returns the address of a deployed service.
func ServiceAddress(id string) Address {
	return Address{Kind: KindService, ID: id}
}

// IsZero reports whether the address is the sentinel value.
func (a Address) IsZero() bool {
	return a.Kind == "" && a.ID == ""
}

// Account returns the account identity behind the address, if it has one.
func (a Address) Account() (AccountID, bool) {
	if a.Kind != KindAccount || a.ID == "" {
		return "", false
	}
	return AccountID(a.ID), true
}

// String renders the address as kind:id, or "" for the sentinel.
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return string(a.Kind) + ":" + a.ID
}

// Call carries the caller context for one registry operation.
//
// Origin is the account that signed the outermost request, regardless of how
// many services relayed it. Sender is the immediate caller of this operation.
// Owner is the deployment owner account supplied by the hosting layer.
type Call struct {
	Origin AccountID
	Sender Address
	Owner  AccountID
}
