// Package grant mints and verifies the signed call grants the registry
// accepts as caller identity. A grant binds an origin account and an
// immediate sender address to a short-lived ed25519 token.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/platform/id"
	"github.com/louisbranch/overlay/internal/services/users/domain"
)

// GrantType is the type marker every call grant carries in its gt claim.
const GrantType = "overlay-call"

// Grant is the caller identity a token is minted for. SenderKind and
// SenderID default to the origin account when left empty.
type Grant struct {
	Origin     string
	SenderKind string
	SenderID   string
}

// Identity is the verified caller context extracted from a grant.
type Identity struct {
	Origin    domain.AccountID
	Sender    domain.Address
	GrantID   string
	ExpiresAt time.Time
}

// callGrantClaims is the internal claims type used for JWT signing and
// parsing.
type callGrantClaims struct {
	jwt.RegisteredClaims
	Grant      string `json:"gt"`
	Origin     string `json:"origin"`
	SenderKind string `json:"snd_kind"`
	SenderID   string `json:"snd_id"`
}

// Issue mints a signed call grant for the given identity, valid for ttl
// from now.
func Issue(key ed25519.PrivateKey, g Grant, ttl time.Duration, now func() time.Time) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		return "", fmt.Errorf("grant ttl must be positive")
	}

	origin := strings.TrimSpace(g.Origin)
	if origin == "" {
		return "", fmt.Errorf("grant origin is required")
	}
	sender, err := senderAddress(g, origin)
	if err != nil {
		return "", err
	}

	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate grant id: %w", err)
	}

	issuedAt := now().UTC()
	claims := callGrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Grant:      GrantType,
		Origin:     origin,
		SenderKind: string(sender.Kind),
		SenderID:   sender.ID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return token, nil
}

// Verify checks a call grant signature and claims and returns the caller
// identity it carries. All failures map to CodeUnauthenticated.
func Verify(key ed25519.PublicKey, token string, now func() time.Time) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "call grant is required")
	}
	if len(key) != ed25519.PublicKeySize {
		return Identity{}, errors.New("grant verifier is not configured")
	}
	if now == nil {
		now = time.Now
	}

	var parsed callGrantClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	if parsed.Grant != GrantType {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "token is not a call grant")
	}
	if parsed.ID == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "call grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "call grant exp is required")
	}

	current := now().UTC()
	expiry := parsed.ExpiresAt.Time.UTC()
	if !expiry.After(current) {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "call grant is expired")
	}
	if parsed.IssuedAt != nil && current.Before(parsed.IssuedAt.Time.UTC()) {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "call grant is not active yet")
	}

	origin := strings.TrimSpace(parsed.Origin)
	if origin == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "call grant origin is required")
	}
	sender, err := senderAddress(Grant{Origin: origin, SenderKind: parsed.SenderKind, SenderID: parsed.SenderID}, origin)
	if err != nil {
		return Identity{}, apperrors.New(apperrors.CodeUnauthenticated, err.Error())
	}

	return Identity{
		Origin:    domain.AccountID(origin),
		Sender:    sender,
		GrantID:   parsed.ID,
		ExpiresAt: expiry,
	}, nil
}

// senderAddress resolves the sender claims to a concrete address, falling
// back to the origin account when both are empty.
func senderAddress(g Grant, origin string) (domain.Address, error) {
	kind := strings.TrimSpace(g.SenderKind)
	senderID := strings.TrimSpace(g.SenderID)
	if kind == "" && senderID == "" {
		return domain.AccountAddress(domain.AccountID(origin)), nil
	}
	if senderID == "" {
		return domain.Address{}, fmt.Errorf("grant sender id is required with sender kind")
	}
	switch domain.AddressKind(kind) {
	case domain.KindAccount:
		return domain.AccountAddress(domain.AccountID(senderID)), nil
	case domain.KindService:
		return domain.ServiceAddress(senderID), nil
	default:
		return domain.Address{}, fmt.Errorf("unknown grant sender kind %q", kind)
	}
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeUnauthenticated, "call grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeUnauthenticated, "call grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeUnauthenticated, "call grant is invalid")
}

// DecodePublicKey decodes a base64 ed25519 public key, accepting both
// padded and unpadded std encodings.
func DecodePublicKey(value string) (ed25519.PublicKey, error) {
	raw, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey decodes a base64 ed25519 private key, accepting both
// padded and unpadded std encodings.
func DecodePrivateKey(value string) (ed25519.PrivateKey, error) {
	raw, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// EncodeKey renders key material as unpadded std base64, the form grants
// and configuration carry keys in.
func EncodeKey(raw []byte) string {
	return base64.RawStdEncoding.EncodeToString(raw)
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
