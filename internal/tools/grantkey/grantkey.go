// Package grantkey generates the ed25519 keypair that signs registry call
// grants.
package grantkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/louisbranch/overlay/internal/services/users/grant"
)

// Run generates a grant signing key pair and writes exports.
func Run(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate grant key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export OVERLAY_USERS_GRANT_PRIVATE_KEY=%s\n", grant.EncodeKey(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export OVERLAY_USERS_GRANT_PUBLIC_KEY=%s\n", grant.EncodeKey(publicKey)); err != nil {
		return err
	}
	return nil
}
