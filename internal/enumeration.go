package internal

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveDecoyChallenge produces a deterministic fake (salt, serverPublic)
// pair for an email with no registered credential. Determinism matters: the
// same unknown email must always yield the same challenge material, so a
// probing client cannot distinguish a decoy from a real account by asking
// twice.
func DeriveDecoyChallenge(secret []byte, email string, saltLen, publicLen int) (salt, serverPublic []byte, err error) {
	if len(secret) == 0 {
		return nil, nil, fmt.Errorf("decoy secret is empty")
	}
	if saltLen <= 0 || publicLen <= 0 {
		return nil, nil, fmt.Errorf("invalid decoy lengths")
	}

	reader := hkdf.New(sha256.New, secret, []byte("authcore-decoy-v1"), []byte(email))

	salt = make([]byte, saltLen)
	if _, err := io.ReadFull(reader, salt); err != nil {
		return nil, nil, fmt.Errorf("derive decoy salt: %w", err)
	}

	serverPublic = make([]byte, publicLen)
	if _, err := io.ReadFull(reader, serverPublic); err != nil {
		return nil, nil, fmt.Errorf("derive decoy ephemeral: %w", err)
	}

	return salt, serverPublic, nil
}
