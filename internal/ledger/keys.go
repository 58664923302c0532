package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AccountKeypair is a freshly generated ed25519 keypair for a ledger account.
// PublicKey is base58-encoded and doubles as the account's on-ledger address.
type AccountKeypair struct {
	PublicKey  string
	PrivateKey ed25519.PrivateKey
}

// GenerateAccountKeypair generates an ed25519 keypair for a new account.
func GenerateAccountKeypair() (*AccountKeypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &AccountKeypair{
		PublicKey:  base58.Encode(pub),
		PrivateKey: priv,
	}, nil
}

// ValidateAccountKey checks that key is a base58-encoded 32-byte value that
// decodes to a point on the ed25519 curve. Off-curve keys can never sign,
// so funding such an account would strand the balance.
func ValidateAccountKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}

	raw, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("decode base58: %w", err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}

	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("key is not on the ed25519 curve: %w", err)
	}

	return nil
}
