package pipeline

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Signer holds the relayer's fee-paying key. It is read-only after load and
// safe for concurrent use.
type Signer struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewSigner wraps an ed25519 private key
func NewSigner(key solana.PrivateKey) (*Signer, error) {
	if len(key) != 64 {
		return nil, errors.Errorf("invalid key length: expected 64 bytes, got %d", len(key))
	}
	return &Signer{key: key, pub: key.PublicKey()}, nil
}

// LoadSignerFile reads a keypair stored as a JSON array of 64 bytes, the
// format written by solana-keygen.
func LoadSignerFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read keypair file %s", path)
	}

	var keyBytes []byte
	if err := json.Unmarshal(data, &keyBytes); err != nil {
		return nil, errors.Wrap(err, "failed to parse keypair file as JSON array")
	}
	return NewSigner(solana.PrivateKey(keyBytes))
}

// ParseSigner decodes a base58 encoded 64-byte keypair
func ParseSigner(encoded string) (*Signer, error) {
	raw, err := base58.Decode(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base58 keypair")
	}
	return NewSigner(solana.PrivateKey(raw))
}

// PublicKey returns the fee payer address
func (s *Signer) PublicKey() solana.PublicKey {
	return s.pub
}

func (s *Signer) sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pub) {
			k := s.key
			return &k
		}
		return nil
	})
	return err
}
