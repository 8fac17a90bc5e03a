package state

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

// StateSeed is the literal prefix seed of every challenge account address
const StateSeed = "state"

// Deriver computes challenge account addresses for one program
type Deriver struct {
	programID solana.PublicKey
}

// NewDeriver creates a Deriver bound to programID
func NewDeriver(programID solana.PublicKey) (*Deriver, error) {
	if programID.IsZero() {
		return nil, relerrors.Config("program id is not set", nil)
	}
	return &Deriver{programID: programID}, nil
}

// ProgramID returns the program the addresses are derived under
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// Derive returns the program-derived address and bump for the challenge
// (owner, challengeID). Seeds are "state", owner bytes and the challenge id
// as 8 little-endian bytes. Pure and deterministic.
func (d *Deriver) Derive(owner solana.PublicKey, challengeID uint64) (solana.PublicKey, uint8, error) {
	if owner.IsZero() {
		return solana.PublicKey{}, 0, relerrors.Validation(relerrors.ReasonInvalidInput, "owner is required")
	}
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], challengeID)

	addr, bump, err := solana.FindProgramAddress([][]byte{
		[]byte(StateSeed),
		owner.Bytes(),
		id[:],
	}, d.programID)
	if err != nil {
		return solana.PublicKey{}, 0, relerrors.Internal("failed to derive state address", err)
	}
	return addr, bump, nil
}

// ParseChallengeID parses a decimal challenge id. Values outside the uint64
// range are rejected.
func ParseChallengeID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, relerrors.Validation(relerrors.ReasonInvalidInput, "challenge id is required")
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, relerrors.Validationf(relerrors.ReasonInvalidInput, "challenge id %q is not an unsigned 64-bit integer", s)
	}
	return id, nil
}

// ParsePublicKey parses a base58 identity, naming field in the error
func ParsePublicKey(field, s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, relerrors.Validationf(relerrors.ReasonInvalidInput, "%s is required", field)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, relerrors.Validationf(relerrors.ReasonInvalidInput, "%s %q is not a valid address: %v", field, s, err)
	}
	return pk, nil
}

// ParsePublicKeys parses a list of identities, rejecting duplicates
func ParsePublicKeys(field string, in []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(in))
	seen := make(map[solana.PublicKey]struct{}, len(in))
	for i, s := range in {
		pk, err := ParsePublicKey(fmt.Sprintf("%s[%d]", field, i), s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[pk]; dup {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidInput, "%s contains %s more than once", field, pk)
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	return out, nil
}
