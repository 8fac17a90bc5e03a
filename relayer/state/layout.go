package state

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fixed sizes of the on-chain challenge record.
const (
	DiscriminatorSize = 8
	PubkeySize        = 32
	VecLenSize        = 4

	MaxOwners      = 5
	MaxSubscribers = 100
	MaxWinners     = 10
)

// LayoutVersion selects which revision of the account layout is decoded
type LayoutVersion string

const (
	// LayoutTreasury is the current layout carrying treasury and paid fields
	LayoutTreasury LayoutVersion = "treasury"
	// LayoutLegacy predates the treasury field and paid flag
	LayoutLegacy LayoutVersion = "legacy"
)

// AccountDiscriminator is the 8-byte tag prefixed to every challenge record
var AccountDiscriminator = anchorDiscriminator("account:State")

func anchorDiscriminator(preimage string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [DiscriminatorSize]byte
	copy(out[:], sum[:DiscriminatorSize])
	return out
}

// ParseLayoutVersion validates a config value. Empty input yields LayoutTreasury.
func ParseLayoutVersion(s string) (LayoutVersion, error) {
	switch LayoutVersion(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutTreasury:
		return LayoutTreasury, nil
	case LayoutLegacy:
		return LayoutLegacy, nil
	default:
		return "", fmt.Errorf("unknown layout version %q (want treasury or legacy)", s)
	}
}

// HasTreasury reports whether the layout stores treasury and paid fields
func (v LayoutVersion) HasTreasury() bool {
	return v != LayoutLegacy
}

// HeaderSize is the number of bytes before the first vector, discriminator
// included.
//
//	treasury: disc 8 | version 1 | bump 1 | challenge_id 8 | fee 8 |
//	          commission 1 | status 1 | owner 32 | treasury 32 | paid 1 |
//	          op_counter 8
//	legacy:   same without treasury and paid
func (v LayoutVersion) HeaderSize() int {
	n := DiscriminatorSize + 1 + 1 + 8 + 8 + 1 + 1 + PubkeySize + 8
	if v.HasTreasury() {
		n += PubkeySize + 1
	}
	return n
}

// AccountSize is the allocated size of a record with every vector at capacity
func (v LayoutVersion) AccountSize() int {
	return v.HeaderSize() +
		VecLenSize + MaxOwners*PubkeySize +
		VecLenSize + MaxSubscribers*PubkeySize +
		VecLenSize + MaxWinners*PubkeySize
}
