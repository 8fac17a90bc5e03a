package state

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Status is the challenge lifecycle marker stored on-chain
type Status uint8

const (
	StatusPending    Status = 0
	StatusInProgress Status = 1
	StatusClosed     Status = 2
	StatusCanceled   Status = 3
)

// String implements fmt.Stringer
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusClosed:
		return "CLOSED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the four known statuses
func (s Status) Valid() bool {
	return s <= StatusCanceled
}

// State is the decoded challenge record
type State struct {
	Layout LayoutVersion

	Version     uint8
	Bump        uint8
	ChallengeID uint64
	Fee         uint64
	Commission  uint8
	Status      Status
	Owner       solana.PublicKey
	Treasury    solana.PublicKey
	Paid        bool
	OpCounter   uint64

	Owners      []solana.PublicKey
	Subscribers []solana.PublicKey
	Winners     []solana.PublicKey

	// VecOffset is the byte offset of the first vector length prefix
	VecOffset int
	// Degraded is set when a vector could not be read and the decoder was
	// configured to substitute empty lists instead of failing.
	Degraded bool
}

// AlreadyPaid reports whether winners have been paid. The legacy layout has
// no paid flag; a closed challenge is treated as paid there.
func (s *State) AlreadyPaid() bool {
	if s.Layout.HasTreasury() {
		return s.Paid
	}
	return s.Status == StatusClosed
}

// IsAllowedUser mirrors the program's owner-or-co-owner check
func (s *State) IsAllowedUser(pk solana.PublicKey) bool {
	return s.Owner.Equals(pk) || contains(s.Owners, pk)
}

// HasOwner reports whether pk is a co-owner
func (s *State) HasOwner(pk solana.PublicKey) bool {
	return contains(s.Owners, pk)
}

// HasSubscriber reports whether pk is in the subscriber list
func (s *State) HasSubscriber(pk solana.PublicKey) bool {
	return contains(s.Subscribers, pk)
}

// HasWinner reports whether pk is in the winner list
func (s *State) HasWinner(pk solana.PublicKey) bool {
	return contains(s.Winners, pk)
}

func contains(list []solana.PublicKey, pk solana.PublicKey) bool {
	for _, k := range list {
		if k.Equals(pk) {
			return true
		}
	}
	return false
}

// Snapshot is a decoded record together with the account balance it was
// read with.
type Snapshot struct {
	Address   solana.PublicKey
	State     *State
	Lamports  uint64
	Slot      uint64
	FetchedAt time.Time
}
