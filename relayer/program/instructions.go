// Package program encodes instructions for the on-chain subscription
// challenge program and decodes the numeric error codes it returns.
package program

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/snzup/subscription-relayer/relayer/state"
)

// Instruction names as declared by the program. SetCommission keeps the
// program's spelling since the discriminator is derived from it.
const (
	Initialize         = "initialize"
	Subscribe          = "subscribe"
	SetWinnersList     = "set_winners_list"
	SendBonusToWinners = "send_bonus_to_winners"
	RefundBatch        = "refund_batch"
	SetFee             = "set_fee"
	SetCommission      = "set_commision"
	SetOwner           = "set_owner"
	RemoveOwner        = "remove_owner"
	SetStatus          = "set_status"
	CancelSubscription = "cancel_subscription"
	SetTreasury        = "set_treasury"
)

// Discriminator returns the 8-byte instruction tag for name
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// FixedAccounts is the number of distinct accounts a transaction carrying
// the instruction references before any per-participant accounts are added.
// The program id itself counts as an account.
func FixedAccounts(name string) int {
	switch name {
	case SendBonusToWinners:
		return 5 // state, owner, treasury, system program, program
	case RefundBatch:
		return 4 // state, owner, system program, program
	case Initialize, Subscribe:
		return 4
	default:
		return 3
	}
}

// Builder produces program instructions for one program id and layout
type Builder struct {
	programID solana.PublicKey
	layout    state.LayoutVersion
}

// NewBuilder creates a new instruction builder
func NewBuilder(programID solana.PublicKey, layout state.LayoutVersion) *Builder {
	return &Builder{programID: programID, layout: layout}
}

// ProgramID returns the target program
func (b *Builder) ProgramID() solana.PublicKey {
	return b.programID
}

// InitializeArgs are the arguments of the initialize instruction
type InitializeArgs struct {
	ChallengeID uint64
	Fee         uint64
	Commission  uint8
	// Treasury is only encoded for the treasury layout
	Treasury solana.PublicKey
}

// Initialize creates the challenge account at stateAddr, paid for by owner
func (b *Builder) Initialize(stateAddr, owner solana.PublicKey, args InitializeArgs) (solana.Instruction, error) {
	data, err := b.encode(Initialize, func(enc *bin.Encoder) error {
		if err := enc.WriteUint64(args.ChallengeID, binary.LittleEndian); err != nil {
			return err
		}
		if err := enc.WriteUint64(args.Fee, binary.LittleEndian); err != nil {
			return err
		}
		if err := enc.WriteUint8(args.Commission); err != nil {
			return err
		}
		if b.layout.HasTreasury() {
			return enc.WriteBytes(args.Treasury[:], false)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.instruction(data,
		solana.Meta(stateAddr).WRITE(),
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	), nil
}

// Subscribe adds subscriber to the challenge and moves the entry fee
func (b *Builder) Subscribe(stateAddr, subscriber solana.PublicKey) (solana.Instruction, error) {
	data, err := b.encode(Subscribe, nil)
	if err != nil {
		return nil, err
	}
	return b.instruction(data,
		solana.Meta(stateAddr).WRITE(),
		solana.Meta(subscriber).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	), nil
}

// SetWinnersList appends winners to the challenge's winner list
func (b *Builder) SetWinnersList(stateAddr, owner solana.PublicKey, winners []solana.PublicKey) (solana.Instruction, error) {
	data, err := b.encode(SetWinnersList, func(enc *bin.Encoder) error {
		return writeKeys(enc, winners)
	})
	if err != nil {
		return nil, err
	}
	return b.ownerOnly(data, stateAddr, owner), nil
}

// SendBonusToWinners pays commission to treasury and splits the rest among
// winners. winners must be in the on-chain order.
func (b *Builder) SendBonusToWinners(stateAddr, owner, treasury solana.PublicKey, winners []solana.PublicKey) (solana.Instruction, error) {
	data, err := b.encode(SendBonusToWinners, nil)
	if err != nil {
		return nil, err
	}
	metas := []*solana.AccountMeta{
		solana.Meta(stateAddr).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(treasury).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	for _, w := range winners {
		metas = append(metas, solana.Meta(w).WRITE())
	}
	return b.instruction(data, metas...), nil
}

// RefundBatch returns the entry fee to each listed subscriber
func (b *Builder) RefundBatch(stateAddr, owner solana.PublicKey, subscribers []solana.PublicKey) (solana.Instruction, error) {
	data, err := b.encode(RefundBatch, func(enc *bin.Encoder) error {
		return writeKeys(enc, subscribers)
	})
	if err != nil {
		return nil, err
	}
	metas := []*solana.AccountMeta{
		solana.Meta(stateAddr).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}
	for _, s := range subscribers {
		metas = append(metas, solana.Meta(s).WRITE())
	}
	return b.instruction(data, metas...), nil
}

// SetFee changes the entry fee
func (b *Builder) SetFee(stateAddr, owner solana.PublicKey, fee uint64) (solana.Instruction, error) {
	data, err := b.encode(SetFee, func(enc *bin.Encoder) error {
		return enc.WriteUint64(fee, binary.LittleEndian)
	})
	if err != nil {
		return nil, err
	}
	return b.ownerOnly(data, stateAddr, owner), nil
}

// SetCommission changes the commission percentage
func (b *Builder) SetCommission(stateAddr, owner solana.PublicKey, pct uint8) (solana.Instruction, error) {
	data, err := b.encode(SetCommission, func(enc *bin.Encoder) error {
		return enc.WriteUint8(pct)
	})
	if err != nil {
		return nil, err
	}
	return b.ownerOnly(data, stateAddr, owner), nil
}

// SetOwner adds a co-owner
func (b *Builder) SetOwner(stateAddr, owner, newOwner solana.PublicKey) (solana.Instruction, error) {
	return b.keyArg(SetOwner, stateAddr, owner, newOwner)
}

// RemoveOwner removes a co-owner
func (b *Builder) RemoveOwner(stateAddr, owner, user solana.PublicKey) (solana.Instruction, error) {
	return b.keyArg(RemoveOwner, stateAddr, owner, user)
}

// CancelSubscription removes subscriber without refunding
func (b *Builder) CancelSubscription(stateAddr, owner, subscriber solana.PublicKey) (solana.Instruction, error) {
	return b.keyArg(CancelSubscription, stateAddr, owner, subscriber)
}

// SetTreasury rotates the treasury wallet. Treasury layout only.
func (b *Builder) SetTreasury(stateAddr, owner, treasury solana.PublicKey) (solana.Instruction, error) {
	if !b.layout.HasTreasury() {
		return nil, fmt.Errorf("%s is not available for the %s layout", SetTreasury, b.layout)
	}
	return b.keyArg(SetTreasury, stateAddr, owner, treasury)
}

// SetStatus moves the challenge to status
func (b *Builder) SetStatus(stateAddr, owner solana.PublicKey, status state.Status) (solana.Instruction, error) {
	data, err := b.encode(SetStatus, func(enc *bin.Encoder) error {
		return enc.WriteUint8(uint8(status))
	})
	if err != nil {
		return nil, err
	}
	return b.ownerOnly(data, stateAddr, owner), nil
}

func (b *Builder) keyArg(name string, stateAddr, owner, arg solana.PublicKey) (solana.Instruction, error) {
	data, err := b.encode(name, func(enc *bin.Encoder) error {
		return enc.WriteBytes(arg[:], false)
	})
	if err != nil {
		return nil, err
	}
	return b.ownerOnly(data, stateAddr, owner), nil
}

func (b *Builder) ownerOnly(data []byte, stateAddr, owner solana.PublicKey) solana.Instruction {
	return b.instruction(data,
		solana.Meta(stateAddr).WRITE(),
		solana.Meta(owner).SIGNER(),
	)
}

func (b *Builder) instruction(data []byte, metas ...*solana.AccountMeta) solana.Instruction {
	return solana.NewInstruction(b.programID, solana.AccountMetaSlice(metas), data)
}

func (b *Builder) encode(name string, args func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	disc := Discriminator(name)
	buf.Write(disc[:])
	if args != nil {
		if err := args(bin.NewBorshEncoder(buf)); err != nil {
			return nil, fmt.Errorf("failed to encode %s arguments: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

func writeKeys(enc *bin.Encoder, keys []solana.PublicKey) error {
	if err := enc.WriteUint32(uint32(len(keys)), binary.LittleEndian); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.WriteBytes(k[:], false); err != nil {
			return err
		}
	}
	return nil
}
