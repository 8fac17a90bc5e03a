package challenge

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/snzup/subscription-relayer/relayer/ledger/ledgertest"
	"github.com/snzup/subscription-relayer/relayer/policy"
	"github.com/snzup/subscription-relayer/relayer/program"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// emulator applies the state changes of the program's instructions to the
// fake ledger's accounts when a transaction lands
type emulator struct {
	t         *testing.T
	fake      *ledgertest.FakeRPC
	programID solana.PublicKey
	layout    state.LayoutVersion
}

func (e *emulator) onSend(tx *solana.Transaction) interface{} {
	for _, ci := range tx.Message.Instructions {
		pid, err := tx.Message.ResolveProgramIDIndex(ci.ProgramIDIndex)
		if err != nil || !pid.Equals(e.programID) {
			continue
		}
		accounts := make([]solana.PublicKey, len(ci.Accounts))
		for i, idx := range ci.Accounts {
			accounts[i] = tx.Message.AccountKeys[idx]
		}
		e.apply(accounts, []byte(ci.Data))
	}
	return nil
}

func is(data []byte, name string) bool {
	d := program.Discriminator(name)
	return bytes.Equal(data[:8], d[:])
}

func readKeys(data []byte) []solana.PublicKey {
	n := binary.LittleEndian.Uint32(data)
	out := make([]solana.PublicKey, n)
	for i := range out {
		copy(out[i][:], data[4+32*i:])
	}
	return out
}

func (e *emulator) apply(accounts []solana.PublicKey, data []byte) {
	addr := accounts[0]
	args := data[8:]

	if is(data, program.Initialize) {
		st := &state.State{
			Layout:      e.layout,
			Version:     1,
			ChallengeID: binary.LittleEndian.Uint64(args),
			Fee:         binary.LittleEndian.Uint64(args[8:]),
			Commission:  args[16],
			Owner:       accounts[1],
		}
		if e.layout.HasTreasury() {
			copy(st.Treasury[:], args[17:])
		}
		e.store(addr, st, e.fake.RentMinimum)
		return
	}

	acc, ok := e.fake.Account(addr)
	require.True(e.t, ok, "instruction for unknown account %s", addr)
	st, err := state.NewDecoder(e.layout, policy.FailClosed).Decode(acc.Data)
	require.NoError(e.t, err)
	lamports := acc.Lamports

	switch {
	case is(data, program.Subscribe):
		st.Subscribers = append(st.Subscribers, accounts[1])
		lamports += st.Fee
	case is(data, program.SetWinnersList):
		winners := readKeys(args)
		st.Winners = append(st.Winners, winners...)
		st.OpCounter += 1 + uint64(len(winners))
	case is(data, program.SetFee):
		st.Fee = binary.LittleEndian.Uint64(args)
		st.OpCounter++
	case is(data, program.SendBonusToWinners):
		st.Paid = true
		st.Status = state.StatusClosed
		st.OpCounter += 1 + uint64(len(st.Winners))
		lamports = e.fake.RentMinimum
	case is(data, program.RefundBatch):
		refunded := readKeys(args)
		kept := st.Subscribers[:0]
		for _, sub := range st.Subscribers {
			found := false
			for _, r := range refunded {
				found = found || r.Equals(sub)
			}
			if !found {
				kept = append(kept, sub)
			}
		}
		st.Subscribers = kept
		st.OpCounter += 1 + uint64(len(refunded))
		lamports -= st.Fee * uint64(len(refunded))
	default:
		st.OpCounter++
	}
	e.store(addr, st, lamports)
}

func (e *emulator) store(addr solana.PublicKey, st *state.State, lamports uint64) {
	raw, err := state.Encode(st)
	require.NoError(e.t, err)
	e.fake.SetAccount(addr, raw, lamports)
}
