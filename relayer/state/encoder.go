package state

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Encode serializes s in the byte layout of s.Layout, padded with zeroes to
// the full allocated account size. It is the inverse of Decoder.Decode and is
// used by tests to fabricate ledger accounts.
func Encode(s *State) ([]byte, error) {
	layout := s.Layout
	if layout == "" {
		layout = LayoutTreasury
	}
	if len(s.Owners) > MaxOwners || len(s.Subscribers) > MaxSubscribers || len(s.Winners) > MaxWinners {
		return nil, fmt.Errorf("vectors exceed capacity: owners=%d subscribers=%d winners=%d",
			len(s.Owners), len(s.Subscribers), len(s.Winners))
	}

	buf := new(bytes.Buffer)
	buf.Grow(layout.AccountSize())
	enc := bin.NewBorshEncoder(buf)

	steps := []func() error{
		func() error { return enc.WriteBytes(AccountDiscriminator[:], false) },
		func() error { return enc.WriteUint8(s.Version) },
		func() error { return enc.WriteUint8(s.Bump) },
		func() error { return enc.WriteUint64(s.ChallengeID, binary.LittleEndian) },
		func() error { return enc.WriteUint64(s.Fee, binary.LittleEndian) },
		func() error { return enc.WriteUint8(s.Commission) },
		func() error { return enc.WriteUint8(uint8(s.Status)) },
		func() error { return enc.WriteBytes(s.Owner[:], false) },
	}
	if layout.HasTreasury() {
		steps = append(steps,
			func() error { return enc.WriteBytes(s.Treasury[:], false) },
			func() error { return enc.WriteBool(s.Paid) },
		)
	}
	steps = append(steps,
		func() error { return enc.WriteUint64(s.OpCounter, binary.LittleEndian) },
		func() error { return writeKeys(enc, s.Owners) },
		func() error { return writeKeys(enc, s.Subscribers) },
		func() error { return writeKeys(enc, s.Winners) },
	)
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	out := buf.Bytes()
	if pad := layout.AccountSize() - len(out); pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	return out, nil
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
