package state

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/policy"
)

// Decoder turns raw account bytes into a State for one layout version.
// It never panics and never reads past the end of the buffer.
type Decoder struct {
	layout LayoutVersion
	mode   policy.Mode
}

// NewDecoder creates a decoder for layout. mode controls what happens when a
// vector length prefix is corrupt: FailClosed rejects the record,
// FallbackValue returns the header with empty vectors and Degraded set.
func NewDecoder(layout LayoutVersion, mode policy.Mode) *Decoder {
	if layout == "" {
		layout = LayoutTreasury
	}
	return &Decoder{layout: layout, mode: mode}
}

// Layout returns the layout version this decoder reads
func (d *Decoder) Layout() LayoutVersion {
	return d.layout
}

// Decode parses data. Header checks (size and discriminator) always fail
// closed regardless of policy.
func (d *Decoder) Decode(data []byte) (*State, error) {
	header := d.layout.HeaderSize()
	if len(data) < header {
		return nil, relerrors.Decode(relerrors.ReasonTooSmall,
			fmt.Sprintf("account data is %d bytes, %s header needs %d", len(data), d.layout, header))
	}
	if !bytes.Equal(data[:DiscriminatorSize], AccountDiscriminator[:]) {
		return nil, relerrors.Decode(relerrors.ReasonBadDiscriminator,
			fmt.Sprintf("account discriminator %x does not match %x", data[:DiscriminatorSize], AccountDiscriminator[:]))
	}

	dec := bin.NewBorshDecoder(data[DiscriminatorSize:])
	s := &State{Layout: d.layout}
	if err := d.readHeader(dec, s); err != nil {
		if relerrors.IsKind(err, relerrors.KindDecode) {
			return nil, err
		}
		return nil, relerrors.Decode(relerrors.ReasonTooSmall, err.Error())
	}
	s.VecOffset = DiscriminatorSize + int(dec.Position())

	var err error
	if s.Owners, err = readKeys(dec, "owners"); err == nil {
		if s.Subscribers, err = readKeys(dec, "subscribers"); err == nil {
			s.Winners, err = readKeys(dec, "winners")
		}
	}
	if err != nil {
		if d.mode != policy.FallbackValue {
			return nil, err
		}
		s.Owners, s.Subscribers, s.Winners = nonNil(s.Owners), nonNil(s.Subscribers), nonNil(s.Winners)
		s.Degraded = true
	}
	return s, nil
}

func (d *Decoder) readHeader(dec *bin.Decoder, s *State) error {
	var err error
	if s.Version, err = dec.ReadUint8(); err != nil {
		return err
	}
	if s.Bump, err = dec.ReadUint8(); err != nil {
		return err
	}
	if s.ChallengeID, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if s.Fee, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if s.Commission, err = dec.ReadUint8(); err != nil {
		return err
	}
	status, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	s.Status = Status(status)
	if s.Owner, err = readKey(dec); err != nil {
		return err
	}
	if d.layout.HasTreasury() {
		if s.Treasury, err = readKey(dec); err != nil {
			return err
		}
		flag, err := dec.ReadUint8()
		if err != nil {
			return err
		}
		if flag > 1 {
			return relerrors.Decode(relerrors.ReasonBadFlag, fmt.Sprintf("paid flag byte is %d", flag))
		}
		s.Paid = flag == 1
	}
	s.OpCounter, err = dec.ReadUint64(binary.LittleEndian)
	return err
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(PubkeySize)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func readKeys(dec *bin.Decoder, field string) ([]solana.PublicKey, error) {
	if dec.Remaining() < VecLenSize {
		return nil, relerrors.Decode(relerrors.ReasonBadVectorLength,
			fmt.Sprintf("%s: length prefix needs %d bytes, %d remain", field, VecLenSize, dec.Remaining()))
	}
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, relerrors.Decode(relerrors.ReasonBadVectorLength, fmt.Sprintf("%s: %v", field, err))
	}
	need := uint64(n) * PubkeySize
	if need > uint64(dec.Remaining()) {
		return nil, relerrors.Decode(relerrors.ReasonBadVectorLength,
			fmt.Sprintf("%s: declared %d entries (%d bytes), %d remain", field, n, need, dec.Remaining()))
	}

	keys := make([]solana.PublicKey, n)
	for i := range keys {
		if keys[i], err = readKey(dec); err != nil {
			return nil, relerrors.Decode(relerrors.ReasonBadVectorLength, fmt.Sprintf("%s[%d]: %v", field, i, err))
		}
	}
	return keys, nil
}

func nonNil(keys []solana.PublicKey) []solana.PublicKey {
	if keys == nil {
		return []solana.PublicKey{}
	}
	return keys
}
