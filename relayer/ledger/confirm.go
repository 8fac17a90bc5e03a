package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

// Confirmation describes a transaction that reached the target commitment
type Confirmation struct {
	Signature solana.Signature
	Slot      uint64
	Status    rpc.ConfirmationStatusType
}

// ExecutionError is returned when a transaction landed but the program
// rejected it.
type ExecutionError struct {
	Signature solana.Signature
	Slot      uint64
	Err       interface{}
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed in slot %d: %v", e.Signature, e.Slot, e.Err)
}

func confirmationRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentFinalized:
		return 3
	default:
		return 2
	}
}

// ConfirmTransaction polls until sig reaches the client's commitment, the
// program rejects it, the block height passes lastValidBlockHeight or ctx is
// done. Passing the horizon yields a transient error with reason
// BlockhashExpired; the caller must rebuild with a fresh anchor.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (*Confirmation, error) {
	want := commitmentRank(c.commitment)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.SignatureStatus(ctx, sig)
		if err != nil {
			return nil, err
		}
		if status != nil {
			if status.Err != nil {
				return nil, &ExecutionError{Signature: sig, Slot: status.Slot, Err: status.Err}
			}
			if confirmationRank(status.ConfirmationStatus) >= want {
				return &Confirmation{Signature: sig, Slot: status.Slot, Status: status.ConfirmationStatus}, nil
			}
		}

		// only an unseen signature can still expire
		if status == nil && lastValidBlockHeight > 0 {
			height, err := c.BlockHeight(ctx)
			if err == nil && height > lastValidBlockHeight {
				return nil, relerrors.Transient(relerrors.ReasonBlockhashExpired,
					fmt.Sprintf("block height %d passed last valid height %d before %s landed", height, lastValidBlockHeight, sig), nil)
			}
		}

		select {
		case <-ctx.Done():
			return nil, relerrors.Transient(relerrors.ReasonCanceled, fmt.Sprintf("stopped waiting for %s", sig), ctx.Err())
		case <-ticker.C:
		}
	}
}
