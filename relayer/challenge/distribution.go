package challenge

import (
	"context"
	"math/bits"

	"github.com/gagliardetto/solana-go"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/program"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// Payout is the split a distribution performs, computed with the program's
// integer arithmetic from the balance observed before submission
type Payout struct {
	Available  uint64
	Commission uint64
	BonusEach  uint64
	Leftover   uint64
	Treasury   solana.PublicKey
	Winners    []solana.PublicKey
}

// DistributionResult is the outcome of SendBonusToWinners. AlreadyDone is
// set, and Receipt left nil, when the challenge had already paid out.
type DistributionResult struct {
	*Receipt
	AlreadyDone bool
	Payout      *Payout
}

// ComputePayout splits lamports above rentFloor the way the program does:
// commission to treasury, an equal bonus per winner, and the rounding
// remainder to treasury as well.
func ComputePayout(lamports, rentFloor uint64, commission uint8, winners int) (Payout, bool) {
	if lamports <= rentFloor || winners <= 0 {
		return Payout{}, false
	}
	available := lamports - rentFloor
	// available*rate/100 without overflowing: available = 100q + r
	q, r := available/100, available%100
	fee := q*uint64(commission) + r*uint64(commission)/100
	pool := available - fee
	each := pool / uint64(winners)
	return Payout{
		Available:  available,
		Commission: fee,
		BonusEach:  each,
		Leftover:   pool - each*uint64(winners),
	}, true
}

// SendBonusToWinners distributes the challenge balance. Distributions are
// serialized process-wide; each one re-reads the account inside the
// exclusive gate, so a challenge that already paid out yields an AlreadyDone
// result instead of a second submission.
func (s *Service) SendBonusToWinners(ctx context.Context, ref Ref) (*DistributionResult, error) {
	addr, _, err := s.Address(ref)
	if err != nil {
		return nil, err
	}

	var out *DistributionResult
	err = s.exclusive.Run(ctx, func(ctx context.Context) error {
		snap, err := s.load(ctx, addr)
		if err != nil {
			return err
		}
		st := snap.State
		if st.AlreadyPaid() {
			s.logger.Info().Str("address", addr.String()).Msg("challenge already paid out, skipping distribution")
			out = &DistributionResult{AlreadyDone: true}
			return nil
		}

		payout, ix, err := s.prepareDistribution(ctx, snap)
		if err != nil {
			return err
		}

		key := counterKey(program.SendBonusToWinners, addr, st.OpCounter, nil)
		if ck := callerKey(ctx, program.SendBonusToWinners, addr); ck != "" {
			key = ck
		}
		receipt, err := s.remember(ctx, key, func() (*Receipt, error) {
			return s.submit(ctx, program.SendBonusToWinners, addr, ix)
		})
		if err != nil {
			return err
		}
		out = &DistributionResult{Receipt: receipt, Payout: payout}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) prepareDistribution(ctx context.Context, snap *state.Snapshot) (*Payout, solana.Instruction, error) {
	st := snap.State
	if err := s.requireAllowedUser(st); err != nil {
		return nil, nil, err
	}
	if st.Status == state.StatusCanceled {
		return nil, nil, relerrors.Validationf(relerrors.ReasonInvalidStatus, "challenge %d is canceled", st.ChallengeID)
	}
	if len(st.Winners) == 0 {
		return nil, nil, relerrors.Validationf(relerrors.ReasonEmptyWinners, "challenge %d has no winners", st.ChallengeID)
	}
	if err := s.checkParticipants(program.SendBonusToWinners, len(st.Winners)); err != nil {
		return nil, nil, err
	}

	treasury := st.Treasury
	if !st.Layout.HasTreasury() {
		treasury = s.cfg.LegacyTreasury
	}
	if treasury.IsZero() {
		return nil, nil, relerrors.Config("no treasury to receive the commission", nil)
	}

	floor, err := s.rent.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	payout, ok := ComputePayout(snap.Lamports, floor, st.Commission, len(st.Winners))
	if !ok {
		return nil, nil, insufficientBalance(snap, floor, 0)
	}
	payout.Treasury = treasury
	payout.Winners = st.Winners

	ix, err := s.builder.SendBonusToWinners(snap.Address, s.Relayer(), treasury, st.Winners)
	if err != nil {
		return nil, nil, wrapBuild(program.SendBonusToWinners, err)
	}
	return &payout, ix, nil
}

// RefundBatch returns the entry fee to each listed subscriber and removes
// them from the challenge. The list is checked against the account's size
// limit before anything is read from the ledger.
func (s *Service) RefundBatch(ctx context.Context, ref Ref, subscribers []solana.PublicKey) (*Receipt, error) {
	if len(subscribers) == 0 {
		return nil, relerrors.Validation(relerrors.ReasonEmptySubscribers, "subscriber list is empty")
	}
	if err := s.checkParticipants(program.RefundBatch, len(subscribers)); err != nil {
		return nil, err
	}

	addr, _, err := s.Address(ref)
	if err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, addr)
	if err != nil {
		return nil, err
	}
	st := snap.State
	if err := s.requireOwner(st); err != nil {
		return nil, err
	}
	for _, sub := range subscribers {
		if !st.HasSubscriber(sub) {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidInput,
				"%s is not subscribed to challenge %d", sub, st.ChallengeID)
		}
	}

	floor, err := s.rent.Get(ctx)
	if err != nil {
		return nil, err
	}
	hi, need := bits.Mul64(st.Fee, uint64(len(subscribers)))
	if hi != 0 {
		return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "refund total overflows")
	}
	if snap.Lamports <= floor || snap.Lamports-floor < need {
		return nil, insufficientBalance(snap, floor, need)
	}

	ix, err := s.builder.RefundBatch(addr, s.Relayer(), subscribers)
	if err != nil {
		return nil, wrapBuild(program.RefundBatch, err)
	}

	key := counterKey(program.RefundBatch, addr, st.OpCounter, subscribers)
	if ck := callerKey(ctx, program.RefundBatch, addr); ck != "" {
		key = ck
	}
	return s.remember(ctx, key, func() (*Receipt, error) {
		return s.submit(ctx, program.RefundBatch, addr, ix)
	})
}

func insufficientBalance(snap *state.Snapshot, floor, need uint64) error {
	var spendable uint64
	if snap.Lamports > floor {
		spendable = snap.Lamports - floor
	}
	return relerrors.Validationf(relerrors.ReasonInsufficientContractBalance,
		"challenge %d holds %d lamports, %d spendable above the rent floor of %d",
		snap.State.ChallengeID, snap.Lamports, spendable, floor).
		WithContext("required", need)
}
