package challenge

import (
	"context"

	"github.com/gagliardetto/solana-go"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/program"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// InitializeParams describe a new challenge owned by the relayer key
type InitializeParams struct {
	ChallengeID uint64
	Fee         uint64
	Commission  uint8
	Treasury    solana.PublicKey
}

// Initialize creates the challenge account. The address must not exist yet.
func (s *Service) Initialize(ctx context.Context, p InitializeParams) (*Receipt, error) {
	if p.Fee == 0 {
		return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "fee must be greater than zero")
	}
	if p.Commission > 100 {
		return nil, relerrors.Validationf(relerrors.ReasonInvalidInput, "commission %d exceeds 100 percent", p.Commission)
	}
	if s.Layout().HasTreasury() && p.Treasury.IsZero() {
		return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "treasury is required")
	}

	owner := s.Relayer()
	addr, _, err := s.Address(Ref{Owner: owner, ChallengeID: p.ChallengeID})
	if err != nil {
		return nil, err
	}

	return s.remember(ctx, callerKey(ctx, program.Initialize, addr), func() (*Receipt, error) {
		_, err := s.load(ctx, addr)
		switch {
		case err == nil:
			return nil, relerrors.Validationf(relerrors.ReasonAlreadyInitialized,
				"challenge %d of %s already exists at %s", p.ChallengeID, owner, addr)
		case !relerrors.IsKind(err, relerrors.KindNotFound):
			return nil, err
		}

		ix, err := s.builder.Initialize(addr, owner, program.InitializeArgs{
			ChallengeID: p.ChallengeID,
			Fee:         p.Fee,
			Commission:  p.Commission,
			Treasury:    p.Treasury,
		})
		if err != nil {
			return nil, wrapBuild(program.Initialize, err)
		}
		return s.submit(ctx, program.Initialize, addr, ix)
	})
}

// Subscribe enrols the relayer key as a subscriber, paying the entry fee
func (s *Service) Subscribe(ctx context.Context, ref Ref) (*Receipt, error) {
	return s.mutate(ctx, program.Subscribe, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		st := snap.State
		if st.Status != state.StatusPending {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidStatus,
				"challenge %d is %s, subscriptions are only accepted while pending", st.ChallengeID, st.Status)
		}
		if len(st.Subscribers) >= state.MaxSubscribers {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidInput,
				"challenge %d already has %d subscribers", st.ChallengeID, state.MaxSubscribers)
		}
		if st.HasSubscriber(s.Relayer()) {
			return nil, relerrors.Validationf(relerrors.ReasonAlreadySubscribed,
				"%s is already subscribed to challenge %d", s.Relayer(), st.ChallengeID)
		}
		ix, err := s.builder.Subscribe(snap.Address, s.Relayer())
		if err != nil {
			return nil, wrapBuild(program.Subscribe, err)
		}
		return ix, nil
	})
}

// SetWinners appends winners, in payout order, to the challenge's list
func (s *Service) SetWinners(ctx context.Context, ref Ref, winners []solana.PublicKey) (*Receipt, error) {
	if len(winners) == 0 {
		return nil, relerrors.Validation(relerrors.ReasonEmptyWinners, "winners list is empty")
	}
	seen := make(map[solana.PublicKey]struct{}, len(winners))
	for _, w := range winners {
		if w.IsZero() {
			return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "winner address must not be empty")
		}
		if _, dup := seen[w]; dup {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidInput, "winner %s is listed twice", w)
		}
		seen[w] = struct{}{}
	}

	return s.mutate(ctx, program.SetWinnersList, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		st := snap.State
		if err := s.requireOwner(st); err != nil {
			return nil, err
		}
		if err := requireNotClosed(st); err != nil {
			return nil, err
		}
		for _, w := range winners {
			if st.HasWinner(w) {
				return nil, relerrors.Validationf(relerrors.ReasonInvalidInput, "%s is already a winner", w)
			}
		}
		if total := len(st.Winners) + len(winners); total > state.MaxWinners {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidInput,
				"challenge %d would have %d winners, at most %d are allowed", st.ChallengeID, total, state.MaxWinners)
		}
		ix, err := s.builder.SetWinnersList(snap.Address, s.Relayer(), winners)
		if err != nil {
			return nil, wrapBuild(program.SetWinnersList, err)
		}
		return ix, nil
	})
}

// SetFee changes the entry fee of a pending challenge
func (s *Service) SetFee(ctx context.Context, ref Ref, fee uint64) (*Receipt, error) {
	if fee == 0 {
		return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "fee must be greater than zero")
	}
	return s.mutate(ctx, program.SetFee, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		if err := s.requireOwner(snap.State); err != nil {
			return nil, err
		}
		if err := requirePending(snap.State); err != nil {
			return nil, err
		}
		ix, err := s.builder.SetFee(snap.Address, s.Relayer(), fee)
		if err != nil {
			return nil, wrapBuild(program.SetFee, err)
		}
		return ix, nil
	})
}

// SetCommission changes the commission percentage of a pending challenge
func (s *Service) SetCommission(ctx context.Context, ref Ref, pct uint8) (*Receipt, error) {
	if pct > 100 {
		return nil, relerrors.Validationf(relerrors.ReasonInvalidInput, "commission %d exceeds 100 percent", pct)
	}
	return s.mutate(ctx, program.SetCommission, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		if err := s.requireOwner(snap.State); err != nil {
			return nil, err
		}
		if err := requirePending(snap.State); err != nil {
			return nil, err
		}
		ix, err := s.builder.SetCommission(snap.Address, s.Relayer(), pct)
		if err != nil {
			return nil, wrapBuild(program.SetCommission, err)
		}
		return ix, nil
	})
}

// SetOwner adds a co-owner. Adding an existing co-owner is a no-op on chain.
func (s *Service) SetOwner(ctx context.Context, ref Ref, newOwner solana.PublicKey) (*Receipt, error) {
	if newOwner.IsZero() {
		return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "new owner must not be empty")
	}
	return s.mutate(ctx, program.SetOwner, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		st := snap.State
		if err := s.requireOwner(st); err != nil {
			return nil, err
		}
		if err := requireNotClosed(st); err != nil {
			return nil, err
		}
		if !st.HasOwner(newOwner) && len(st.Owners) >= state.MaxOwners {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidInput,
				"challenge %d already has %d co-owners", st.ChallengeID, state.MaxOwners)
		}
		ix, err := s.builder.SetOwner(snap.Address, s.Relayer(), newOwner)
		if err != nil {
			return nil, wrapBuild(program.SetOwner, err)
		}
		return ix, nil
	})
}

// RemoveOwner removes a co-owner
func (s *Service) RemoveOwner(ctx context.Context, ref Ref, user solana.PublicKey) (*Receipt, error) {
	return s.mutate(ctx, program.RemoveOwner, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		if err := s.requireOwner(snap.State); err != nil {
			return nil, err
		}
		if err := requireNotClosed(snap.State); err != nil {
			return nil, err
		}
		ix, err := s.builder.RemoveOwner(snap.Address, s.Relayer(), user)
		if err != nil {
			return nil, wrapBuild(program.RemoveOwner, err)
		}
		return ix, nil
	})
}

// SetStatus moves the challenge to status. A paid challenge stays closed.
func (s *Service) SetStatus(ctx context.Context, ref Ref, status state.Status) (*Receipt, error) {
	if !status.Valid() {
		return nil, relerrors.Validationf(relerrors.ReasonInvalidStatus, "status %d is not one of 0..3", uint8(status))
	}
	return s.mutate(ctx, program.SetStatus, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		st := snap.State
		if err := s.requireOwner(st); err != nil {
			return nil, err
		}
		if st.AlreadyPaid() && status != state.StatusClosed {
			return nil, relerrors.Validationf(relerrors.ReasonAlreadyPaid,
				"challenge %d has paid out and must stay %s", st.ChallengeID, state.StatusClosed)
		}
		ix, err := s.builder.SetStatus(snap.Address, s.Relayer(), status)
		if err != nil {
			return nil, wrapBuild(program.SetStatus, err)
		}
		return ix, nil
	})
}

// CancelSubscription removes subscriber from the list without refunding
func (s *Service) CancelSubscription(ctx context.Context, ref Ref, subscriber solana.PublicKey) (*Receipt, error) {
	return s.mutate(ctx, program.CancelSubscription, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		if err := s.requireOwner(snap.State); err != nil {
			return nil, err
		}
		if err := requireNotClosed(snap.State); err != nil {
			return nil, err
		}
		ix, err := s.builder.CancelSubscription(snap.Address, s.Relayer(), subscriber)
		if err != nil {
			return nil, wrapBuild(program.CancelSubscription, err)
		}
		return ix, nil
	})
}

// SetTreasury rotates the commission recipient. Treasury layout only.
func (s *Service) SetTreasury(ctx context.Context, ref Ref, treasury solana.PublicKey) (*Receipt, error) {
	if !s.Layout().HasTreasury() {
		return nil, relerrors.Validationf(relerrors.ReasonInvalidInput,
			"the %s layout has no treasury field", s.Layout())
	}
	if treasury.IsZero() {
		return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "treasury must not be empty")
	}
	return s.mutate(ctx, program.SetTreasury, ref, func(snap *state.Snapshot) (solana.Instruction, error) {
		if err := s.requireOwner(snap.State); err != nil {
			return nil, err
		}
		ix, err := s.builder.SetTreasury(snap.Address, s.Relayer(), treasury)
		if err != nil {
			return nil, wrapBuild(program.SetTreasury, err)
		}
		return ix, nil
	})
}
