package api

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/snzup/subscription-relayer/relayer/challenge"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// ChallengeService is the operation surface the HTTP handlers drive
type ChallengeService interface {
	Relayer() solana.PublicKey
	Layout() state.LayoutVersion
	Address(ref challenge.Ref) (solana.PublicKey, uint8, error)
	GetState(ctx context.Context, ref challenge.Ref, fresh bool) (*state.Snapshot, error)
	TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error)

	Initialize(ctx context.Context, p challenge.InitializeParams) (*challenge.Receipt, error)
	Subscribe(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error)
	SetWinners(ctx context.Context, ref challenge.Ref, winners []solana.PublicKey) (*challenge.Receipt, error)
	SendBonusToWinners(ctx context.Context, ref challenge.Ref) (*challenge.DistributionResult, error)
	RefundBatch(ctx context.Context, ref challenge.Ref, subscribers []solana.PublicKey) (*challenge.Receipt, error)
	SetFee(ctx context.Context, ref challenge.Ref, fee uint64) (*challenge.Receipt, error)
	SetCommission(ctx context.Context, ref challenge.Ref, pct uint8) (*challenge.Receipt, error)
	SetStatus(ctx context.Context, ref challenge.Ref, status state.Status) (*challenge.Receipt, error)
	SetTreasury(ctx context.Context, ref challenge.Ref, treasury solana.PublicKey) (*challenge.Receipt, error)
	SetOwner(ctx context.Context, ref challenge.Ref, newOwner solana.PublicKey) (*challenge.Receipt, error)
	RemoveOwner(ctx context.Context, ref challenge.Ref, user solana.PublicKey) (*challenge.Receipt, error)
	CancelSubscription(ctx context.Context, ref challenge.Ref, subscriber solana.PublicKey) (*challenge.Receipt, error)
}

// Prober reports whether the ledger can currently be reached
type Prober interface {
	Probe(ctx context.Context) error
}

var _ ChallengeService = (*challenge.Service)(nil)
