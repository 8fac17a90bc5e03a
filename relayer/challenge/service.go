// Package challenge implements the relayer's operations on challenge
// accounts: cached and fresh reads, and every mutation the program offers,
// each guarded by the program's own preconditions so doomed transactions are
// rejected before they cost a fee.
package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/snzup/subscription-relayer/relayer/cache"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/gate"
	"github.com/snzup/subscription-relayer/relayer/ledger"
	"github.com/snzup/subscription-relayer/relayer/pipeline"
	"github.com/snzup/subscription-relayer/relayer/program"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// DefaultMaxTransactionAccounts is the number of distinct accounts one
// transaction may reference
const DefaultMaxTransactionAccounts = 64

// Ledger reads accounts and landed transactions
type Ledger interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*ledger.Account, error)
	TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error)
}

// Submitter lands instructions signed by the relayer key
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	FeePayer() solana.PublicKey
}

// RentFloor returns the rent-exempt minimum of a challenge account
type RentFloor interface {
	Get(ctx context.Context) (uint64, error)
}

// Config holds the per-deployment settings of the service
type Config struct {
	MaxTransactionAccounts int
	// Envelope lists the compute budget instructions the pipeline prepends,
	// which take room in every transaction
	Envelope program.Envelope
	// LegacyTreasury receives commission under the legacy layout, whose
	// accounts do not record a treasury
	LegacyTreasury solana.PublicKey
}

// Ref names one challenge account
type Ref struct {
	Owner       solana.PublicKey
	ChallengeID uint64
}

// Receipt describes a confirmed mutation
type Receipt struct {
	Operation string
	Address   solana.PublicKey
	Signature solana.Signature
	Slot      uint64
	Attempts  int
	// Replayed is set when the result was served from the idempotency store
	Replayed bool
}

// Service runs challenge operations
type Service struct {
	cfg       Config
	deriver   *state.Deriver
	decoder   *state.Decoder
	builder   *program.Builder
	ledger    Ledger
	submitter Submitter
	rent      RentFloor
	reads     *cache.ReadCache
	idem      *cache.IdempotencyStore
	exclusive *gate.Gate
	logger    zerolog.Logger
}

// Deps are the collaborators of a Service
type Deps struct {
	Deriver     *state.Deriver
	Decoder     *state.Decoder
	Builder     *program.Builder
	Ledger      Ledger
	Submitter   Submitter
	Rent        RentFloor
	Reads       *cache.ReadCache
	Idempotency *cache.IdempotencyStore
	Exclusive   *gate.Gate
}

// New creates a new Service
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Deriver == nil || deps.Decoder == nil || deps.Builder == nil {
		return nil, relerrors.Config("challenge service needs a deriver, a decoder and an instruction builder", nil)
	}
	if deps.Ledger == nil || deps.Submitter == nil || deps.Rent == nil {
		return nil, relerrors.Config("challenge service needs a ledger, a submitter and a rent floor", nil)
	}
	if cfg.MaxTransactionAccounts <= 0 {
		cfg.MaxTransactionAccounts = DefaultMaxTransactionAccounts
	}
	log := logger.With().Str("component", "challenge_service").Logger()
	if deps.Reads == nil {
		deps.Reads = cache.NewReadCache(1024, 2*time.Second, nil, log)
	}
	if deps.Idempotency == nil {
		deps.Idempotency = cache.NewIdempotencyStore(10*time.Minute, 10_000, nil, log)
	}
	if deps.Exclusive == nil {
		deps.Exclusive = gate.NewExclusive("distribution", gate.DefaultMaxQueue, nil)
	}
	return &Service{
		cfg:       cfg,
		deriver:   deps.Deriver,
		decoder:   deps.Decoder,
		builder:   deps.Builder,
		ledger:    deps.Ledger,
		submitter: deps.Submitter,
		rent:      deps.Rent,
		reads:     deps.Reads,
		idem:      deps.Idempotency,
		exclusive: deps.Exclusive,
		logger:    log,
	}, nil
}

// Relayer returns the key that signs every mutation
func (s *Service) Relayer() solana.PublicKey {
	return s.submitter.FeePayer()
}

// Layout returns the account layout the service decodes
func (s *Service) Layout() state.LayoutVersion {
	return s.decoder.Layout()
}

// Address derives the account address of ref
func (s *Service) Address(ref Ref) (solana.PublicKey, uint8, error) {
	return s.deriver.Derive(ref.Owner, ref.ChallengeID)
}

// GetState returns the decoded account of ref. Unless fresh is set, a
// snapshot younger than the read cache ttl may be returned.
func (s *Service) GetState(ctx context.Context, ref Ref, fresh bool) (*state.Snapshot, error) {
	addr, _, err := s.Address(ref)
	if err != nil {
		return nil, err
	}
	if fresh {
		return s.load(ctx, addr)
	}
	return s.reads.Load(ctx, addr, func() (*state.Snapshot, error) {
		return s.load(ctx, addr)
	})
}

// TransactionLogs returns the program logs of a landed transaction
func (s *Service) TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error) {
	return s.ledger.TransactionLogs(ctx, sig)
}

// load reads and decodes addr from the ledger and refreshes the read cache
func (s *Service) load(ctx context.Context, addr solana.PublicKey) (*state.Snapshot, error) {
	acc, err := s.ledger.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	st, err := s.decoder.Decode(acc.Data)
	if err != nil {
		var relErr *relerrors.Error
		if relerrors.As(err, &relErr) {
			return nil, relErr.WithContext("address", addr.String())
		}
		return nil, err
	}
	if st.Degraded {
		s.logger.Warn().Str("address", addr.String()).Msg("account decoded with substituted empty lists")
	}

	snap := &state.Snapshot{
		Address:   addr,
		State:     st,
		Lamports:  acc.Lamports,
		Slot:      acc.Slot,
		FetchedAt: time.Now(),
	}
	s.reads.Set(addr, snap)
	return snap, nil
}

// submit lands ix and drops the cached snapshot of addr whatever the outcome
func (s *Service) submit(ctx context.Context, op string, addr solana.PublicKey, ix solana.Instruction) (*Receipt, error) {
	defer s.reads.Invalidate(addr)

	res, err := s.submitter.Submit(ctx, pipeline.Request{Operation: op, Instruction: ix})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Operation: op,
		Address:   addr,
		Signature: res.Signature,
		Slot:      res.Slot,
		Attempts:  res.Attempts,
	}, nil
}

// mutate is the write path shared by the single-instruction operations: a
// fresh read, the precondition check inside prepare, then submission. A
// caller supplied idempotency key in ctx makes repeats return the first
// receipt.
func (s *Service) mutate(ctx context.Context, op string, ref Ref, prepare func(snap *state.Snapshot) (solana.Instruction, error)) (*Receipt, error) {
	addr, _, err := s.Address(ref)
	if err != nil {
		return nil, err
	}
	run := func() (*Receipt, error) {
		snap, err := s.load(ctx, addr)
		if err != nil {
			return nil, err
		}
		ix, err := prepare(snap)
		if err != nil {
			return nil, err
		}
		return s.submit(ctx, op, addr, ix)
	}
	return s.remember(ctx, callerKey(ctx, op, addr), run)
}

// remember runs fn through the idempotency store when key is set
func (s *Service) remember(ctx context.Context, key string, fn func() (*Receipt, error)) (*Receipt, error) {
	if key == "" {
		return fn()
	}
	r, cached, err := cache.Remember(ctx, s.idem, key, fn)
	if err != nil {
		return nil, err
	}
	if !cached {
		return r, nil
	}
	replay := *r
	replay.Replayed = true
	return &replay, nil
}

func (s *Service) requireOwner(st *state.State) error {
	if !st.Owner.Equals(s.Relayer()) {
		return relerrors.Validationf(relerrors.ReasonUnauthorized,
			"relayer %s is not the owner of challenge %d", s.Relayer(), st.ChallengeID)
	}
	return nil
}

func (s *Service) requireAllowedUser(st *state.State) error {
	if !st.IsAllowedUser(s.Relayer()) {
		return relerrors.Validationf(relerrors.ReasonUnauthorized,
			"relayer %s is neither owner nor co-owner of challenge %d", s.Relayer(), st.ChallengeID)
	}
	return nil
}

func requireNotClosed(st *state.State) error {
	if st.Status == state.StatusClosed {
		return relerrors.Validationf(relerrors.ReasonInvalidStatus, "challenge %d is closed", st.ChallengeID)
	}
	return nil
}

func requirePending(st *state.State) error {
	if st.Status != state.StatusPending {
		return relerrors.Validationf(relerrors.ReasonInvalidStatus,
			"challenge %d is %s, only a pending challenge can be changed", st.ChallengeID, st.Status)
	}
	return nil
}

// checkParticipants rejects operations whose participants would not fit in
// one transaction, by distinct accounts or by serialized size
func (s *Service) checkParticipants(op string, n int) error {
	limit := program.MaxParticipants(op, s.cfg.MaxTransactionAccounts, s.cfg.Envelope)
	if n > limit {
		return relerrors.Validation(relerrors.ReasonTooManyParticipants,
			fmt.Sprintf("%s with %d participants does not fit in one transaction, at most %d fit",
				op, n, limit)).
			WithContext("max_participants", limit).
			WithContext("transaction_bytes", program.TransactionSize(op, n, s.cfg.Envelope))
	}
	return nil
}

func wrapBuild(op string, err error) error {
	return relerrors.Wrapper(relerrors.ReasonInvalidInput, "failed to build "+op+" instruction", err)
}
