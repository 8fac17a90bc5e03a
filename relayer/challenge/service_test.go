package challenge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snzup/subscription-relayer/relayer/cache"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/gate"
	"github.com/snzup/subscription-relayer/relayer/ledger"
	"github.com/snzup/subscription-relayer/relayer/ledger/ledgertest"
	"github.com/snzup/subscription-relayer/relayer/pipeline"
	"github.com/snzup/subscription-relayer/relayer/policy"
	"github.com/snzup/subscription-relayer/relayer/program"
	"github.com/snzup/subscription-relayer/relayer/state"
)

var testProgramID = solana.MustPublicKeyFromBase58("C2DhNvJ4n4FEDyft6qcK3uDMjoRt5UU9mK41Zmn96VDz")

const rentFloor = 27_290_160

type harness struct {
	svc     *Service
	fake    *ledgertest.FakeRPC
	relayer solana.PublicKey
	idem    *cache.IdempotencyStore
	layout  state.LayoutVersion
}

func newHarness(t *testing.T, layout state.LayoutVersion, cfg Config) *harness {
	t.Helper()
	logger := zerolog.Nop()
	fake := ledgertest.NewFakeRPC()
	fake.OnSend = (&emulator{t: t, fake: fake, programID: testProgramID, layout: layout}).onSend

	retry := relerrors.DefaultRetryPolicy()
	retry.BaseDelay = time.Millisecond
	retry.MaxDelay = 2 * time.Millisecond
	client, err := ledger.NewClient([]ledger.RPC{fake}, ledger.Options{Retry: retry, PollInterval: time.Millisecond}, logger)
	require.NoError(t, err)

	signer, err := pipeline.NewSigner(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	var pipeCfg pipeline.Config
	if cfg.Envelope.ComputeUnitLimit {
		pipeCfg.ComputeUnitLimit = 200_000
	}
	if cfg.Envelope.ComputeUnitPrice {
		pipeCfg.ComputeUnitPrice = 1_000
	}
	pipe := pipeline.New(pipeCfg, client, signer, cache.NewBlockhashCache(time.Minute, nil), nil, nil, logger)

	deriver, err := state.NewDeriver(testProgramID)
	require.NoError(t, err)
	idem := cache.NewIdempotencyStore(10*time.Minute, 100, nil, logger)

	svc, err := New(cfg, Deps{
		Deriver:     deriver,
		Decoder:     state.NewDecoder(layout, policy.FailClosed),
		Builder:     program.NewBuilder(testProgramID, layout),
		Ledger:      client,
		Submitter:   pipe,
		Rent:        ledger.NewRentFloor(client, uint64(layout.AccountSize()), policy.FailClosed, 0, nil, logger),
		Reads:       cache.NewReadCache(16, time.Minute, nil, logger),
		Idempotency: idem,
		Exclusive:   gate.NewExclusive("distribution", gate.DefaultMaxQueue, nil),
	}, logger)
	require.NoError(t, err)

	return &harness{svc: svc, fake: fake, relayer: signer.PublicKey(), idem: idem, layout: layout}
}

// seed stores a challenge owned by the relayer and returns its reference
func (h *harness) seed(t *testing.T, id uint64, lamports uint64, mutate func(st *state.State)) Ref {
	t.Helper()
	ref := Ref{Owner: h.relayer, ChallengeID: id}
	addr, bump, err := h.svc.Address(ref)
	require.NoError(t, err)

	st := &state.State{
		Layout:      h.layout,
		Version:     1,
		Bump:        bump,
		ChallengeID: id,
		Fee:         1_000_000,
		Commission:  10,
		Owner:       h.relayer,
		Treasury:    solana.NewWallet().PublicKey(),
	}
	if mutate != nil {
		mutate(st)
	}
	raw, err := state.Encode(st)
	require.NoError(t, err)
	h.fake.SetAccount(addr, raw, lamports)
	return ref
}

func keys(n int) []solana.PublicKey {
	out := make([]solana.PublicKey, n)
	for i := range out {
		out[i] = solana.NewWallet().PublicKey()
	}
	return out
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var relErr *relerrors.Error
	require.ErrorAs(t, err, &relErr)
	return relErr.Reason
}

func TestInitializeThenRead(t *testing.T) {
	h := newHarness(t, state.LayoutTreasury, Config{})
	treasury := solana.NewWallet().PublicKey()
	ctx := context.Background()

	receipt, err := h.svc.Initialize(ctx, InitializeParams{ChallengeID: 7, Fee: 1_000_000, Commission: 10, Treasury: treasury})
	require.NoError(t, err)

	ref := Ref{Owner: h.relayer, ChallengeID: 7}
	addr, _, err := h.svc.Address(ref)
	require.NoError(t, err)
	assert.Equal(t, addr, receipt.Address)
	assert.False(t, receipt.Signature.IsZero())
	assert.Equal(t, program.Initialize, receipt.Operation)

	snap, err := h.svc.GetState(ctx, ref, false)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, snap.State.Status)
	assert.Equal(t, uint64(1_000_000), snap.State.Fee)
	assert.Equal(t, uint8(10), snap.State.Commission)
	assert.Equal(t, treasury, snap.State.Treasury)
	assert.Empty(t, snap.State.Subscribers)
	assert.Equal(t, uint64(rentFloor), snap.Lamports)

	t.Run("second initialize is rejected before submission", func(t *testing.T) {
		_, err := h.svc.Initialize(ctx, InitializeParams{ChallengeID: 7, Fee: 1, Treasury: treasury})
		assert.Equal(t, relerrors.ReasonAlreadyInitialized, reasonOf(t, err))
		assert.Equal(t, 1, h.fake.SentCount())
	})
}

func TestInitializeValidation(t *testing.T) {
	treasury := solana.NewWallet().PublicKey()
	tests := []struct {
		name   string
		layout state.LayoutVersion
		params InitializeParams
	}{
		{"zero fee", state.LayoutTreasury, InitializeParams{ChallengeID: 1, Commission: 10, Treasury: treasury}},
		{"commission over 100", state.LayoutTreasury, InitializeParams{ChallengeID: 1, Fee: 1, Commission: 101, Treasury: treasury}},
		{"missing treasury", state.LayoutTreasury, InitializeParams{ChallengeID: 1, Fee: 1, Commission: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.layout, Config{})
			_, err := h.svc.Initialize(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, relerrors.IsKind(err, relerrors.KindValidation))
			assert.Zero(t, h.fake.CallCount("getAccountInfo"))
		})
	}

	t.Run("legacy layout needs no treasury", func(t *testing.T) {
		h := newHarness(t, state.LayoutLegacy, Config{})
		_, err := h.svc.Initialize(context.Background(), InitializeParams{ChallengeID: 1, Fee: 1, Commission: 10})
		require.NoError(t, err)

		snap, err := h.svc.GetState(context.Background(), Ref{Owner: h.relayer, ChallengeID: 1}, true)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.State.Fee)
	})
}

func TestGetStateUsesReadCache(t *testing.T) {
	h := newHarness(t, state.LayoutTreasury, Config{})
	ref := h.seed(t, 3, rentFloor, nil)
	ctx := context.Background()

	_, err := h.svc.GetState(ctx, ref, false)
	require.NoError(t, err)
	_, err = h.svc.GetState(ctx, ref, false)
	require.NoError(t, err)
	assert.Equal(t, 1, h.fake.CallCount("getAccountInfo"))

	_, err = h.svc.GetState(ctx, ref, true)
	require.NoError(t, err)
	assert.Equal(t, 2, h.fake.CallCount("getAccountInfo"))

	t.Run("mutation invalidates the snapshot", func(t *testing.T) {
		_, err := h.svc.SetFee(ctx, ref, 42)
		require.NoError(t, err)

		snap, err := h.svc.GetState(ctx, ref, false)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), snap.State.Fee)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := h.svc.GetState(ctx, Ref{Owner: h.relayer, ChallengeID: 999}, false)
		assert.True(t, relerrors.IsKind(err, relerrors.KindNotFound))
	})

	t.Run("corrupt account fails closed", func(t *testing.T) {
		addr, _, err := h.svc.Address(Ref{Owner: h.relayer, ChallengeID: 998})
		require.NoError(t, err)
		h.fake.SetAccount(addr, make([]byte, state.LayoutTreasury.AccountSize()), rentFloor)

		_, err = h.svc.GetState(ctx, Ref{Owner: h.relayer, ChallengeID: 998}, false)
		assert.Equal(t, relerrors.ReasonBadDiscriminator, reasonOf(t, err))
	})
}

func TestSendBonusToWinners(t *testing.T) {
	ctx := context.Background()

	t.Run("pays out and reports the split", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		winners := keys(3)
		ref := h.seed(t, 1, rentFloor+1_000_003, func(st *state.State) { st.Winners = winners })

		res, err := h.svc.SendBonusToWinners(ctx, ref)
		require.NoError(t, err)
		assert.False(t, res.AlreadyDone)
		require.NotNil(t, res.Receipt)
		assert.False(t, res.Signature.IsZero())

		require.NotNil(t, res.Payout)
		assert.Equal(t, uint64(1_000_003), res.Payout.Available)
		assert.Equal(t, uint64(100_000), res.Payout.Commission)
		assert.Equal(t, uint64(300_001), res.Payout.BonusEach)
		assert.Zero(t, res.Payout.Leftover)
		assert.Equal(t, winners, res.Payout.Winners)

		snap, err := h.svc.GetState(ctx, ref, false)
		require.NoError(t, err)
		assert.True(t, snap.State.Paid)
		assert.Equal(t, state.StatusClosed, snap.State.Status)
	})

	t.Run("balance at the rent floor is rejected without submitting", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		ref := h.seed(t, 1, rentFloor, func(st *state.State) { st.Winners = keys(2) })

		_, err := h.svc.SendBonusToWinners(ctx, ref)
		require.Error(t, err)
		assert.Equal(t, relerrors.ReasonInsufficientContractBalance, reasonOf(t, err))
		assert.Zero(t, h.fake.SentCount())
	})

	t.Run("already paid is a successful no-op", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		ref := h.seed(t, 1, rentFloor+500, func(st *state.State) {
			st.Winners = keys(1)
			st.Paid = true
			st.Status = state.StatusClosed
		})

		res, err := h.svc.SendBonusToWinners(ctx, ref)
		require.NoError(t, err)
		assert.True(t, res.AlreadyDone)
		assert.Nil(t, res.Receipt)
		assert.Zero(t, h.fake.SentCount())
	})

	t.Run("preconditions", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(st *state.State)
			reason string
		}{
			{"no winners", nil, relerrors.ReasonEmptyWinners},
			{"canceled", func(st *state.State) {
				st.Winners = keys(1)
				st.Status = state.StatusCanceled
			}, relerrors.ReasonInvalidStatus},
			{"not an allowed user", func(st *state.State) {
				st.Winners = keys(1)
				st.Owner = solana.NewWallet().PublicKey()
			}, relerrors.ReasonUnauthorized},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness(t, state.LayoutTreasury, Config{})
				ref := h.seed(t, 1, rentFloor+1_000, tt.mutate)
				_, err := h.svc.SendBonusToWinners(ctx, ref)
				require.Error(t, err)
				assert.Equal(t, tt.reason, reasonOf(t, err))
				assert.Zero(t, h.fake.SentCount())
			})
		}
	})

	t.Run("co-owner may distribute", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		ref := h.seed(t, 1, rentFloor+1_000, func(st *state.State) {
			st.Winners = keys(1)
			st.Owners = []solana.PublicKey{h.relayer}
			st.Owner = solana.NewWallet().PublicKey()
		})
		_, err := h.svc.SendBonusToWinners(ctx, ref)
		require.NoError(t, err)
	})

	t.Run("winners beyond the account limit are rejected before submitting", func(t *testing.T) {
		cfg := Config{MaxTransactionAccounts: 10}
		limit := program.MaxParticipants(program.SendBonusToWinners, cfg.MaxTransactionAccounts, cfg.Envelope)
		require.Equal(t, 5, limit)

		h := newHarness(t, state.LayoutTreasury, cfg)
		over := h.seed(t, 1, rentFloor+1_000_000, func(st *state.State) { st.Winners = keys(limit + 1) })
		_, err := h.svc.SendBonusToWinners(ctx, over)
		require.Error(t, err)
		assert.Equal(t, relerrors.ReasonTooManyParticipants, reasonOf(t, err))
		assert.Zero(t, h.fake.CallCount("getLatestBlockhash"))
		assert.Zero(t, h.fake.SentCount())

		at := h.seed(t, 2, rentFloor+1_000_000, func(st *state.State) { st.Winners = keys(limit) })
		res, err := h.svc.SendBonusToWinners(ctx, at)
		require.NoError(t, err)
		require.NotNil(t, res.Receipt)
		assert.Equal(t, 1, h.fake.SentCount())
	})

	t.Run("legacy layout pays the configured treasury", func(t *testing.T) {
		legacyTreasury := solana.NewWallet().PublicKey()
		h := newHarness(t, state.LayoutLegacy, Config{LegacyTreasury: legacyTreasury})
		ref := h.seed(t, 1, rentFloor+1_000, func(st *state.State) { st.Winners = keys(2) })

		res, err := h.svc.SendBonusToWinners(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, legacyTreasury, res.Payout.Treasury)
		assert.Contains(t, h.fake.Sent[0].Message.AccountKeys, legacyTreasury)

		res, err = h.svc.SendBonusToWinners(ctx, ref)
		require.NoError(t, err)
		assert.True(t, res.AlreadyDone, "a closed legacy challenge counts as paid")
	})
}

func TestConcurrentDistributionsSubmitOnce(t *testing.T) {
	h := newHarness(t, state.LayoutTreasury, Config{})
	ref := h.seed(t, 1, rentFloor+10_000, func(st *state.State) { st.Winners = keys(2) })

	const callers = 2
	var wg sync.WaitGroup
	results := make([]*DistributionResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.SendBonusToWinners(context.Background(), ref)
		}(i)
	}
	wg.Wait()

	done, submitted := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].AlreadyDone {
			done++
		} else {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, h.fake.SentCount())
}

func TestRefundBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("too many participants fails without a remote call", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{MaxTransactionAccounts: 64})
		ref := h.seed(t, 1, rentFloor, nil)

		_, err := h.svc.RefundBatch(ctx, ref, keys(61))
		require.Error(t, err)
		assert.Equal(t, relerrors.ReasonTooManyParticipants, reasonOf(t, err))
		assert.Zero(t, h.fake.CallCount("getAccountInfo"))
		assert.Zero(t, h.fake.SentCount())
	})

	sizeLimits := []struct {
		name     string
		envelope program.Envelope
		limit    int
	}{
		{"packet size caps the batch", program.Envelope{}, 15},
		{"compute budget shrinks the batch", program.Envelope{ComputeUnitLimit: true, ComputeUnitPrice: true}, 14},
	}
	for _, tt := range sizeLimits {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{MaxTransactionAccounts: 64, Envelope: tt.envelope}

			h := newHarness(t, state.LayoutTreasury, cfg)
			subs := keys(tt.limit + 1)
			ref := h.seed(t, 1, rentFloor+1_000_000, func(st *state.State) {
				st.Fee = 1_000
				st.Subscribers = subs
			})

			_, err := h.svc.RefundBatch(ctx, ref, subs)
			require.Error(t, err)
			assert.Equal(t, relerrors.ReasonTooManyParticipants, reasonOf(t, err))
			assert.Zero(t, h.fake.CallCount("getAccountInfo"))
			assert.Zero(t, h.fake.CallCount("getLatestBlockhash"))

			receipt, err := h.svc.RefundBatch(ctx, ref, subs[:tt.limit])
			require.NoError(t, err)
			assert.Equal(t, program.RefundBatch, receipt.Operation)
			assert.Equal(t, 1, h.fake.SentCount())

			snap, err := h.svc.GetState(ctx, ref, true)
			require.NoError(t, err)
			assert.Equal(t, subs[tt.limit:], snap.State.Subscribers)
		})
	}

	t.Run("empty list", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		_, err := h.svc.RefundBatch(ctx, Ref{Owner: h.relayer, ChallengeID: 1}, nil)
		assert.Equal(t, relerrors.ReasonEmptySubscribers, reasonOf(t, err))
	})

	t.Run("refunds listed subscribers", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		subs := keys(3)
		ref := h.seed(t, 1, rentFloor+3_000, func(st *state.State) {
			st.Fee = 1_000
			st.Subscribers = subs
		})

		receipt, err := h.svc.RefundBatch(ctx, ref, subs[:2])
		require.NoError(t, err)
		assert.Equal(t, program.RefundBatch, receipt.Operation)

		snap, err := h.svc.GetState(ctx, ref, false)
		require.NoError(t, err)
		assert.Equal(t, []solana.PublicKey{subs[2]}, snap.State.Subscribers)
		assert.Equal(t, uint64(rentFloor+1_000), snap.Lamports)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		subs := keys(2)
		ref := h.seed(t, 1, rentFloor+1_999, func(st *state.State) {
			st.Fee = 1_000
			st.Subscribers = subs
		})

		_, err := h.svc.RefundBatch(ctx, ref, subs)
		assert.Equal(t, relerrors.ReasonInsufficientContractBalance, reasonOf(t, err))
		assert.Zero(t, h.fake.SentCount())
	})

	t.Run("unknown subscriber", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		ref := h.seed(t, 1, rentFloor+5_000, func(st *state.State) { st.Subscribers = keys(1) })

		_, err := h.svc.RefundBatch(ctx, ref, keys(1))
		assert.Equal(t, relerrors.ReasonInvalidInput, reasonOf(t, err))
		assert.Zero(t, h.fake.SentCount())
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestIdempotencyKey(t *testing.T) {
	h := newHarness(t, state.LayoutTreasury, Config{})
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	h.idem.SetClock(clock.Now)
	ref := h.seed(t, 1, rentFloor, nil)
	ctx := WithIdempotencyKey(context.Background(), "req-1")

	first, err := h.svc.SetFee(ctx, ref, 5)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.svc.SetFee(ctx, ref, 5)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Equal(t, 1, h.fake.SentCount())

	t.Run("other operations do not share the key", func(t *testing.T) {
		_, err := h.svc.SetCommission(ctx, ref, 20)
		require.NoError(t, err)
		assert.Equal(t, 2, h.fake.SentCount())
	})

	t.Run("expired key submits again", func(t *testing.T) {
		clock.Advance(10*time.Minute + time.Second)
		third, err := h.svc.SetFee(ctx, ref, 5)
		require.NoError(t, err)
		assert.False(t, third.Replayed)
		assert.Equal(t, 3, h.fake.SentCount())
	})
}

func TestMutationPreconditions(t *testing.T) {
	ctx := context.Background()
	stranger := solana.NewWallet().PublicKey()

	tests := []struct {
		name   string
		mutate func(st *state.State)
		call   func(s *Service, ref Ref) error
		reason string
	}{
		{
			name:   "set fee by a non owner",
			mutate: func(st *state.State) { st.Owner = stranger },
			call:   func(s *Service, ref Ref) error { _, err := s.SetFee(ctx, ref, 10); return err },
			reason: relerrors.ReasonUnauthorized,
		},
		{
			name:   "set fee after start",
			mutate: func(st *state.State) { st.Status = state.StatusInProgress },
			call:   func(s *Service, ref Ref) error { _, err := s.SetFee(ctx, ref, 10); return err },
			reason: relerrors.ReasonInvalidStatus,
		},
		{
			name:   "set commission after start",
			mutate: func(st *state.State) { st.Status = state.StatusInProgress },
			call:   func(s *Service, ref Ref) error { _, err := s.SetCommission(ctx, ref, 10); return err },
			reason: relerrors.ReasonInvalidStatus,
		},
		{
			name: "reopen a paid challenge",
			mutate: func(st *state.State) {
				st.Paid = true
				st.Status = state.StatusClosed
			},
			call:   func(s *Service, ref Ref) error { _, err := s.SetStatus(ctx, ref, state.StatusPending); return err },
			reason: relerrors.ReasonAlreadyPaid,
		},
		{
			name:   "too many winners",
			mutate: func(st *state.State) { st.Winners = keys(9) },
			call:   func(s *Service, ref Ref) error { _, err := s.SetWinners(ctx, ref, keys(2)); return err },
			reason: relerrors.ReasonInvalidInput,
		},
		{
			name:   "winner already listed",
			mutate: func(st *state.State) { st.Winners = []solana.PublicKey{stranger} },
			call: func(s *Service, ref Ref) error {
				_, err := s.SetWinners(ctx, ref, []solana.PublicKey{stranger})
				return err
			},
			reason: relerrors.ReasonInvalidInput,
		},
		{
			name:   "winners on a closed challenge",
			mutate: func(st *state.State) { st.Status = state.StatusClosed },
			call:   func(s *Service, ref Ref) error { _, err := s.SetWinners(ctx, ref, keys(1)); return err },
			reason: relerrors.ReasonInvalidStatus,
		},
		{
			name:   "subscribe after start",
			mutate: func(st *state.State) { st.Status = state.StatusInProgress },
			call:   func(s *Service, ref Ref) error { _, err := s.Subscribe(ctx, ref); return err },
			reason: relerrors.ReasonInvalidStatus,
		},
		{
			name:   "too many co-owners",
			mutate: func(st *state.State) { st.Owners = keys(state.MaxOwners) },
			call:   func(s *Service, ref Ref) error { _, err := s.SetOwner(ctx, ref, stranger); return err },
			reason: relerrors.ReasonInvalidInput,
		},
		{
			name:   "cancel subscription on a closed challenge",
			mutate: func(st *state.State) { st.Status = state.StatusClosed },
			call: func(s *Service, ref Ref) error {
				_, err := s.CancelSubscription(ctx, ref, stranger)
				return err
			},
			reason: relerrors.ReasonInvalidStatus,
		},
		{
			name:   "remove owner on a closed challenge",
			mutate: func(st *state.State) { st.Status = state.StatusClosed },
			call:   func(s *Service, ref Ref) error { _, err := s.RemoveOwner(ctx, ref, stranger); return err },
			reason: relerrors.ReasonInvalidStatus,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, state.LayoutTreasury, Config{})
			ref := h.seed(t, 1, rentFloor, tt.mutate)
			err := tt.call(h.svc, ref)
			require.Error(t, err)
			assert.True(t, relerrors.IsKind(err, relerrors.KindValidation))
			assert.Equal(t, tt.reason, reasonOf(t, err))
			assert.Zero(t, h.fake.SentCount())
		})
	}

	t.Run("subscribe twice", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		ref := h.seed(t, 1, rentFloor, nil)

		_, err := h.svc.Subscribe(ctx, ref)
		require.NoError(t, err)
		_, err = h.svc.Subscribe(ctx, ref)
		assert.Equal(t, relerrors.ReasonAlreadySubscribed, reasonOf(t, err))
		assert.Equal(t, 1, h.fake.SentCount())

		snap, err := h.svc.GetState(ctx, ref, false)
		require.NoError(t, err)
		assert.Equal(t, []solana.PublicKey{h.relayer}, snap.State.Subscribers)
		assert.Equal(t, uint64(rentFloor+1_000_000), snap.Lamports)
	})

	t.Run("treasury cannot be set on the legacy layout", func(t *testing.T) {
		h := newHarness(t, state.LayoutLegacy, Config{})
		_, err := h.svc.SetTreasury(ctx, Ref{Owner: h.relayer, ChallengeID: 1}, stranger)
		assert.True(t, relerrors.IsKind(err, relerrors.KindValidation))
		assert.Zero(t, h.fake.CallCount("getAccountInfo"))
	})

	t.Run("set winners then distribute", func(t *testing.T) {
		h := newHarness(t, state.LayoutTreasury, Config{})
		ref := h.seed(t, 1, rentFloor+100, nil)
		winners := keys(2)

		_, err := h.svc.SetWinners(ctx, ref, winners)
		require.NoError(t, err)
		res, err := h.svc.SendBonusToWinners(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, winners, res.Payout.Winners)
		assert.Equal(t, 2, h.fake.SentCount())
	})
}

func TestComputePayout(t *testing.T) {
	tests := []struct {
		name       string
		lamports   uint64
		floor      uint64
		commission uint8
		winners    int
		want       Payout
		ok         bool
	}{
		{"at floor", 100, 100, 10, 1, Payout{}, false},
		{"no winners", 200, 100, 10, 0, Payout{}, false},
		{"rounding goes to leftover", 110, 10, 10, 4, Payout{Available: 100, Commission: 10, BonusEach: 22, Leftover: 2}, true},
		{"uneven split", 1_000_007, 0, 0, 2, Payout{Available: 1_000_007, BonusEach: 500_003, Leftover: 1}, true},
		{"full commission", 1_000, 0, 100, 4, Payout{Available: 1_000, Commission: 1_000}, true},
		{"no overflow near max", ^uint64(0), 0, 50, 1, Payout{
			Available:  ^uint64(0),
			Commission: 9_223_372_036_854_775_807,
			BonusEach:  9_223_372_036_854_775_808,
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputePayout(tt.lamports, tt.floor, tt.commission, tt.winners)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
