package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snzup/subscription-relayer/relayer/cache"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/ledger"
	"github.com/snzup/subscription-relayer/relayer/ledger/ledgertest"
)

var testProgramID = solana.MustPublicKeyFromBase58("C2DhNvJ4n4FEDyft6qcK3uDMjoRt5UU9mK41Zmn96VDz")

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return s
}

func newPipeline(t *testing.T, fake *ledgertest.FakeRPC, cfg Config, anchors *cache.BlockhashCache) *Pipeline {
	t.Helper()
	retry := relerrors.DefaultRetryPolicy()
	retry.BaseDelay = time.Millisecond
	retry.MaxDelay = 2 * time.Millisecond
	client, err := ledger.NewClient([]ledger.RPC{fake}, ledger.Options{
		Retry:        retry,
		PollInterval: time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	return New(cfg, client, newSigner(t), anchors, nil, nil, zerolog.Nop())
}

func request(p *Pipeline, extra ...solana.PublicKey) Request {
	metas := solana.AccountMetaSlice{
		solana.Meta(solana.PublicKey{1}).WRITE(),
		solana.Meta(p.FeePayer()).SIGNER(),
	}
	for _, k := range extra {
		metas = append(metas, solana.Meta(k).WRITE())
	}
	return Request{
		Operation:   "subscribe",
		Instruction: solana.NewInstruction(testProgramID, metas, []byte{0xfe, 0x1c, 0xbf, 0x8a, 0x9c, 0xb3, 0xb7, 0x35}),
	}
}

func TestSubmitConfirms(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	p := newPipeline(t, fake, Config{}, nil)

	res, err := p.Submit(context.Background(), request(p))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, fake.Blockhashes[0], res.Blockhash)
	assert.Equal(t, uint64(1050), res.LastValidBlockHeight)

	require.Equal(t, 1, fake.SentCount())
	assert.Equal(t, fake.Sent[0].Signatures[0], res.Signature)
	assert.True(t, fake.Sent[0].Message.AccountKeys[0].Equals(p.FeePayer()))
}

func TestSubmitAddsComputeBudget(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	p := newPipeline(t, fake, Config{ComputeUnitLimit: 200_000, ComputeUnitPrice: 5_000}, nil)

	_, err := p.Submit(context.Background(), request(p))
	require.NoError(t, err)

	msg := fake.Sent[0].Message
	require.Len(t, msg.Instructions, 3)
	for i, want := range []byte{2, 3} {
		programID, err := msg.ResolveProgramIDIndex(msg.Instructions[i].ProgramIDIndex)
		require.NoError(t, err)
		assert.Equal(t, computeBudgetProgramID, programID)
		assert.Equal(t, want, []byte(msg.Instructions[i].Data)[0])
	}
	assert.Equal(t, []byte{2, 0x40, 0x0d, 0x03, 0x00}, []byte(msg.Instructions[0].Data))
}

func TestSubmitSharesCachedAnchor(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	p := newPipeline(t, fake, Config{}, cache.NewBlockhashCache(time.Minute, nil))

	for i := 0; i < 3; i++ {
		_, err := p.Submit(context.Background(), request(p))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.CallCount("getLatestBlockhash"))
}

func TestSubmitRebuildsOnExpiredAnchor(t *testing.T) {
	t.Run("rejected at send", func(t *testing.T) {
		fake := ledgertest.NewFakeRPC()
		fake.SendErrs = []error{errors.New("Transaction simulation failed: Blockhash not found")}
		p := newPipeline(t, fake, Config{}, cache.NewBlockhashCache(time.Minute, nil))

		res, err := p.Submit(context.Background(), request(p))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)
		require.Len(t, fake.Blockhashes, 2)
		assert.Equal(t, fake.Blockhashes[1], res.Blockhash)
		assert.Equal(t, fake.Blockhashes[1], fake.Sent[0].Message.RecentBlockhash)
	})

	t.Run("expired while waiting for confirmation", func(t *testing.T) {
		fake := ledgertest.NewFakeRPC()
		fake.Pending = true
		fake.AdvanceOnPoll = 100
		sends := 0
		fake.OnSend = func(*solana.Transaction) interface{} {
			sends++
			if sends == 2 {
				fake.SetPending(false)
			}
			return nil
		}
		p := newPipeline(t, fake, Config{}, nil)

		res, err := p.Submit(context.Background(), request(p))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)

		require.Equal(t, 2, fake.SentCount())
		first, second := fake.Sent[0], fake.Sent[1]
		assert.NotEqual(t, first.Message.RecentBlockhash, second.Message.RecentBlockhash)
		assert.NotEqual(t, first.Signatures[0], second.Signatures[0])
		assert.Equal(t, second.Signatures[0], res.Signature)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		fake := ledgertest.NewFakeRPC()
		fake.Pending = true
		fake.AdvanceOnPoll = 100
		p := newPipeline(t, fake, Config{}, nil)

		_, err := p.Submit(context.Background(), request(p))
		require.Error(t, err)
		assert.True(t, relerrors.IsKind(err, relerrors.KindTransient))
		assert.True(t, relerrors.IsAnchorExpired(err))
		assert.Equal(t, DefaultMaxAttempts, fake.SentCount())
	})
}

func TestSubmitProgramFailureLanded(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	fake.OnSend = func(tx *solana.Transaction) interface{} {
		fake.TxLogs[tx.Signatures[0]] = []string{
			"Program C2DhNvJ4n4FEDyft6qcK3uDMjoRt5UU9mK41Zmn96VDz invoke [1]",
			"Program log: AnchorError occurred. Error Code: InsufficientContractBalance. Error Number: 6300.",
		}
		return map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 6300}}}
	}
	p := newPipeline(t, fake, Config{}, nil)

	_, err := p.Submit(context.Background(), request(p))
	require.Error(t, err)

	var relErr *relerrors.Error
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, relerrors.KindProgram, relErr.Kind)
	assert.Equal(t, "InsufficientContractBalance", relErr.Reason)
	require.NotNil(t, relErr.Code)
	assert.Equal(t, uint32(6300), *relErr.Code)
	require.NotNil(t, relErr.Diagnostics)
	assert.Len(t, relErr.Diagnostics.Logs, 2)
	assert.False(t, relErr.Retryable())

	assert.Equal(t, 1, fake.SentCount(), "program failures are not resubmitted")
}

func TestSubmitRejectedAtSendCollectsSimulation(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	fake.SendErrs = []error{errors.New("Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1910")}
	fake.SimulationErr = map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 6416}}}
	fake.SimulationLogs = []string{"Program log: AnchorError occurred. Error Code: AlreadySubscribed. Error Number: 6416."}
	p := newPipeline(t, fake, Config{}, nil)

	_, err := p.Submit(context.Background(), request(p))
	require.Error(t, err)

	var relErr *relerrors.Error
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, relerrors.KindProgram, relErr.Kind)
	assert.Equal(t, "AlreadySubscribed", relErr.Reason)
	require.NotNil(t, relErr.Code)
	assert.Equal(t, uint32(6416), *relErr.Code)
	require.NotNil(t, relErr.Diagnostics)
	assert.Equal(t, fake.SimulationLogs, relErr.Diagnostics.Logs)
	assert.NotNil(t, relErr.Diagnostics.UnitsConsumed)
	assert.Contains(t, relErr.Diagnostics.SimulatedError, "6416")

	assert.Equal(t, 1, fake.CallCount("sendTransaction"))
	assert.Equal(t, 1, fake.CallCount("simulateTransaction"))
}

func TestSubmitRejectsOversizedTransaction(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	p := newPipeline(t, fake, Config{}, nil)

	extra := make([]solana.PublicKey, 40)
	for i := range extra {
		extra[i] = solana.NewWallet().PublicKey()
	}
	_, err := p.Submit(context.Background(), request(p, extra...))
	require.Error(t, err)

	var relErr *relerrors.Error
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, relerrors.KindWrapper, relErr.Kind)
	assert.Equal(t, relerrors.ReasonTransactionTooLarge, relErr.Reason)
	assert.Zero(t, fake.CallCount("sendTransaction"))
}

func TestSubmitHonoursCallerDeadline(t *testing.T) {
	fake := ledgertest.NewFakeRPC()
	fake.Pending = true
	p := newPipeline(t, fake, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, request(p))
	require.Error(t, err)
	assert.True(t, relerrors.IsKind(err, relerrors.KindTransient))
	assert.False(t, relerrors.IsAnchorExpired(err))
	assert.Equal(t, 1, fake.SentCount())
}

func TestLoadSigner(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	t.Run("json keypair file", func(t *testing.T) {
		ints := make([]int, len(key))
		for i, b := range key {
			ints[i] = int(b)
		}
		data, err := json.Marshal(ints)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "relayer.json")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		s, err := LoadSignerFile(path)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), s.PublicKey())
	})

	t.Run("base58 keypair", func(t *testing.T) {
		s, err := ParseSigner(key.String())
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), s.PublicKey())
	})

	t.Run("invalid inputs", func(t *testing.T) {
		_, err := ParseSigner("not-base58-0OIl")
		assert.Error(t, err)

		_, err = NewSigner(solana.PrivateKey(make([]byte, 32)))
		assert.Error(t, err)

		_, err = LoadSignerFile(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}
