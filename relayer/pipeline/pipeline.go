// Package pipeline builds, signs, submits and confirms program transactions.
// An attempt whose blockhash expires is discarded and rebuilt from scratch
// with a fresh anchor; every other failure ends the submission and is
// classified as transient, program or wrapper.
package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/snzup/subscription-relayer/relayer/cache"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/gate"
	"github.com/snzup/subscription-relayer/relayer/ledger"
	"github.com/snzup/subscription-relayer/relayer/metrics"
	"github.com/snzup/subscription-relayer/relayer/program"
)

const (
	// DefaultMaxAttempts is the number of fresh builds tried before an
	// expiring anchor is reported as transient
	DefaultMaxAttempts = 3
	// MaxTransactionSize is the ledger's packet limit for a serialized transaction
	MaxTransactionSize = program.MaxTransactionSize
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Ledger is what the pipeline needs from the remote ledger
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (*ledger.Confirmation, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*ledger.Simulation, error)
	TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error)
}

var _ Ledger = (*ledger.Client)(nil)

// Config tunes submissions
type Config struct {
	MaxAttempts int
	// ComputeUnitLimit adds a SetComputeUnitLimit instruction when non-zero
	ComputeUnitLimit uint32
	// ComputeUnitPrice adds a SetComputeUnitPrice instruction (micro-lamports
	// per compute unit) when non-zero
	ComputeUnitPrice uint64
}

// Request is one program instruction to land
type Request struct {
	Operation   string
	Instruction solana.Instruction
}

// Result describes a confirmed submission
type Result struct {
	Signature            solana.Signature
	Slot                 uint64
	Attempts             int
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Pipeline submits transactions signed by one service key
type Pipeline struct {
	cfg     Config
	ledger  Ledger
	signer  *Signer
	anchors *cache.BlockhashCache
	build   *gate.Gate
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a new Pipeline
func New(cfg Config, l Ledger, signer *Signer, anchors *cache.BlockhashCache, build *gate.Gate, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if anchors == nil {
		anchors = cache.NewBlockhashCache(0, m)
	}
	if build == nil {
		build = gate.New("build", 4, gate.DefaultMaxQueue, m)
	}
	return &Pipeline{
		cfg:     cfg,
		ledger:  l,
		signer:  signer,
		anchors: anchors,
		build:   build,
		metrics: m,
		logger:  logger.With().Str("component", "tx_pipeline").Logger(),
	}
}

// FeePayer returns the address that pays for and signs every transaction
func (p *Pipeline) FeePayer() solana.PublicKey {
	return p.signer.PublicKey()
}

// Submit lands req.Instruction and waits for confirmation
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Result, error) {
	log := p.logger.With().Str("operation", req.Operation).Logger()

	var (
		lastErr error
		lastTx  *solana.Transaction
		attempt int
	)
	for attempt = 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = relerrors.Transient(relerrors.ReasonCanceled, req.Operation+" abandoned", err)
			break
		}

		res, tx, err := p.attempt(ctx, req)
		if err == nil {
			res.Attempts = attempt
			p.metrics.Submission(req.Operation, "confirmed", attempt)
			log.Info().
				Str("tx_hash", res.Signature.String()).
				Uint64("slot", res.Slot).
				Int("attempts", attempt).
				Msg("transaction confirmed")
			return res, nil
		}
		lastErr, lastTx = err, tx

		if !relerrors.IsAnchorExpired(err) {
			break
		}
		p.anchors.Invalidate()
		log.Warn().Err(err).Int("attempt", attempt).Msg("blockhash expired, rebuilding transaction")
	}
	if attempt > p.cfg.MaxAttempts {
		attempt = p.cfg.MaxAttempts
	}

	err := p.classify(ctx, req.Operation, lastTx, lastErr)
	p.metrics.Submission(req.Operation, strings.ToLower(string(relerrors.KindOf(err))), attempt)
	log.Warn().Err(err).Int("attempts", attempt).Msg("transaction failed")
	return nil, err
}

// attempt runs one build, sign, send and confirm cycle. The returned
// transaction is nil when the failure happened before it was built.
func (p *Pipeline) attempt(ctx context.Context, req Request) (*Result, *solana.Transaction, error) {
	anchor, err := p.anchor(ctx)
	if err != nil {
		return nil, nil, err
	}

	tx, err := gate.Do(ctx, p.build, func(context.Context) (*solana.Transaction, error) {
		return p.buildSigned(req.Instruction, anchor.Blockhash)
	})
	if err != nil {
		return nil, nil, err
	}

	sig, err := p.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return nil, tx, err
	}
	p.logger.Debug().
		Str("operation", req.Operation).
		Str("tx_hash", sig.String()).
		Uint64("last_valid_block_height", anchor.LastValidBlockHeight).
		Msg("transaction broadcast")

	conf, err := p.ledger.ConfirmTransaction(ctx, sig, anchor.LastValidBlockHeight)
	if err != nil {
		return nil, tx, err
	}
	return &Result{
		Signature:            conf.Signature,
		Slot:                 conf.Slot,
		Blockhash:            anchor.Blockhash,
		LastValidBlockHeight: anchor.LastValidBlockHeight,
	}, tx, nil
}

func (p *Pipeline) anchor(ctx context.Context) (cache.Anchor, error) {
	if a, ok := p.anchors.Get(); ok {
		return a, nil
	}
	hash, lastValid, err := p.ledger.LatestBlockhash(ctx)
	if err != nil {
		return cache.Anchor{}, err
	}
	a := cache.Anchor{Blockhash: hash, LastValidBlockHeight: lastValid, FetchedAt: time.Now()}
	p.anchors.Set(a)
	return a, nil
}

func (p *Pipeline) buildSigned(ix solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	ixs := make([]solana.Instruction, 0, 3)
	if p.cfg.ComputeUnitLimit > 0 {
		ixs = append(ixs, setComputeUnitLimit(p.cfg.ComputeUnitLimit))
	}
	if p.cfg.ComputeUnitPrice > 0 {
		ixs = append(ixs, setComputeUnitPrice(p.cfg.ComputeUnitPrice))
	}
	ixs = append(ixs, ix)

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(p.signer.PublicKey()))
	if err != nil {
		return nil, relerrors.Wrapper(relerrors.ReasonInvalidInput, "failed to create transaction", err)
	}
	if err := p.signer.sign(tx); err != nil {
		return nil, relerrors.Wrapper(relerrors.ReasonInvalidInput, "failed to sign transaction", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, relerrors.Wrapper(relerrors.ReasonInvalidInput, "failed to serialize transaction", err)
	}
	if len(raw) > MaxTransactionSize {
		return nil, relerrors.Wrapper(relerrors.ReasonTransactionTooLarge,
			fmt.Sprintf("transaction is %d bytes, limit is %d", len(raw), MaxTransactionSize), nil).
			WithContext("accounts", len(tx.Message.AccountKeys))
	}
	return tx, nil
}

// classify maps the final failure of a submission onto the error taxonomy
func (p *Pipeline) classify(ctx context.Context, operation string, tx *solana.Transaction, err error) error {
	var execErr *ledger.ExecutionError
	if errors.As(err, &execErr) {
		return p.landedFailure(ctx, execErr)
	}

	if relerrors.IsAnchorExpired(err) {
		return relerrors.Transient(relerrors.ReasonBlockhashExpired,
			fmt.Sprintf("%s did not land before its blockhash expired after %d attempts", operation, p.cfg.MaxAttempts), err)
	}

	var relErr *relerrors.Error
	if errors.As(err, &relErr) {
		return relErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return relerrors.From(err)
	}
	if relerrors.IsTransientNetwork(err) {
		return relerrors.Transient("", operation+" submission failed", err)
	}

	// the ledger refused the transaction, most likely in preflight
	return p.rejected(ctx, tx, err)
}

func (p *Pipeline) landedFailure(ctx context.Context, execErr *ledger.ExecutionError) error {
	diag := &relerrors.Diagnostics{SimulatedError: fmt.Sprint(execErr.Err)}
	logs, err := p.ledger.TransactionLogs(ctx, execErr.Signature)
	if err != nil {
		p.logger.Debug().Err(err).Str("tx_hash", execErr.Signature.String()).Msg("failed to fetch logs of failed transaction")
	}
	diag.Logs = logs

	texts := append([]string{fmt.Sprint(execErr.Err)}, logs...)
	return programError(execErr, texts).
		WithContext("signature", execErr.Signature.String()).
		WithDiagnostics(diag)
}

func (p *Pipeline) rejected(ctx context.Context, tx *solana.Transaction, cause error) error {
	texts := []string{cause.Error()}
	var diag *relerrors.Diagnostics
	if tx != nil {
		sim, err := p.ledger.Simulate(ctx, tx)
		if err != nil {
			p.logger.Debug().Err(err).Msg("diagnostic simulation failed")
		} else {
			diag = &relerrors.Diagnostics{Logs: sim.Logs, UnitsConsumed: sim.UnitsConsumed}
			if sim.Err != nil {
				diag.SimulatedError = fmt.Sprint(sim.Err)
				texts = append(texts, diag.SimulatedError)
			}
			texts = append(texts, sim.Logs...)
		}
	}
	return programError(cause, texts).WithDiagnostics(diag)
}

func programError(cause error, texts []string) *relerrors.Error {
	code, ok := program.ParseErrorCode(texts...)
	if !ok {
		return relerrors.Program(nil, "", "transaction rejected by the ledger", cause)
	}
	raw := uint32(code)
	return relerrors.Program(&raw, code.Name(), code.Message(), cause)
}

// setComputeUnitLimit encodes [2] + u32 LE units
func setComputeUnitLimit(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// setComputeUnitPrice encodes [3] + u64 LE micro-lamports
func setComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}
