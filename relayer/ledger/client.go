// Package ledger is the relayer's only path to the remote ledger. Every call
// takes a rate-limiter token, holds an rpc gate slot and is retried on
// transient failures, with round-robin across the configured endpoints.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/gate"
	"github.com/snzup/subscription-relayer/relayer/metrics"
)

// RPC is the subset of the JSON-RPC client the relayer talks to
type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SimulateTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetHealth(ctx context.Context) (string, error)
}

var _ RPC = (*rpc.Client)(nil)

// Options configures a Client
type Options struct {
	Commitment    rpc.CommitmentType
	SkipPreflight bool
	PollInterval  time.Duration
	ProbeTimeout  time.Duration
	Retry         *relerrors.RetryPolicy
	Limiter       *gate.RateLimiter
	Gate          *gate.Gate
	Metrics       *metrics.Metrics
}

// Account is the raw view of a ledger account
type Account struct {
	Data     []byte
	Lamports uint64
	Owner    solana.PublicKey
	Slot     uint64
}

// Client wraps one or more RPC endpoints
type Client struct {
	endpoints []RPC
	index     atomic.Uint64

	commitment    rpc.CommitmentType
	skipPreflight bool
	pollInterval  time.Duration
	probeTimeout  time.Duration

	retry     *relerrors.RetryPolicy
	sendRetry *relerrors.RetryPolicy
	limiter   *gate.RateLimiter
	gate      *gate.Gate
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Dial creates a Client for the given endpoint URLs. Endpoints are not
// contacted here; use Probe to check reachability.
func Dial(urls []string, opts Options, logger zerolog.Logger) (*Client, error) {
	endpoints := make([]RPC, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		endpoints = append(endpoints, rpc.New(url))
	}
	return NewClient(endpoints, opts, logger)
}

// NewClient creates a Client over already constructed endpoints
func NewClient(endpoints []RPC, opts Options, logger zerolog.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, relerrors.Config("no RPC endpoints configured", nil)
	}
	log := logger.With().Str("component", "ledger_client").Logger()

	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = relerrors.DefaultRetryPolicy()
	}
	if opts.Limiter == nil {
		opts.Limiter = gate.NewRateLimiter(0, 1)
	}
	if opts.Gate == nil {
		opts.Gate = gate.New("rpc", 8, gate.DefaultMaxQueue, opts.Metrics)
	}
	retry := opts.Retry.WithLogger(log)

	return &Client{
		endpoints:     endpoints,
		commitment:    opts.Commitment,
		skipPreflight: opts.SkipPreflight,
		pollInterval:  opts.PollInterval,
		probeTimeout:  opts.ProbeTimeout,
		retry:         retry,
		// a send that failed on an expired anchor must be rebuilt, not resent
		sendRetry: retry.WithClassifier(relerrors.IsTransientNetwork),
		limiter:   opts.Limiter,
		gate:      opts.Gate,
		metrics:   opts.Metrics,
		logger:    log,
	}, nil
}

// Commitment returns the commitment level used for reads and confirmation
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

func (c *Client) next() RPC {
	i := c.index.Add(1) - 1
	return c.endpoints[i%uint64(len(c.endpoints))]
}

// call runs fn under the limiter, the rpc gate and the retry policy. Each
// attempt goes to the next endpoint in rotation.
func (c *Client) call(ctx context.Context, method string, policy *relerrors.RetryPolicy, fn func(ctx context.Context, ep RPC) error) error {
	return policy.Do(ctx, method, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
		return c.gate.Run(ctx, func(ctx context.Context) error {
			start := time.Now()
			err := fn(ctx, c.next())
			c.metrics.ObserveRPC(method, outcome(err), time.Since(start))
			return err
		})
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case relerrors.IsKind(err, relerrors.KindNotFound):
		return "not_found"
	case relerrors.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// GetAccount fetches an account's data and balance. A missing account yields
// a NOT_FOUND error.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	var out *Account
	err := c.call(ctx, "getAccountInfo", c.retry, func(ctx context.Context, ep RPC) error {
		res, err := ep.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return relerrors.NotFound(fmt.Sprintf("account %s does not exist", address))
			}
			return err
		}
		if res == nil || res.Value == nil {
			return relerrors.NotFound(fmt.Sprintf("account %s does not exist", address))
		}
		acc := &Account{
			Lamports: res.Value.Lamports,
			Owner:    res.Value.Owner,
			Slot:     res.Context.Slot,
		}
		if res.Value.Data != nil {
			acc.Data = res.Value.Data.GetBinary()
		}
		out = acc
		return nil
	})
	return out, err
}

// MinimumBalanceForRentExemption returns the rent-exempt minimum for size bytes
func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "getMinimumBalanceForRentExemption", c.retry, func(ctx context.Context, ep RPC) error {
		var err error
		lamports, err = ep.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
		return err
	})
	return lamports, err
}

// LatestBlockhash returns a recent blockhash and its validity horizon
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	var (
		hash       solana.Hash
		lastHeight uint64
	)
	err := c.call(ctx, "getLatestBlockhash", c.retry, func(ctx context.Context, ep RPC) error {
		res, err := ep.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return relerrors.Transient("", "empty getLatestBlockhash response", nil)
		}
		hash = res.Value.Blockhash
		lastHeight = res.Value.LastValidBlockHeight
		return nil
	})
	return hash, lastHeight, err
}

// BlockHeight returns the current block height
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, "getBlockHeight", c.retry, func(ctx context.Context, ep RPC) error {
		var err error
		height, err = ep.GetBlockHeight(ctx, c.commitment)
		return err
	})
	return height, err
}

// SendTransaction broadcasts a signed transaction. Anchor expiry is returned
// to the caller without retrying.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.call(ctx, "sendTransaction", c.sendRetry, func(ctx context.Context, ep RPC) error {
		var err error
		sig, err = ep.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       c.skipPreflight,
			PreflightCommitment: c.commitment,
		})
		return err
	})
	return sig, err
}

// SignatureStatus returns the ledger's view of sig, or nil if it is unknown
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	var status *rpc.SignatureStatusesResult
	err := c.call(ctx, "getSignatureStatuses", c.retry, func(ctx context.Context, ep RPC) error {
		res, err := ep.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		status = nil
		if res != nil && len(res.Value) > 0 {
			status = res.Value[0]
		}
		return nil
	})
	return status, err
}

// Simulation is the outcome of a dry run
type Simulation struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed *uint64
}

// Simulate dry-runs tx against the current ledger state. Signatures are not
// verified and the blockhash is replaced, so an expired tx still simulates.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) (*Simulation, error) {
	var out *Simulation
	err := c.call(ctx, "simulateTransaction", c.retry, func(ctx context.Context, ep RPC) error {
		res, err := ep.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			SigVerify:              false,
			Commitment:             c.commitment,
			ReplaceRecentBlockhash: true,
		})
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return relerrors.Transient("", "empty simulateTransaction response", nil)
		}
		out = &Simulation{
			Err:           res.Value.Err,
			Logs:          res.Value.Logs,
			UnitsConsumed: res.Value.UnitsConsumed,
		}
		return nil
	})
	return out, err
}

// TransactionLogs returns the program logs of a landed transaction
func (c *Client) TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error) {
	var logs []string
	err := c.call(ctx, "getTransaction", c.retry, func(ctx context.Context, ep RPC) error {
		maxVersion := uint64(0)
		commitment := c.commitment
		if commitment == rpc.CommitmentProcessed {
			commitment = rpc.CommitmentConfirmed
		}
		res, err := ep.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return relerrors.NotFound(fmt.Sprintf("transaction %s not found", sig))
			}
			return err
		}
		if res == nil || res.Meta == nil {
			return relerrors.NotFound(fmt.Sprintf("transaction %s has no metadata", sig))
		}
		logs = res.Meta.LogMessages
		return nil
	})
	return logs, err
}
