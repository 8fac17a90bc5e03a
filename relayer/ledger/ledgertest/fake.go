// Package ledgertest provides an in-memory ledger endpoint for tests.
package ledgertest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// FakeAccount is an account held by FakeRPC
type FakeAccount struct {
	Data     []byte
	Lamports uint64
	Owner    solana.PublicKey
}

// FakeRPC implements ledger.RPC against in-memory state. Error queues are
// consumed one entry per call; a nil entry means "succeed this time".
type FakeRPC struct {
	mu sync.Mutex

	Accounts    map[solana.PublicKey]*FakeAccount
	Slot        uint64
	Height      uint64
	RentMinimum uint64
	// ValidFor is added to Height to produce each blockhash's horizon
	ValidFor uint64
	Health   string

	AccountErrs  []error
	BlockhashErr []error
	SendErrs     []error
	RentErr      error
	StatusErr    error

	// OnSend runs for every accepted transaction. A non-nil return value
	// makes the transaction land as failed with that value as its error.
	OnSend func(tx *solana.Transaction) interface{}
	// Pending keeps sent transactions unseen until Land is called
	Pending bool
	// AdvanceOnPoll raises Height on every status poll
	AdvanceOnPoll uint64

	SimulationErr  interface{}
	SimulationLogs []string
	TxLogs         map[solana.Signature][]string

	Sent        []*solana.Transaction
	Blockhashes []solana.Hash
	Calls       map[string]int

	statuses map[solana.Signature]*rpc.SignatureStatusesResult
	pending  []solana.Signature
	counter  uint64
}

// NewFakeRPC returns a healthy endpoint with a rent floor of 27,290,160
// lamports and blockhashes valid for 150 blocks.
func NewFakeRPC() *FakeRPC {
	return &FakeRPC{
		Accounts:    make(map[solana.PublicKey]*FakeAccount),
		Slot:        1000,
		Height:      900,
		RentMinimum: 27_290_160,
		ValidFor:    150,
		Health:      "ok",
		TxLogs:      make(map[solana.Signature][]string),
		Calls:       make(map[string]int),
		statuses:    make(map[solana.Signature]*rpc.SignatureStatusesResult),
	}
}

func (f *FakeRPC) record(method string) {
	f.Calls[method]++
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

// CallCount returns how often method was invoked
func (f *FakeRPC) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

// SetAccount stores or replaces an account
func (f *FakeRPC) SetAccount(addr solana.PublicKey, data []byte, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accounts[addr] = &FakeAccount{Data: append([]byte(nil), data...), Lamports: lamports}
}

// Account returns a copy of a stored account
func (f *FakeRPC) Account(addr solana.PublicKey) (FakeAccount, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Accounts[addr]
	if !ok {
		return FakeAccount{}, false
	}
	return FakeAccount{Data: append([]byte(nil), a.Data...), Lamports: a.Lamports, Owner: a.Owner}, true
}

// SentCount returns how many transactions were accepted
func (f *FakeRPC) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// Land confirms every pending transaction
func (f *FakeRPC) Land() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sig := range f.pending {
		f.Slot++
		f.statuses[sig] = &rpc.SignatureStatusesResult{
			Slot:               f.Slot,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		}
	}
	f.pending = nil
}

// SetPending toggles whether sent transactions stay unseen
func (f *FakeRPC) SetPending(pending bool) {
	f.mu.Lock()
	f.Pending = pending
	f.mu.Unlock()
}

// SetHeight moves the block height
func (f *FakeRPC) SetHeight(h uint64) {
	f.mu.Lock()
	f.Height = h
	f.mu.Unlock()
}

func (f *FakeRPC) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getAccountInfo")
	if err := pop(&f.AccountErrs); err != nil {
		return nil, err
	}
	a, ok := f.Accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{
		RPCContext: rpc.RPCContext{Context: rpc.Context{Slot: f.Slot}},
		Value: &rpc.Account{
			Lamports: a.Lamports,
			Owner:    a.Owner,
			Data:     rpc.DataBytesOrJSONFromBytes(append([]byte(nil), a.Data...)),
		},
	}, nil
}

func (f *FakeRPC) GetMinimumBalanceForRentExemption(_ context.Context, _ uint64, _ rpc.CommitmentType) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getMinimumBalanceForRentExemption")
	if f.RentErr != nil {
		return 0, f.RentErr
	}
	return f.RentMinimum, nil
}

func (f *FakeRPC) GetLatestBlockhash(_ context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getLatestBlockhash")
	if err := pop(&f.BlockhashErr); err != nil {
		return nil, err
	}
	f.counter++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], f.counter)
	hash := solana.Hash(sha256.Sum256(seed[:]))
	f.Blockhashes = append(f.Blockhashes, hash)

	return &rpc.GetLatestBlockhashResult{
		RPCContext: rpc.RPCContext{Context: rpc.Context{Slot: f.Slot}},
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            hash,
			LastValidBlockHeight: f.Height + f.ValidFor,
		},
	}, nil
}

func (f *FakeRPC) GetBlockHeight(_ context.Context, _ rpc.CommitmentType) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getBlockHeight")
	return f.Height, nil
}

func (f *FakeRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	f.record("sendTransaction")
	if err := pop(&f.SendErrs); err != nil {
		f.mu.Unlock()
		return solana.Signature{}, err
	}
	f.Sent = append(f.Sent, tx)
	hook := f.OnSend
	f.mu.Unlock()

	var txErr interface{}
	if hook != nil {
		txErr = hook(tx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sig := tx.Signatures[0]
	if f.Pending && txErr == nil {
		f.pending = append(f.pending, sig)
		return sig, nil
	}
	f.Slot++
	f.statuses[sig] = &rpc.SignatureStatusesResult{
		Slot:               f.Slot,
		Err:                txErr,
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}
	return sig, nil
}

func (f *FakeRPC) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getSignatureStatuses")
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	f.Height += f.AdvanceOnPoll

	out := &rpc.GetSignatureStatusesResult{RPCContext: rpc.RPCContext{Context: rpc.Context{Slot: f.Slot}}}
	for _, sig := range sigs {
		out.Value = append(out.Value, f.statuses[sig])
	}
	return out, nil
}

func (f *FakeRPC) SimulateTransactionWithOpts(_ context.Context, _ *solana.Transaction, _ *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("simulateTransaction")
	units := uint64(1400)
	return &rpc.SimulateTransactionResponse{
		RPCContext: rpc.RPCContext{Context: rpc.Context{Slot: f.Slot}},
		Value: &rpc.SimulateTransactionResult{
			Err:           f.SimulationErr,
			Logs:          f.SimulationLogs,
			UnitsConsumed: &units,
		},
	}, nil
}

func (f *FakeRPC) GetTransaction(_ context.Context, sig solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getTransaction")
	status, ok := f.statuses[sig]
	if !ok || status == nil {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetTransactionResult{
		Slot: status.Slot,
		Meta: &rpc.TransactionMeta{
			Err:         status.Err,
			LogMessages: f.TxLogs[sig],
		},
	}, nil
}

func (f *FakeRPC) GetHealth(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getHealth")
	return f.Health, nil
}
