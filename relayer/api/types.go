package api

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/snzup/subscription-relayer/relayer/challenge"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/state"
)

// U64 renders as a decimal string so clients without 64-bit integers keep
// full precision. Either a string or a JSON number is accepted on input.
type U64 uint64

func (v U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(v), 10))
}

func (v *U64) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return relerrors.Validationf(relerrors.ReasonInvalidInput, "%s is not an unsigned 64-bit integer", string(b))
	}
	*v = U64(n)
	return nil
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Kind        relerrors.Kind         `json:"kind"`
	Reason      string                 `json:"reason,omitempty"`
	Message     string                 `json:"message"`
	Retryable   bool                   `json:"retryable"`
	Code        *uint32                `json:"code,omitempty"`
	Diagnostics *relerrors.Diagnostics `json:"diagnostics,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
}

// AddressResponse answers GET /api/v1/challenges/{id}/address
type AddressResponse struct {
	Address     string `json:"address"`
	Bump        uint8  `json:"bump"`
	Owner       string `json:"owner"`
	ChallengeID U64    `json:"challenge_id"`
	ProgramID   string `json:"program_id,omitempty"`
}

// StateResponse is the decoded challenge account
type StateResponse struct {
	Address     string   `json:"address"`
	Layout      string   `json:"layout"`
	Version     uint8    `json:"version"`
	Bump        uint8    `json:"bump"`
	ChallengeID U64      `json:"challenge_id"`
	Fee         U64      `json:"fee"`
	Commission  uint8    `json:"commission"`
	Status      string   `json:"status"`
	StatusCode  uint8    `json:"status_code"`
	Owner       string   `json:"owner"`
	Treasury    string   `json:"treasury,omitempty"`
	Paid        bool     `json:"paid"`
	OpCounter   U64      `json:"op_counter"`
	Owners      []string `json:"owners"`
	Subscribers []string `json:"subscribers"`
	Winners     []string `json:"winners"`
	Lamports    U64      `json:"lamports"`
	Slot        uint64   `json:"slot"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// ReceiptResponse describes a confirmed mutation
type ReceiptResponse struct {
	Operation string `json:"operation"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Attempts  int    `json:"attempts"`
	Replayed  bool   `json:"replayed,omitempty"`
}

// PayoutResponse is the split computed for a distribution
type PayoutResponse struct {
	Available  U64      `json:"available"`
	Commission U64      `json:"commission"`
	BonusEach  U64      `json:"bonus_each"`
	Leftover   U64      `json:"leftover"`
	Treasury   string   `json:"treasury"`
	Winners    []string `json:"winners"`
}

// DistributionResponse answers POST /api/v1/challenges/{id}/distribute
type DistributionResponse struct {
	*ReceiptResponse
	AlreadyDone bool            `json:"already_done"`
	Payout      *PayoutResponse `json:"payout,omitempty"`
}

// LogsResponse carries the program logs of a landed transaction
type LogsResponse struct {
	Signature string   `json:"signature"`
	Logs      []string `json:"logs"`
}

// HealthResponse answers /health and /ready
type HealthResponse struct {
	Status  string `json:"status"`
	Relayer string `json:"relayer,omitempty"`
	Layout  string `json:"layout,omitempty"`
}

type initializeRequest struct {
	ChallengeID *U64   `json:"challenge_id"`
	Fee         *U64   `json:"fee"`
	Commission  *int   `json:"commission"`
	Treasury    string `json:"treasury"`
}

type winnersRequest struct {
	Winners []string `json:"winners"`
}

type refundRequest struct {
	Subscribers []string `json:"subscribers"`
}

type feeRequest struct {
	Fee *U64 `json:"fee"`
}

type commissionRequest struct {
	Commission *int `json:"commission"`
}

type statusRequest struct {
	Status *int `json:"status"`
}

type treasuryRequest struct {
	Treasury string `json:"treasury"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// NewStateResponse renders a snapshot for clients
func NewStateResponse(snap *state.Snapshot) StateResponse {
	st := snap.State
	resp := StateResponse{
		Address:     snap.Address.String(),
		Layout:      string(st.Layout),
		Version:     st.Version,
		Bump:        st.Bump,
		ChallengeID: U64(st.ChallengeID),
		Fee:         U64(st.Fee),
		Commission:  st.Commission,
		Status:      st.Status.String(),
		StatusCode:  uint8(st.Status),
		Owner:       st.Owner.String(),
		Paid:        st.AlreadyPaid(),
		OpCounter:   U64(st.OpCounter),
		Owners:      keyStrings(st.Owners),
		Subscribers: keyStrings(st.Subscribers),
		Winners:     keyStrings(st.Winners),
		Lamports:    U64(snap.Lamports),
		Slot:        snap.Slot,
		Degraded:    st.Degraded,
	}
	if st.Layout.HasTreasury() {
		resp.Treasury = st.Treasury.String()
	}
	return resp
}

func newReceiptResponse(r *challenge.Receipt) *ReceiptResponse {
	if r == nil {
		return nil
	}
	return &ReceiptResponse{
		Operation: r.Operation,
		Address:   r.Address.String(),
		Signature: r.Signature.String(),
		Slot:      r.Slot,
		Attempts:  r.Attempts,
		Replayed:  r.Replayed,
	}
}

func newDistributionResponse(d *challenge.DistributionResult) DistributionResponse {
	resp := DistributionResponse{
		ReceiptResponse: newReceiptResponse(d.Receipt),
		AlreadyDone:     d.AlreadyDone,
	}
	if p := d.Payout; p != nil {
		resp.Payout = &PayoutResponse{
			Available:  U64(p.Available),
			Commission: U64(p.Commission),
			BonusEach:  U64(p.BonusEach),
			Leftover:   U64(p.Leftover),
			Treasury:   p.Treasury.String(),
			Winners:    keyStrings(p.Winners),
		}
	}
	return resp
}
