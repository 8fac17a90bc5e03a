package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"

	"github.com/snzup/subscription-relayer/relayer/challenge"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/state"
)

const maxBodyBytes = 1 << 20

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Relayer: s.svc.Relayer().String(),
		Layout:  string(s.svc.Layout()),
	})
}

// handleReady handles GET /ready
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.prober != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.ProbeTimeout)
		defer cancel()
		if err := s.prober.Probe(ctx); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

// handleAddress handles GET /api/v1/challenges/{id}/address?owner=<owner>
func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	ref, err := s.ref(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, bump, err := s.svc.Address(ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AddressResponse{
		Address:     addr.String(),
		Bump:        bump,
		Owner:       ref.Owner.String(),
		ChallengeID: U64(ref.ChallengeID),
	})
}

// handleGetState handles GET /api/v1/challenges/{id}?owner=<owner>&fresh=<bool>
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	ref, err := s.ref(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fresh := false
	if v := r.URL.Query().Get("fresh"); v != "" {
		if fresh, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, relerrors.Validationf(relerrors.ReasonInvalidInput, "fresh %q is not a boolean", v))
			return
		}
	}
	snap, err := s.svc.GetState(r.Context(), ref, fresh)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateResponse(snap))
}

// handleTransactionLogs handles GET /api/v1/challenges/{id}/transactions/{sig}/logs
func (s *Server) handleTransactionLogs(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["sig"]
	sig, err := solana.SignatureFromBase58(raw)
	if err != nil {
		s.writeError(w, r, relerrors.Validationf(relerrors.ReasonInvalidInput, "signature %q is not valid base58", raw))
		return
	}
	logs, err := s.svc.TransactionLogs(r.Context(), sig)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Signature: sig.String(), Logs: logs})
}

// handleInitialize handles POST /api/v1/challenges
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	r, err := idempotencyKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ChallengeID == nil || req.Fee == nil || req.Commission == nil {
		s.writeError(w, r, relerrors.Validation(relerrors.ReasonInvalidInput, "challenge_id, fee and commission are required"))
		return
	}
	pct, err := percent(*req.Commission)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := challenge.InitializeParams{
		ChallengeID: uint64(*req.ChallengeID),
		Fee:         uint64(*req.Fee),
		Commission:  pct,
	}
	if req.Treasury != "" {
		if p.Treasury, err = state.ParsePublicKey("treasury", req.Treasury); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	receipt, err := s.svc.Initialize(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReceiptResponse(receipt))
}

// handleSubscribe handles POST /api/v1/challenges/{id}/subscribe
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, nil, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		return s.svc.Subscribe(ctx, ref)
	})
}

// handleSetWinners handles PUT /api/v1/challenges/{id}/winners
func (s *Server) handleSetWinners(w http.ResponseWriter, r *http.Request) {
	var req winnersRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		winners, err := state.ParsePublicKeys("winner", req.Winners)
		if err != nil {
			return nil, err
		}
		return s.svc.SetWinners(ctx, ref, winners)
	})
}

// handleDistribute handles POST /api/v1/challenges/{id}/distribute
func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	r, err := idempotencyKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.ref(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.SendBonusToWinners(r.Context(), ref)
	if err != nil {
		if relerrors.IsKind(err, relerrors.KindAlreadyDone) {
			writeJSON(w, http.StatusOK, DistributionResponse{AlreadyDone: true})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDistributionResponse(res))
}

// handleRefund handles POST /api/v1/challenges/{id}/refund
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		subscribers, err := state.ParsePublicKeys("subscriber", req.Subscribers)
		if err != nil {
			return nil, err
		}
		return s.svc.RefundBatch(ctx, ref, subscribers)
	})
}

// handleSetFee handles PUT /api/v1/challenges/{id}/fee
func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		if req.Fee == nil {
			return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "fee is required")
		}
		return s.svc.SetFee(ctx, ref, uint64(*req.Fee))
	})
}

// handleSetCommission handles PUT /api/v1/challenges/{id}/commission
func (s *Server) handleSetCommission(w http.ResponseWriter, r *http.Request) {
	var req commissionRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		if req.Commission == nil {
			return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "commission is required")
		}
		pct, err := percent(*req.Commission)
		if err != nil {
			return nil, err
		}
		return s.svc.SetCommission(ctx, ref, pct)
	})
}

// handleSetStatus handles PUT /api/v1/challenges/{id}/status
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		if req.Status == nil {
			return nil, relerrors.Validation(relerrors.ReasonInvalidInput, "status is required")
		}
		if *req.Status < 0 || *req.Status > 255 {
			return nil, relerrors.Validationf(relerrors.ReasonInvalidStatus, "status %d is not one of 0..3", *req.Status)
		}
		return s.svc.SetStatus(ctx, ref, state.Status(*req.Status))
	})
}

// handleSetTreasury handles PUT /api/v1/challenges/{id}/treasury
func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		treasury, err := state.ParsePublicKey("treasury", req.Treasury)
		if err != nil {
			return nil, err
		}
		return s.svc.SetTreasury(ctx, ref, treasury)
	})
}

// handleSetOwner handles POST /api/v1/challenges/{id}/owners
func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	s.mutation(w, r, &req, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		owner, err := state.ParsePublicKey("owner", req.Owner)
		if err != nil {
			return nil, err
		}
		return s.svc.SetOwner(ctx, ref, owner)
	})
}

// handleRemoveOwner handles DELETE /api/v1/challenges/{id}/owners/{user}
func (s *Server) handleRemoveOwner(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, nil, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		user, err := state.ParsePublicKey("user", mux.Vars(r)["user"])
		if err != nil {
			return nil, err
		}
		return s.svc.RemoveOwner(ctx, ref, user)
	})
}

// handleCancelSubscription handles DELETE /api/v1/challenges/{id}/subscribers/{subscriber}
func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	s.mutation(w, r, nil, func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error) {
		sub, err := state.ParsePublicKey("subscriber", mux.Vars(r)["subscriber"])
		if err != nil {
			return nil, err
		}
		return s.svc.CancelSubscription(ctx, ref, sub)
	})
}

// mutation is the shared write path: idempotency header, challenge
// reference, optional JSON body into body, then run.
func (s *Server) mutation(w http.ResponseWriter, r *http.Request, body interface{}, run func(ctx context.Context, ref challenge.Ref) (*challenge.Receipt, error)) {
	r, err := idempotencyKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.ref(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if body != nil {
		if err := decodeBody(r, body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	receipt, err := run(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// ref reads the challenge id from the path and the owner from the query.
// The owner defaults to the relayer key.
func (s *Server) ref(r *http.Request) (challenge.Ref, error) {
	id, err := state.ParseChallengeID(mux.Vars(r)["id"])
	if err != nil {
		return challenge.Ref{}, err
	}
	owner := s.svc.Relayer()
	if v := r.URL.Query().Get("owner"); v != "" {
		if owner, err = state.ParsePublicKey("owner", v); err != nil {
			return challenge.Ref{}, err
		}
	}
	return challenge.Ref{Owner: owner, ChallengeID: id}, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return relerrors.Validation(relerrors.ReasonInvalidInput, "request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var relErr *relerrors.Error
		if relerrors.As(err, &relErr) {
			return relErr
		}
		return relerrors.Validationf(relerrors.ReasonInvalidInput, "malformed request body: %v", err)
	}
	return nil
}

func percent(v int) (uint8, error) {
	if v < 0 || v > 100 {
		return 0, relerrors.Validationf(relerrors.ReasonInvalidInput, "commission %d is outside 0..100", v)
	}
	return uint8(v), nil
}
