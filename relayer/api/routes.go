package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, s.observe)

	// Probes and metrics
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// API v1 endpoints
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.rateLimit, s.withTimeout)

	v1.HandleFunc("/challenges", s.handleInitialize).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}", s.handleGetState).Methods(http.MethodGet)
	v1.HandleFunc("/challenges/{id}/address", s.handleAddress).Methods(http.MethodGet)
	v1.HandleFunc("/challenges/{id}/transactions/{sig}/logs", s.handleTransactionLogs).Methods(http.MethodGet)

	v1.HandleFunc("/challenges/{id}/subscribe", s.handleSubscribe).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}/winners", s.handleSetWinners).Methods(http.MethodPut)
	v1.HandleFunc("/challenges/{id}/distribute", s.handleDistribute).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}/refund", s.handleRefund).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}/fee", s.handleSetFee).Methods(http.MethodPut)
	v1.HandleFunc("/challenges/{id}/commission", s.handleSetCommission).Methods(http.MethodPut)
	v1.HandleFunc("/challenges/{id}/status", s.handleSetStatus).Methods(http.MethodPut)
	v1.HandleFunc("/challenges/{id}/treasury", s.handleSetTreasury).Methods(http.MethodPut)
	v1.HandleFunc("/challenges/{id}/owners", s.handleSetOwner).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}/owners/{user}", s.handleRemoveOwner).Methods(http.MethodDelete)
	v1.HandleFunc("/challenges/{id}/subscribers/{subscriber}", s.handleCancelSubscription).Methods(http.MethodDelete)

	r.NotFoundHandler = requestID(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, relerrors.NotFound("no such route"))
	}))
	r.MethodNotAllowedHandler = requestID(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Kind:      relerrors.KindValidation,
			Reason:    relerrors.ReasonInvalidInput,
			Message:   req.Method + " is not allowed on " + req.URL.Path,
			RequestID: RequestID(req.Context()),
		})
	}))
	return r
}
