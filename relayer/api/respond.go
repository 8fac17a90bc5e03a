package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

// statusFor maps an error kind to the HTTP status it is served with
func statusFor(kind relerrors.Kind) int {
	switch kind {
	case relerrors.KindValidation, relerrors.KindWrapper:
		return http.StatusBadRequest
	case relerrors.KindNotFound:
		return http.StatusNotFound
	case relerrors.KindDecode:
		return http.StatusBadGateway
	case relerrors.KindOverload, relerrors.KindTransient:
		return http.StatusServiceUnavailable
	case relerrors.KindProgram:
		return http.StatusUnprocessableEntity
	case relerrors.KindAlreadyDone:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := relerrors.From(err)
	status := statusFor(e.Kind)

	s.logger.WithLevel(levelForSeverity(e.Severity)).Err(err).
		Str("request_id", RequestID(r.Context())).
		Str("kind", string(e.Kind)).
		Str("reason", e.Reason).
		Str("severity", string(e.Severity)).
		Int("status", status).
		Msg("request failed")

	message := e.Message
	if e.Kind == relerrors.KindInternal {
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{
		Kind:        e.Kind,
		Reason:      e.Reason,
		Message:     message,
		Retryable:   e.Retryable(),
		Code:        e.Code,
		Diagnostics: e.Diagnostics,
		RequestID:   RequestID(r.Context()),
	})
}

// levelForSeverity picks the level a failed request is logged at
func levelForSeverity(sev relerrors.Severity) zerolog.Level {
	switch sev {
	case relerrors.SeverityCritical, relerrors.SeverityHigh:
		return zerolog.ErrorLevel
	case relerrors.SeverityMedium:
		return zerolog.WarnLevel
	case relerrors.SeverityLow:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func logLevelFor(status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.WarnLevel
	case status >= http.StatusBadRequest:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
