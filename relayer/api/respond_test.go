package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/metrics"
)

func TestWriteErrorLogsBySeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		level    string
		severity relerrors.Severity
	}{
		{"validation", relerrors.Validation(relerrors.ReasonInvalidInput, "bad fee"), "info", relerrors.SeverityLow},
		{"program rejection", relerrors.Program(nil, "", "rejected", nil), "warn", relerrors.SeverityMedium},
		{"abandoned call", context.Canceled, "warn", relerrors.SeverityMedium},
		{"decode", relerrors.Decode(relerrors.ReasonInvalidInput, "short account"), "error", relerrors.SeverityHigh},
		{"unexpected", errors.New("nil map"), "error", relerrors.SeverityCritical},
		{"already done", relerrors.AlreadyDone(relerrors.ReasonAlreadyPaid, "paid"), "debug", relerrors.SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			reg := prometheus.NewRegistry()
			s := NewServer(&fakeService{}, fakeProber{}, reg, metrics.New(reg), Options{}, zerolog.New(&buf).Level(zerolog.DebugLevel))

			w := httptest.NewRecorder()
			s.writeError(w, httptest.NewRequest(http.MethodGet, "/api/v1/challenges/1", nil), tt.err)

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, string(tt.severity), entry["severity"])
			assert.Equal(t, "request failed", entry["message"])
		})
	}
}
