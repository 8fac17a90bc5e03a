package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
)

func TestRequestIDMiddleware(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{}, Options{})

	t.Run("assigns a fresh id", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/health", "")
		_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
		require.NoError(t, err)
	})

	t.Run("keeps a caller id", func(t *testing.T) {
		id := uuid.NewString()
		w := do(t, s, http.MethodGet, "/health", "", HeaderRequestID, id)
		assert.Equal(t, id, w.Header().Get(HeaderRequestID))
	})

	t.Run("replaces a malformed id", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/health", "", HeaderRequestID, "<script>")
		assert.NotEqual(t, "<script>", w.Header().Get(HeaderRequestID))
	})

	t.Run("error body carries the id", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/nowhere", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, w.Header().Get(HeaderRequestID), decode[ErrorResponse](t, w).RequestID)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{}, Options{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		w := do(t, s, http.MethodPost, "/api/v1/challenges/1/subscribe", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, s, http.MethodPost, "/api/v1/challenges/1/subscribe", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, relerrors.KindOverload, resp.Kind)
	assert.True(t, resp.Retryable)

	// Another client has its own bucket
	w = do(t, s, http.MethodPost, "/api/v1/challenges/1/subscribe", "", "X-Real-IP", "10.0.0.9")
	assert.Equal(t, http.StatusOK, w.Code)

	// Probes are not limited
	w = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"real ip header", map[string]string{"X-Real-IP": "1.2.3.4"}, "9.9.9.9:1", "1.2.3.4"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "9.9.9.9:1", "5.6.7.8"},
		{"garbage forwarded header", map[string]string{"X-Forwarded-For": "nonsense"}, "9.9.9.9:1", "9.9.9.9"},
		{"remote address", nil, "9.9.9.9:1234", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientID(r))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{}, Options{})

	do(t, s, http.MethodGet, "/health", "")
	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "snzup_relayer_http_requests_total")
	assert.Contains(t, w.Body.String(), `route="/health"`)
}

func TestStatusFor(t *testing.T) {
	tests := map[relerrors.Kind]int{
		relerrors.KindValidation:  http.StatusBadRequest,
		relerrors.KindNotFound:    http.StatusNotFound,
		relerrors.KindDecode:      http.StatusBadGateway,
		relerrors.KindOverload:    http.StatusServiceUnavailable,
		relerrors.KindTransient:   http.StatusServiceUnavailable,
		relerrors.KindProgram:     http.StatusUnprocessableEntity,
		relerrors.KindWrapper:     http.StatusBadRequest,
		relerrors.KindAlreadyDone: http.StatusOK,
		relerrors.KindConfig:      http.StatusInternalServerError,
		relerrors.KindInternal:    http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}
