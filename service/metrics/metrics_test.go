package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordValidation(nil)
	m.RecordValidation([]string{"is_current_version", "signature_count_within_bound"})
	m.RecordValidation([]string{"is_current_version"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validationRejections.WithLabelValues("is_current_version")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationRejections.WithLabelValues("signature_count_within_bound")))
}

func TestRecordFundingRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFundingRequest("funded", 3)
	m.RecordFundingRequest("rejected", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fundingRequestsTotal.WithLabelValues("funded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fundedTransactions))
}

func TestInstrument(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := Instrument(m, RouteFundTransaction, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight.WithLabelValues("/fund_transaction")))
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fund_transaction", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/fund_transaction", "POST", "4xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight.WithLabelValues("/fund_transaction")))
}

func TestInstrument_StatusRecording(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"body only", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"amount":1}`)) }, "2xx"},
		{"nothing written", func(w http.ResponseWriter, r *http.Request) {}, "2xx"},
		{"first status wins", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.WriteHeader(http.StatusInternalServerError)
		}, "4xx"},
		{"status after body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
			w.WriteHeader(http.StatusBadGateway)
		}, "2xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics(prometheus.NewRegistry())
			Instrument(m, RouteAmountAndProof, tt.handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/amount_and_proof", nil))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/amount_and_proof", "GET", tt.want)))
		})
	}
}

func TestInstrument_NilMetrics(t *testing.T) {
	called := false
	handler := Instrument(nil, RouteDiscordSignedMessage, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/discord_signed_message", nil))
	assert.True(t, called)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(200))
	assert.Equal(t, "4xx", statusCodeToString(403))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
