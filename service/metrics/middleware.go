package metrics

import (
	"net/http"
	"time"
)

// Route is the handler label of a dispenser endpoint.
type Route string

const (
	RouteFundTransaction      Route = "/fund_transaction"
	RouteDiscordSignedMessage Route = "/discord_signed_message"
	RouteAmountAndProof       Route = "/amount_and_proof"
)

// Instrument wraps h so requests to route are timed, counted by status class
// and tracked while in flight. Requests turned away before reaching the
// funder (429, 400) land in the 4xx class of the same route. A nil Metrics
// returns h unchanged.
func Instrument(m *Metrics, route Route, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	label := string(route)
	inFlight := m.httpInFlight.WithLabelValues(label)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight.Inc()
		defer inFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		h.ServeHTTP(rec, r)
		m.RecordHTTPRequest(label, r.Method, rec.status(), time.Since(start).Seconds())
	})
}

// statusRecorder keeps the first status sent to the client. A handler that
// writes a body without calling WriteHeader sent 200.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}
