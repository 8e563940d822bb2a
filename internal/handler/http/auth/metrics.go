package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jwtKeyResults counts KeyByJWT outcomes.
	jwtKeyResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_jwt_key_results_total",
			Help: "JWT key derivations by result",
		},
		[]string{"result"}, // result: valid | missing | invalid | expired
	)
)

// RecordJWTKeyResult records one JWT key derivation.
func RecordJWTKeyResult(result string) {
	jwtKeyResults.WithLabelValues(result).Inc()
}
