package http

import (
	"net/http"

	"routelimit/internal/handler/http/respond"
)

// InputLimits bounds the size of request inputs. A zero field disables
// that check.
type InputLimits struct {
	// MaxAuthHeaderBytes limits the Authorization header. JWTs are
	// typically under 1KB.
	MaxAuthHeaderBytes int

	// MaxPathBytes limits the URL path.
	MaxPathBytes int

	// MaxBodyBytes limits the request body. Exceeding it surfaces as a
	// read error in the handler, here the upstream proxy.
	MaxBodyBytes int64
}

// DefaultInputLimits returns 8KB, 2KB and 10MB.
func DefaultInputLimits() InputLimits {
	return InputLimits{
		MaxAuthHeaderBytes: 8 << 10,
		MaxPathBytes:       2 << 10,
		MaxBodyBytes:       10 << 20,
	}
}

// InputValidation returns middleware that rejects oversized requests
// before they reach key derivation or the upstream.
//
// HTTP Status Codes:
//   - 400 Bad Request: Authorization header too large
//   - 414 URI Too Long: path too long
func InputValidation(limits InputLimits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limits.MaxAuthHeaderBytes > 0 && len(r.Header.Get("Authorization")) > limits.MaxAuthHeaderBytes {
				respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "authorization header too large"})
				return
			}

			if limits.MaxPathBytes > 0 && len(r.URL.Path) > limits.MaxPathBytes {
				respond.JSON(w, http.StatusRequestURITooLong, map[string]string{"error": "URI too long"})
				return
			}

			if limits.MaxBodyBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBodyBytes)
			}

			next.ServeHTTP(w, r)
		})
	}
}
