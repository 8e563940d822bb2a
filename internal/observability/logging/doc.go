// Package logging builds the gateway's slog loggers.
//
// Example usage:
//
//	logger := logging.NewLogger() // LOG_LEVEL, LOG_FORMAT
//	slog.SetDefault(logger)
//
//	func handle(w http.ResponseWriter, r *http.Request) {
//	    logging.WithRequestID(r.Context(), logger).Warn("upstream failed")
//	}
package logging
