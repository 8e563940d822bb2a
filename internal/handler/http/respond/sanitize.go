package respond

import (
	"regexp"
)

var (
	// Credentials in connection URLs, e.g. postgres://user:pw@ or redis://:pw@.
	dsnPasswordPattern = regexp.MustCompile(`://([^:/@\s]*):([^@/\s]+)@`)

	// Keyword DSNs: password=secret.
	kvPasswordPattern = regexp.MustCompile(`(?i)(password=)\S+`)

	// Authorization header values.
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`)

	// Bare JWTs (header.payload.signature, header always starts with eyJ).
	jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
)

// SanitizeError returns the error message with credentials masked, for
// logging errors that may embed connection strings or tokens.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	msg = kvPasswordPattern.ReplaceAllString(msg, "${1}****")
	msg = bearerPattern.ReplaceAllString(msg, "${1}****")
	msg = jwtPattern.ReplaceAllString(msg, "****")
	return msg
}
