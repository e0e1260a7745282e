package logging

import (
	"regexp"
)

const (
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"

	// tokenLogPrefixLen is how much of an anonymous user token survives into
	// logs. Enough to correlate entries, not enough to reconstruct the token.
	tokenLogPrefixLen = 8
)

var (
	// Pattern to match potential passwords in connection strings.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Pattern to match JWT bearer tokens (three base64 segments separated by dots).
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Pattern to match connection string credentials (user:pass@host format).
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string.
// Use this before logging any database URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError scrubs error messages that might carry credentials or tokens.
// Use this before logging any error from the storage layer or auth stack.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// ShortenToken truncates an anonymous user token for logging. The engine
// exists to keep these tokens write-only; full values never belong in logs.
func ShortenToken(token string) string {
	if len(token) <= tokenLogPrefixLen {
		return token
	}
	return token[:tokenLogPrefixLen] + "..."
}
