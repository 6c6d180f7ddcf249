package security

import (
	"regexp"
	"strings"
)

var (
	jwtPattern    = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|private[_-]?key)["\s:=]+["']?([a-zA-Z0-9_-]{16,})["']?`)
)

// MaskString redacts credentials that upstream error bodies sometimes echo.
// Addresses and hashes are left readable.
func MaskString(s string) string {
	s = jwtPattern.ReplaceAllString(s, "eyJ***REDACTED***")
	s = bearerPattern.ReplaceAllString(s, "Bearer ***REDACTED***")
	s = apiKeyPattern.ReplaceAllString(s, "$1: ***REDACTED***")
	return s
}

// MaskAddress keeps the first 6 and last 4 characters of a wallet address
func MaskAddress(addr string) string {
	if len(addr) < 12 {
		return strings.Repeat("*", len(addr))
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// MaskAPIKey masks an API key showing only first 4 chars
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
