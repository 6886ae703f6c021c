// Package auth implements the bearer-token check applied to WebSocket
// and SSE connections. TCP is intentionally unauthenticated (spec.md
// §6): it carries no headers to check.
package auth

import (
	"strings"

	"github.com/burakozcn01/certstream-server-go/pkg/utils"
)

const bearerPrefix = "Bearer "

// Validate reports whether headerValue, after stripping an optional
// "Bearer " prefix, matches one of tokens in constant time. enabled
// false always validates, matching the original middleware's pass-
// through when auth is off.
func Validate(enabled bool, headerValue string, tokens []string) bool {
	if !enabled {
		return true
	}
	if headerValue == "" {
		return false
	}

	token := headerValue
	if strings.HasPrefix(token, bearerPrefix) {
		token = token[len(bearerPrefix):]
	}

	ok := false
	for _, t := range tokens {
		if utils.ConstantTimeCompare(token, t) {
			ok = true
		}
	}
	return ok
}
