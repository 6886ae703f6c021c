package utils

import "crypto/subtle"

// ConstantTimeCompare reports whether a and b are equal, taking time
// independent of where they first differ. Used for bearer token
// comparison so auth never leaks timing information.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
