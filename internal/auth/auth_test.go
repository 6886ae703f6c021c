package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePassesThroughWhenDisabled(t *testing.T) {
	require.True(t, Validate(false, "", nil))
	require.True(t, Validate(false, "garbage", nil))
}

func TestValidateRejectsEmptyHeaderWhenEnabled(t *testing.T) {
	require.False(t, Validate(true, "", []string{"secret"}))
}

func TestValidateAcceptsBareToken(t *testing.T) {
	require.True(t, Validate(true, "secret", []string{"secret"}))
}

func TestValidateStripsBearerPrefix(t *testing.T) {
	require.True(t, Validate(true, "Bearer secret", []string{"secret"}))
}

func TestValidateRejectsWrongToken(t *testing.T) {
	require.False(t, Validate(true, "Bearer wrong", []string{"secret"}))
}

func TestValidateAcceptsAnyOfMultipleTokens(t *testing.T) {
	require.True(t, Validate(true, "Bearer second", []string{"first", "second", "third"}))
}

func TestValidateRejectsWhenTokenListEmpty(t *testing.T) {
	require.False(t, Validate(true, "Bearer anything", nil))
}
