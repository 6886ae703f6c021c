package streamserver

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/burakozcn01/certstream-server-go/internal/broadcast"
	"github.com/burakozcn01/certstream-server-go/internal/connlimit"
	"github.com/burakozcn01/certstream-server-go/internal/metrics"
	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

func testHub() *Hub {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewHub(
		broadcast.NewBus(16),
		connlimit.NewLimiter(connlimit.Config{}),
		metrics.New(),
		logrus.NewEntry(l),
		RuntimeConfig{WSEnabled: true, SSEEnabled: true, TCPEnabled: true},
	)
}

func TestHubRuntimeConfigRoundTrips(t *testing.T) {
	h := testHub()
	h.SetRuntimeConfig(RuntimeConfig{AuthEnabled: true, AuthTokens: []string{"tok"}})

	cfg := h.RuntimeConfig()
	require.True(t, cfg.AuthEnabled)
	require.Equal(t, []string{"tok"}, cfg.AuthTokens)
}

func TestHubAuthorizeDelegatesToRuntimeConfig(t *testing.T) {
	h := testHub()
	require.True(t, h.authorize(""), "auth disabled by default should pass through")

	h.SetRuntimeConfig(RuntimeConfig{AuthEnabled: true, AuthTokens: []string{"secret"}})
	require.False(t, h.authorize(""))
	require.True(t, h.authorize("Bearer secret"))
}

func TestHubWSConnectedTracksPerVariantCounters(t *testing.T) {
	h := testHub()

	h.wsConnected(certmodel.VariantFull)
	h.wsConnected(certmodel.VariantLite)
	h.wsConnected(certmodel.VariantLite)
	require.EqualValues(t, 3, h.wsTotal.Load())
	require.EqualValues(t, 1, h.wsFull.Load())
	require.EqualValues(t, 2, h.wsLite.Load())

	h.wsDisconnected(certmodel.VariantLite)
	require.EqualValues(t, 2, h.wsTotal.Load())
	require.EqualValues(t, 1, h.wsLite.Load())
}

func TestHubSSEAndTCPCounters(t *testing.T) {
	h := testHub()

	h.sseConnected()
	h.sseConnected()
	h.sseDisconnected()
	require.EqualValues(t, 1, h.sseCount.Load())

	h.tcpConnected()
	require.EqualValues(t, 1, h.tcpCount.Load())
	h.tcpDisconnected()
	require.EqualValues(t, 0, h.tcpCount.Load())
}
