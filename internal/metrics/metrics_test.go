package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricNamesMatchTheExternalInterface(t *testing.T) {
	c := New()
	c.MessagesSent.Inc()
	c.WSConnectionsTotal.Set(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, name := range []string{
		"certstream_ws_connections_total",
		"certstream_ws_connections_full",
		"certstream_ws_connections_lite",
		"certstream_ws_connections_domains",
		"certstream_sse_connections",
		"certstream_tcp_connections",
		"certstream_ct_logs_count",
		"certstream_messages_sent",
		"certstream_ws_messages_lagged",
	} {
		require.Contains(t, body, name)
	}
}

func TestNewRegistersEachMetricOnce(t *testing.T) {
	require.NotPanics(t, func() { New() }, "constructing a second independent registry must not panic on duplicate registration")
}
