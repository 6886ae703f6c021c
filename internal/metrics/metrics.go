// Package metrics wraps the process-wide Prometheus registry. The
// metric names are part of the external interface (spec.md §6) so
// they are concrete fields, not a generic string-keyed registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	WSConnectionsTotal   prometheus.Gauge
	WSConnectionsFull    prometheus.Gauge
	WSConnectionsLite    prometheus.Gauge
	WSConnectionsDomains prometheus.Gauge
	SSEConnections       prometheus.Gauge
	TCPConnections       prometheus.Gauge
	CTLogsCount          prometheus.Gauge
	MessagesSent         prometheus.Counter
	WSMessagesLagged     prometheus.Counter
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	_ = reg.Register(collectors.NewGoCollector())

	c := &Collector{
		registry: reg,
		WSConnectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_ws_connections_total", Help: "Current number of websocket connections across all streams.",
		}),
		WSConnectionsFull: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_ws_connections_full", Help: "Current number of full-stream websocket connections.",
		}),
		WSConnectionsLite: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_ws_connections_lite", Help: "Current number of lite-stream websocket connections.",
		}),
		WSConnectionsDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_ws_connections_domains", Help: "Current number of domains-only websocket connections.",
		}),
		SSEConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_sse_connections", Help: "Current number of SSE connections.",
		}),
		TCPConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_tcp_connections", Help: "Current number of raw TCP connections.",
		}),
		CTLogsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certstream_ct_logs_count", Help: "Number of CT logs currently tracked by the registry.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certstream_messages_sent", Help: "Total number of certificate messages delivered to subscribers.",
		}),
		WSMessagesLagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certstream_ws_messages_lagged", Help: "Total number of messages dropped from a subscriber's view due to lag.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.WSConnectionsTotal, c.WSConnectionsFull, c.WSConnectionsLite, c.WSConnectionsDomains,
		c.SSEConnections, c.TCPConnections, c.CTLogsCount, c.MessagesSent, c.WSMessagesLagged,
	} {
		_ = reg.Register(m)
	}

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
