// Package streamserver exposes the broadcast bus to clients over
// WebSocket, SSE, and raw TCP, per the wire contracts in spec.md §4.8.
package streamserver

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/burakozcn01/certstream-server-go/internal/auth"
	"github.com/burakozcn01/certstream-server-go/internal/broadcast"
	"github.com/burakozcn01/certstream-server-go/internal/connlimit"
	"github.com/burakozcn01/certstream-server-go/internal/metrics"
	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

// RuntimeConfig is the auth slice of configuration that hot reload
// swaps; connection limits are swapped separately on the Limiter. It
// is read by new connections through an atomic pointer; in-flight
// connections never observe a change mid-stream (spec.md §5 and §9).
// WSEnabled, SSEEnabled and TCPEnabled are carried in the snapshot but
// no protocol adapter reads them, so every protocol is always served.
type RuntimeConfig struct {
	AuthEnabled    bool
	AuthHeaderName string
	AuthTokens     []string
	WSEnabled      bool
	SSEEnabled     bool
	TCPEnabled     bool
}

// Hub is the set of shared collaborators every protocol adapter needs:
// the bus to subscribe to, the connection limiter, the metrics
// collector, and the current runtime config snapshot.
type Hub struct {
	Bus     *broadcast.Bus
	Limiter *connlimit.Limiter
	Metrics *metrics.Collector
	Logger  *logrus.Entry

	runtimeCfg atomic.Pointer[RuntimeConfig]

	wsTotal   atomic.Int64
	wsFull    atomic.Int64
	wsLite    atomic.Int64
	wsDomains atomic.Int64
	sseCount  atomic.Int64
	tcpCount  atomic.Int64
}

func NewHub(bus *broadcast.Bus, limiter *connlimit.Limiter, m *metrics.Collector, logger *logrus.Entry, cfg RuntimeConfig) *Hub {
	h := &Hub{Bus: bus, Limiter: limiter, Metrics: m, Logger: logger}
	h.SetRuntimeConfig(cfg)
	return h
}

func (h *Hub) SetRuntimeConfig(cfg RuntimeConfig) {
	c := cfg
	h.runtimeCfg.Store(&c)
}

func (h *Hub) RuntimeConfig() RuntimeConfig {
	return *h.runtimeCfg.Load()
}

func (h *Hub) wsConnected(v certmodel.StreamVariant) {
	h.wsTotal.Add(1)
	h.Metrics.WSConnectionsTotal.Set(float64(h.wsTotal.Load()))
	switch v {
	case certmodel.VariantFull:
		h.Metrics.WSConnectionsFull.Set(float64(h.wsFull.Add(1)))
	case certmodel.VariantDomains:
		h.Metrics.WSConnectionsDomains.Set(float64(h.wsDomains.Add(1)))
	default:
		h.Metrics.WSConnectionsLite.Set(float64(h.wsLite.Add(1)))
	}
}

func (h *Hub) wsDisconnected(v certmodel.StreamVariant) {
	h.Metrics.WSConnectionsTotal.Set(float64(h.wsTotal.Add(-1)))
	switch v {
	case certmodel.VariantFull:
		h.Metrics.WSConnectionsFull.Set(float64(h.wsFull.Add(-1)))
	case certmodel.VariantDomains:
		h.Metrics.WSConnectionsDomains.Set(float64(h.wsDomains.Add(-1)))
	default:
		h.Metrics.WSConnectionsLite.Set(float64(h.wsLite.Add(-1)))
	}
}

func (h *Hub) sseConnected() {
	h.Metrics.SSEConnections.Set(float64(h.sseCount.Add(1)))
}

func (h *Hub) sseDisconnected() {
	h.Metrics.SSEConnections.Set(float64(h.sseCount.Add(-1)))
}

func (h *Hub) tcpConnected() {
	h.Metrics.TCPConnections.Set(float64(h.tcpCount.Add(1)))
}

func (h *Hub) tcpDisconnected() {
	h.Metrics.TCPConnections.Set(float64(h.tcpCount.Add(-1)))
}

// authorize checks the configured auth header against the runtime
// token set. WS and SSE are gated; TCP is not (spec.md §6).
func (h *Hub) authorize(headerValue string) bool {
	cfg := h.RuntimeConfig()
	return auth.Validate(cfg.AuthEnabled, headerValue, cfg.AuthTokens)
}
