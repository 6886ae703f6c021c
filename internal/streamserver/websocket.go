package streamserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

const (
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// releaser is the subset of connlimit.Token this package depends on,
// so tests can fake admission without importing connlimit.
type releaser interface{ Release() }

// handleWebSocket upgrades the request and runs the send loop until
// the client disconnects, the bus subscription errors, or the ping
// deadline lapses. Path selects the stream variant.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	variant := variantForPath(r.URL.Path)

	ip := clientIP(r)
	if !h.authorize(r.Header.Get(h.RuntimeConfig().AuthHeaderName)) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tok, ok := h.Limiter.Acquire(ip)
	if !ok {
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		tok.Release()
		return
	}

	h.runWebSocketSession(conn, variant, tok, ip)
}

func (h *Hub) runWebSocketSession(conn *websocket.Conn, variant certmodel.StreamVariant, tok releaser, ip net.IP) {
	h.wsConnected(variant)
	log := h.Logger.WithField("remote_addr", ip.String()).WithField("variant", variant.String())
	log.Info("websocket client connected")

	defer func() {
		_ = conn.Close()
		tok.Release()
		h.wsDisconnected(variant)
		log.Info("websocket client disconnected")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(messageType, data)
	}

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	// Client frames carry no protocol meaning; drain and discard them
	// so control frames (ping/close) still get processed by gorilla.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	sub := h.Bus.Subscribe()
	var lastLagged uint64

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if lagged := sub.Lagged(); lagged > lastLagged {
			h.Metrics.WSMessagesLagged.Add(float64(lagged - lastLagged))
			lastLagged = lagged
		}

		if err := write(websocket.TextMessage, msg.Payload(variant)); err != nil {
			return
		}
		h.Metrics.MessagesSent.Inc()
	}
}

func variantForPath(path string) certmodel.StreamVariant {
	switch path {
	case "/full-stream":
		return certmodel.VariantFull
	case "/domains-only":
		return certmodel.VariantDomains
	default:
		return certmodel.VariantLite
	}
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}
