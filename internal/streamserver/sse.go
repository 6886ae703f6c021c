package streamserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

const sseHeartbeatInterval = 15 * time.Second

// handleSSE streams one of the three variants as `data: <json>\n\n`
// events, with a `:\n\n` comment heartbeat every 15s and no event ids.
func (h *Hub) handleSSE(w http.ResponseWriter, r *http.Request) {
	variant := certmodel.ParseStreamVariant(r.URL.Query().Get("stream"))

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
	defer tok.Release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.sseConnected()
	log := h.Logger.WithField("remote_addr", ip.String()).WithField("variant", variant.String())
	log.Info("sse client connected")
	defer func() {
		h.sseDisconnected()
		log.Info("sse client disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.Bus.Subscribe()
	var lastLagged uint64

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	msgCh := make(chan *certmodel.PreSerialized)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			_ = err
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-msgCh:
			if lagged := sub.Lagged(); lagged > lastLagged {
				h.Metrics.WSMessagesLagged.Add(float64(lagged - lastLagged))
				lastLagged = lagged
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg.Payload(variant)); err != nil {
				return
			}
			flusher.Flush()
			h.Metrics.MessagesSent.Inc()
		}
	}
}
