package streamserver

import (
	"context"
	"net"
	"time"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

const tcpFirstByteTimeout = 1 * time.Second

// ServeTCP runs the raw TCP listener described in spec.md §4.8. There
// is no authentication and no admission retry: a rejected connection
// is closed immediately after accept.
func ServeTCP(ctx context.Context, h *Hub, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	h.Logger.WithField("addr", addr).Info("tcp server started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				h.Logger.WithError(err).Warn("tcp accept failed")
				continue
			}
		}
		go h.handleTCPConn(ctx, conn)
	}
}

func (h *Hub) handleTCPConn(ctx context.Context, conn net.Conn) {
	ip := tcpClientIP(conn)

	tok, ok := h.Limiter.Acquire(ip)
	if !ok {
		_ = conn.Close()
		return
	}

	h.tcpConnected()
	log := h.Logger.WithField("remote_addr", ip.String())
	log.Info("tcp client connected")

	defer func() {
		_ = conn.Close()
		tok.Release()
		h.tcpDisconnected()
		log.Info("tcp client disconnected")
	}()

	variant := sniffTCPVariant(conn)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := h.Bus.Subscribe()
	var lastLagged uint64

	for {
		msg, err := sub.Next(connCtx)
		if err != nil {
			return
		}
		if lagged := sub.Lagged(); lagged > lastLagged {
			h.Metrics.WSMessagesLagged.Add(float64(lagged - lastLagged))
			lastLagged = lagged
		}

		payload := msg.Payload(variant)
		if _, err := conn.Write(payload); err != nil {
			return
		}
		if _, err := conn.Write([]byte("\n")); err != nil {
			return
		}
		h.Metrics.MessagesSent.Inc()
	}
}

// sniffTCPVariant reads the first byte non-blockingly with a 1s
// timeout: f/F -> full, d/D -> domains, anything else or a timeout ->
// lite.
func sniffTCPVariant(conn net.Conn) certmodel.StreamVariant {
	_ = conn.SetReadDeadline(time.Now().Add(tcpFirstByteTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var b [1]byte
	n, err := conn.Read(b[:])
	if err != nil || n != 1 {
		return certmodel.VariantLite
	}
	switch b[0] {
	case 'f', 'F':
		return certmodel.VariantFull
	case 'd', 'D':
		return certmodel.VariantDomains
	default:
		return certmodel.VariantLite
	}
}

func tcpClientIP(conn net.Conn) net.IP {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return net.IPv4zero
	}
	return addr.IP
}
