// Package connlimit admits and releases connections against a global
// ceiling and a per-IP ceiling. Release is a scoped token the caller
// holds for the lifetime of the actual stream, not for the lifetime of
// the HTTP handshake that started it — releasing at handshake-return
// time undercounts long-lived WS/SSE streams (the v1.0.4 bug spec.md
// §4.7/§9 calls out).
package connlimit

import (
	"net"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type Config struct {
	MaxConnections int // 0 means unlimited
	PerIPLimit     int // 0 means unlimited
}

// Limiter tracks a global connection count plus a per-IP count in a
// lock-free map, since admission checks happen on every inbound
// connection across WS, SSE, and raw TCP. cfg is an atomic
// pointer so hot reload can swap limits without a lock on the
// admission hot path; an in-flight connection's already-held Token is
// unaffected by a swap (spec.md §5).
type Limiter struct {
	cfg   atomic.Pointer[Config]
	total atomic.Int64
	perIP *xsync.MapOf[string, *atomic.Int64]
}

func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{perIP: xsync.NewMapOf[string, *atomic.Int64]()}
	l.cfg.Store(&cfg)
	return l
}

// SetLimits swaps the limiter's configuration for new connections.
func (l *Limiter) SetLimits(maxConnections, perIPLimit int) {
	l.cfg.Store(&Config{MaxConnections: maxConnections, PerIPLimit: perIPLimit})
}

// Token is a held admission slot. Release must be called exactly once,
// when the connection actually closes.
type Token struct {
	l  *Limiter
	ip string
}

// Acquire tries to admit a connection from ip. ok is false if either
// the global or per-IP ceiling is already at its limit; in that case
// tok is the zero Token and must not be released.
func (l *Limiter) Acquire(ip net.IP) (tok Token, ok bool) {
	key := ip.String()
	cfg := l.cfg.Load()

	if cfg.MaxConnections > 0 {
		for {
			cur := l.total.Load()
			if cur >= int64(cfg.MaxConnections) {
				return Token{}, false
			}
			if l.total.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	} else {
		l.total.Add(1)
	}

	if cfg.PerIPLimit > 0 {
		counter, _ := l.perIP.LoadOrStore(key, &atomic.Int64{})
		for {
			cur := counter.Load()
			if cur >= int64(cfg.PerIPLimit) {
				l.total.Add(-1)
				return Token{}, false
			}
			if counter.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	} else {
		counter, _ := l.perIP.LoadOrStore(key, &atomic.Int64{})
		counter.Add(1)
	}

	return Token{l: l, ip: key}, true
}

// Release gives back the admission slot held by tok. Safe to call on
// the zero Token (no-op), so defer Release() is safe even when Acquire
// returns ok == false as long as the caller checks ok first.
func (t Token) Release() {
	if t.l == nil {
		return
	}
	t.l.total.Add(-1)
	if counter, ok := t.l.perIP.Load(t.ip); ok {
		if counter.Add(-1) <= 0 {
			t.l.perIP.Delete(t.ip)
		}
	}
}

// Count returns the current global connection count.
func (l *Limiter) Count() int64 {
	return l.total.Load()
}
