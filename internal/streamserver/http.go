package streamserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// exampleEnvelope is the static payload served at /example.json, a
// fixed reference document existing clients diff their parser against.
var exampleEnvelope = []byte(`{
  "message_type": "certificate_update",
  "data": {
    "update_type": "X509LogEntry",
    "leaf_cert": {
      "subject": {"CN": "example.com", "aggregated": "/CN=example.com"},
      "issuer": {"C": "US", "O": "Example CA", "CN": "Example CA", "aggregated": "/C=US/O=Example CA/CN=Example CA"},
      "serial_number": "0123456789ABCDEF",
      "not_before": 1700000000,
      "not_after": 1731536000,
      "fingerprint": "AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD",
      "fingerprint_sha256": "AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99",
      "signature_algorithm": "sha256, rsa",
      "is_ca": false,
      "extensions": {"subjectAltName": "example.com, www.example.com"},
      "all_domains": ["example.com", "www.example.com"],
      "as_der": ""
    },
    "cert_index": 123456789,
    "seen": 1700000000.123456,
    "source": {"name": "Example CT Log", "url": "https://ct.example.com/logs/example/", "operator": "Example Operator"}
  }
}
`)

// NewRouter builds the HTTP surface named in spec.md §6: WS upgrades
// at /, /full-stream, /domains-only; SSE at /sse; /health; /metrics;
// /example.json.
func NewRouter(h *Hub, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", h.handleWebSocket)
	r.Get("/full-stream", h.handleWebSocket)
	r.Get("/domains-only", h.handleWebSocket)
	r.Get("/sse", h.handleSSE)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metricsHandler)
	r.Get("/example.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(exampleEnvelope)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTPWithTLS starts the HTTP server, using TLS if certFile and
// keyFile are both non-empty, and shuts it down gracefully when ctx is
// cancelled, mirroring the teacher's context-driven server lifecycle.
func ServeHTTPWithTLS(ctx context.Context, addr string, handler http.Handler, certFile, keyFile string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = server.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}
}
