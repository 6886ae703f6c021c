package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/burakozcn01/certstream-server-go/internal/broadcast"
	"github.com/burakozcn01/certstream-server-go/internal/certmsg"
	"github.com/burakozcn01/certstream-server-go/internal/connlimit"
	"github.com/burakozcn01/certstream-server-go/internal/ctdecode"
	"github.com/burakozcn01/certstream-server-go/internal/ctlog"
	"github.com/burakozcn01/certstream-server-go/internal/hotreload"
	"github.com/burakozcn01/certstream-server-go/internal/metrics"
	"github.com/burakozcn01/certstream-server-go/internal/streamserver"
	"github.com/burakozcn01/certstream-server-go/pkg/certlog"
	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
	"github.com/burakozcn01/certstream-server-go/pkg/config"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Stream certificate transparency log entries over WebSocket, SSE, and TCP",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := certlog.New(certlog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "console",
	}, viper.GetString("version"))
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	log := logger.WithComponent("serve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt signal, shutting down gracefully")
		cancel()
	}()

	metricsCollector := metrics.New()

	bus := broadcast.NewBus(cfg.Bus.BufferSize)
	limiter := connlimit.NewLimiter(connlimit.Config{
		MaxConnections: cfg.Connections.MaxConnections,
		PerIPLimit:     cfg.Connections.PerIPLimit,
	})

	hub := streamserver.NewHub(bus, limiter, metricsCollector, logger.WithComponent("streamserver"), streamserver.RuntimeConfig{
		AuthEnabled:    cfg.Auth.Enabled,
		AuthHeaderName: cfg.Auth.HeaderName,
		AuthTokens:     cfg.Auth.Tokens,
		WSEnabled:      true,
		SSEEnabled:     true,
		TCPEnabled:     true,
	})

	watcher := hotreload.New(cfg.HotReload.Path, hub, logger.WithComponent("hotreload"))
	if cfg.HotReload.Enabled {
		if err := watcher.Start(); err != nil {
			log.WithError(err).Warn("failed to start config watcher, hot reload disabled")
		}
	}
	defer watcher.Close()

	decoder := ctdecode.NewDecoder(logger.WithComponent("ctdecode"))
	builder := certmsg.NewBuilder()
	sources := newSourceCache()

	handler := func(ctx context.Context, src certmodel.CtLog, index int64, entry ct.LogEntry) {
		decoded, err := decoder.Decode(index, entry)
		if err != nil {
			log.WithField("log_id", src.ID).WithError(err).Warn("failed to decode entry, skipping")
			return
		}
		if decoded == nil {
			return
		}
		serialized, err := builder.Build(decoded, sources.get(src), time.Now())
		if err != nil {
			log.WithField("log_id", src.ID).WithError(err).Warn("failed to serialize entry, skipping")
			return
		}
		bus.Publish(serialized)
	}

	registry := ctlog.NewRegistry(cfg.CTLog.LogListURL, customLogsFromConfig(cfg), logger.WithComponent("registry"))

	cursorStore := ctlog.NewCursorStore(cfg.CTLog.StateFile, logger.WithComponent("cursor"))

	httpClient := ctlog.DefaultHTTPClient(time.Duration(cfg.CTLog.RequestTimeoutSecs) * time.Second)
	workerCfg := ctlog.WorkerConfig{
		BatchSize:               cfg.CTLog.BatchSize,
		PollInterval:            time.Duration(cfg.CTLog.PollIntervalMS) * time.Millisecond,
		RequestTimeout:          time.Duration(cfg.CTLog.RequestTimeoutSecs) * time.Second,
		RetryMaxAttempts:        uint(cfg.Retry.MaxAttempts),
		RetryInitialDelay:       time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
		RetryMaxDelay:           time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		CheckpointInterval:      cfg.CTLog.CheckpointInterval,
		CheckpointEntries:       cfg.CTLog.CheckpointEntries,
		UnhealthyThreshold:      cfg.Breaker.UnhealthyThreshold,
		HealthyThreshold:        cfg.Breaker.HealthyThreshold,
		HealthCheckIntervalSecs: cfg.Breaker.HealthCheckIntervalSecs,
	}

	supervisor := ctlog.NewSupervisor(logger.WithComponent("supervisor"), func(src certmodel.CtLog) (*ctlog.Worker, error) {
		return ctlog.NewWorker(src, httpClient, cursorStore, workerCfg, handler, logger.WithComponent("worker"))
	})

	diff, err := registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("initial log registry load: %w", err)
	}
	supervisor.Apply(ctx, diff)
	metricsCollector.CTLogsCount.Set(float64(registry.Count()))

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return streamserver.ServeHTTPWithTLS(ctx, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), streamserver.NewRouter(hub, metricsCollector.Handler()), cfg.TLS.CertFile, cfg.TLS.KeyFile)
	})

	group.Go(func() error {
		return streamserver.ServeTCP(ctx, hub, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TCPPort))
	})

	group.Go(func() error {
		return runRegistryRefresh(gctx, registry, supervisor, metricsCollector, cfg.CTLog.RefreshInterval, log)
	})

	err = group.Wait()
	supervisor.Shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runRegistryRefresh(ctx context.Context, registry *ctlog.Registry, supervisor *ctlog.Supervisor, m *metrics.Collector, interval time.Duration, log *logrus.Entry) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			diff, err := registry.Load(ctx)
			if err != nil {
				log.WithError(err).Warn("log registry refresh failed")
				continue
			}
			supervisor.Apply(ctx, diff)
			m.CTLogsCount.Set(float64(registry.Count()))
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := viper.GetString("config")
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// --log-level/--log-format carry non-empty defaults, so an unset
	// flag still reports a value through viper; only override the file
	// (or CERTSTREAM_LOG_* env) setting when the user actually passed
	// the flag on the command line.
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = viper.GetString("log_format")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func customLogsFromConfig(cfg *config.Config) []certmodel.CtLog {
	out := make([]certmodel.CtLog, 0, len(cfg.CTLog.CustomLogs))
	for _, l := range cfg.CTLog.CustomLogs {
		out = append(out, certmodel.CtLog{ID: l.ID, Name: l.Name, URL: l.URL, Operator: l.Operator, MMD: l.MMD})
	}
	return out
}

// sourceCache interns the Source metadata shared by every message
// emitted for one log. Every log's own worker goroutine calls get for
// that log's entries, but different workers call it concurrently for
// different logs, so access is mutex-guarded.
type sourceCache struct {
	mu sync.Mutex
	m  map[string]certmodel.Source
}

func newSourceCache() *sourceCache {
	return &sourceCache{m: make(map[string]certmodel.Source)}
}

func (c *sourceCache) get(src certmodel.CtLog) certmodel.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.m[src.ID]; ok {
		return s
	}
	s := certmodel.Source{Name: src.Name, URL: src.URL, Operator: src.Operator}
	c.m[src.ID] = s
	return s
}
