package ctlog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"
	retry "github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

// EntryHandler consumes one decoded-ready CT log entry, in strict
// per-log index order. Implementations (decoder + message builder +
// broadcast bus) must not block for long; the worker is single
// threaded per log.
type EntryHandler func(ctx context.Context, src certmodel.CtLog, index int64, entry ct.LogEntry)

type WorkerConfig struct {
	BatchSize               int64
	PollInterval            time.Duration
	RequestTimeout          time.Duration
	RetryMaxAttempts        uint
	RetryInitialDelay       time.Duration
	RetryMaxDelay           time.Duration
	CheckpointInterval      time.Duration
	CheckpointEntries       int
	UnhealthyThreshold      int
	HealthyThreshold        int
	HealthCheckIntervalSecs int
}

// Worker runs the durable per-log fetch loop described in spec.md
// §4.3: tree-head discovery, batched retrieval, retry with backoff,
// and a circuit breaker that never lets the cursor advance past a
// failed batch.
type Worker struct {
	src     certmodel.CtLog
	client  *client.LogClient
	cursor  *CursorStore
	breaker *Breaker
	cfg     WorkerConfig
	handler EntryHandler
	logger  *logrus.Entry
}

func NewWorker(src certmodel.CtLog, httpClient *http.Client, cursor *CursorStore, cfg WorkerConfig, handler EntryHandler, logger *logrus.Entry) (*Worker, error) {
	lc, err := client.New(src.URL, httpClient, jsonclient.Options{
		UserAgent: "certstream-server-go/1.0",
	})
	if err != nil {
		return nil, fmt.Errorf("create CT log client for %s: %w", src.ID, err)
	}

	return &Worker{
		src:    src,
		client: lc,
		cursor: cursor,
		breaker: NewBreaker(
			cfg.UnhealthyThreshold,
			cfg.HealthyThreshold,
			time.Duration(cfg.HealthCheckIntervalSecs)*time.Second,
		),
		cfg:     cfg,
		handler: handler,
		logger:  logger.WithField("log_id", src.ID),
	}, nil
}

// DefaultHTTPClient builds the transport every worker's LogClient
// shares characteristics with, grounded on the teacher's fetcher.go
// transport tuning.
func DefaultHTTPClient(requestTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Run executes the worker's loop until ctx is cancelled. On return it
// flushes the cursor store once more, satisfying the shutdown
// sequence in spec.md §5.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if err := w.cursor.Flush(); err != nil {
			w.logger.WithError(err).Error("final cursor flush failed")
		}
	}()

	next, ok := w.cursor.Get(w.src.ID)
	if !ok {
		sth, err := w.fetchSTH(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("initial STH fetch failed, starting cursor at 0")
			next = 0
		} else {
			// Start from the current tree size, not zero, to avoid a
			// multi-day backfill storm on first run (spec.md §4.2).
			next = sth.TreeSize
		}
		w.cursor.Advance(w.src.ID, next)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if w.breaker.ShouldPoll() {
			next = w.pollOnce(ctx, next)
		}

		if err := w.cursor.MaybeCheckpoint(w.cfg.CheckpointInterval, w.cfg.CheckpointEntries); err != nil {
			w.logger.WithError(err).Error("cursor checkpoint failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce fetches the current tree head and, if it has grown past
// next, fetches and processes one batch. It returns the (possibly
// advanced) next index.
func (w *Worker) pollOnce(ctx context.Context, next uint64) uint64 {
	sth, err := w.fetchSTH(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("get-sth failed")
		w.breaker.RecordFailure()
		return next
	}

	treeSize := sth.TreeSize
	if treeSize <= next {
		w.breaker.RecordSuccess()
		return next
	}

	batchEnd := next + uint64(w.cfg.BatchSize) - 1
	if maxIdx := treeSize - 1; batchEnd > maxIdx {
		batchEnd = maxIdx
	}

	entries, err := w.fetchEntries(ctx, int64(next), int64(batchEnd))
	if err != nil {
		w.logger.WithError(err).Warn("get-entries failed")
		w.breaker.RecordFailure()
		return next
	}

	idx := next
	for _, e := range entries {
		w.handler(ctx, w.src, int64(idx), e)
		idx++
		w.cursor.Advance(w.src.ID, idx)
	}

	w.breaker.RecordSuccess()
	return idx
}

func (w *Worker) fetchSTH(ctx context.Context) (*ct.SignedTreeHead, error) {
	var sth *ct.SignedTreeHead
	err := retry.Do(
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
			defer cancel()
			s, err := w.client.GetSTH(reqCtx)
			if err != nil {
				return err
			}
			sth = s
			return nil
		},
		retryOpts(w.cfg, ctx)...,
	)
	return sth, err
}

func (w *Worker) fetchEntries(ctx context.Context, start, end int64) ([]ct.LogEntry, error) {
	var entries []ct.LogEntry
	err := retry.Do(
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
			defer cancel()
			es, err := w.client.GetEntries(reqCtx, start, end)
			if err != nil {
				return err
			}
			entries = es
			return nil
		},
		retryOpts(w.cfg, ctx)...,
	)
	return entries, err
}

func retryOpts(cfg WorkerConfig, ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(cfg.RetryMaxAttempts),
		retry.Delay(cfg.RetryInitialDelay),
		retry.MaxDelay(cfg.RetryMaxDelay),
		// Full jitter: a uniform draw from [0, capped exponential delay].
		retry.DelayType(func(n uint, err error, c *retry.Config) time.Duration {
			d := retry.BackOffDelay(n, err, c)
			if cfg.RetryMaxDelay > 0 && d > cfg.RetryMaxDelay {
				d = cfg.RetryMaxDelay
			}
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d) + 1))
		}),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
	}
}

// isRetryable implements spec.md §4.3/§7: 429 and 5xx are retryable;
// any other 4xx is a permanent failure.
func isRetryable(err error) bool {
	var rspErr jsonclient.RspError
	if errors.As(err, &rspErr) {
		if rspErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if rspErr.StatusCode >= 400 && rspErr.StatusCode < 500 {
			return false
		}
	}
	return true
}
