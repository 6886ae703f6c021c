// Package hotreload watches the config file for changes and applies
// them to new connections only: connection limits and auth settings
// (enabled flag, header name, tokens). Rate-limit settings are not
// applied, and the protocol enablement flags are always set to true.
// In-flight connections keep whatever runtime config they started with.
package hotreload

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/burakozcn01/certstream-server-go/internal/streamserver"
	"github.com/burakozcn01/certstream-server-go/pkg/config"
)

// Watcher applies config-file changes to a streamserver.Hub's runtime
// config snapshot. If path is empty, Start is a no-op: hot reload is
// disabled.
type Watcher struct {
	path   string
	hub    *streamserver.Hub
	logger *logrus.Entry
	fsw    *fsnotify.Watcher
}

func New(path string, hub *streamserver.Hub, logger *logrus.Entry) *Watcher {
	return &Watcher{path: path, hub: hub, logger: logger}
}

// Start begins watching in a background goroutine. It returns
// immediately; call Close to stop watching.
func (w *Watcher) Start() error {
	if w.path == "" {
		w.logger.Info("no config file specified, hot reload disabled")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	w.logger.WithField("path", w.path).Info("watching config file for changes")

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Info("config file changed, reloading")
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config file watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.WithError(err).Error("failed to reload config, keeping previous runtime config")
		return
	}

	w.hub.SetRuntimeConfig(streamserver.RuntimeConfig{
		AuthEnabled:    cfg.Auth.Enabled,
		AuthHeaderName: cfg.Auth.HeaderName,
		AuthTokens:     cfg.Auth.Tokens,
		WSEnabled:      true,
		SSEEnabled:     true,
		TCPEnabled:     true,
	})
	w.hub.Limiter.SetLimits(cfg.Connections.MaxConnections, cfg.Connections.PerIPLimit)
	w.logger.Info("config reloaded successfully")
}

func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
