package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cyphercast/internal/server"
	"github.com/alanyoungcy/cyphercast/internal/server/handler"
	"github.com/alanyoungcy/cyphercast/internal/server/ws"
	"github.com/alanyoungcy/cyphercast/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and the websocket event feed. When S3 is
// enabled the archive loop runs alongside.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Publisher.Run(ctx)
	})

	hub := ws.NewHub(deps.SignalBus, deps.Metrics.WSClients, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, hub)

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// ArchiveMode only runs the archive loop. It is meant for a worker process
// next to one or more API servers sharing the same store.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Publisher.Run(ctx)
	})
	g.Go(func() error {
		return a.archiveLoop(ctx, deps)
	})
	return g.Wait()
}

// startHTTPServer adds the API server and its shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, map[string]string{
			"mode":    a.cfg.Mode,
			"storage": a.cfg.Storage.Backend,
		}, a.logger),
		Streams:   handler.NewStreamHandler(deps.Streams, deps.Engine, a.logger),
		Community: handler.NewCommunityHandler(deps.Streams, deps.Engine, a.logger),
		Events:    handler.NewEventHandler(deps.SignalBus, service.EventLogStream, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, deps.RateLimiter, deps.Metrics.ObserveHTTP, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveLoop archives settled streams once at startup and then on every
// tick of archive.interval until ctx is done.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	for {
		a.archiveOnce(ctx, deps)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// archiveOnce runs one archive pass and, when configured, prunes the audit
// log. Failures are logged and retried on the next tick.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	now := time.Now()
	cutoff := now.Add(-a.cfg.Archive.Retention.Duration)

	n, err := deps.Archiver.ArchiveSettled(ctx, cutoff)
	deps.Metrics.Archived(n)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive: pass failed",
				slog.Int64("archived", n),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "archive: settled streams archived",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}

	if a.cfg.Archive.AuditRetention.Duration <= 0 {
		return
	}
	pruner, ok := deps.AuditStore.(auditPruner)
	if !ok {
		return
	}
	removed, err := pruner.Prune(ctx, now.Add(-a.cfg.Archive.AuditRetention.Duration))
	if err != nil {
		a.logger.WarnContext(ctx, "archive: audit prune failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		a.logger.InfoContext(ctx, "archive: audit log pruned", slog.Int64("rows", removed))
	}
}
