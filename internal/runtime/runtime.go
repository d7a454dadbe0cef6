package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/recapify/internal/bus"
	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/natsserver"
	"github.com/loqalabs/recapify/internal/pipeline"
	"github.com/loqalabs/recapify/internal/watcher"
	"github.com/loqalabs/recapify/internal/web"
)

const pruneInterval = 6 * time.Hour

type Runtime struct {
	cfg        config.Config
	version    string
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	components *Components
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	publisher, err := r.startBus(ctx)
	if err != nil {
		r.shutdown()
		return err
	}

	r.components, err = Build(ctx, r.cfg, r.logger, publisher)
	if err != nil {
		r.shutdown()
		return err
	}

	handler, err := web.NewHandler(r.components.Pipeline, r.components.Whisper, r.components.LLMModels, r.components.Store, web.Options{
		Uploads:             r.cfg.Uploads,
		DefaultWhisperModel: r.cfg.Whisper.DefaultModel,
		DefaultLLMModel:     r.cfg.LLM.DefaultModel,
		LLMModels:           r.cfg.LLM.Models,
		LLMEndpoint:         r.cfg.LLM.Endpoint,
		Metrics:             tel.metrics,
		Ready:               r.isReady,
	}, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("web handler: %w", err)
	}

	if r.cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), r.requestLogger())
	handler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
		}
	}()

	if r.cfg.Watcher.Enabled {
		if err := r.startWatcher(ctx, r.components.Pipeline); err != nil {
			r.logger.Error("watcher disabled", slog.String("error", err.Error()))
		}
	}
	r.startPruner(ctx)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("whisper_mode", r.cfg.Whisper.Mode),
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.Bool("bus", r.bus != nil))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		cancel()
	}
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.shutdown()

	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}

// startBus connects to NATS when enabled, starting the embedded server first
// if configured. A nil publisher means events are not broadcast.
func (r *Runtime) startBus(ctx context.Context) (pipeline.Publisher, error) {
	if !r.cfg.Bus.Enabled {
		return nil, nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, err
	}
	r.bus = client
	if err := client.EnsureJobStream(time.Duration(r.cfg.EventStore.RetentionDays) * 24 * time.Hour); err != nil {
		r.logger.Warn("job stream unavailable", slog.String("error", err.Error()))
	}
	return client, nil
}

func (r *Runtime) startWatcher(ctx context.Context, p *pipeline.Service) error {
	w, err := watcher.New(r.cfg.Watcher, r.cfg.Uploads.AllowedExtensions, p,
		r.cfg.Whisper.DefaultModel, r.cfg.LLM.DefaultModel, r.logger)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer w.Stop()
		if err := w.Start(ctx); err != nil {
			r.logger.Error("watcher exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Runtime) startPruner(ctx context.Context) {
	if !r.components.Store.Persistent() {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.components.Store.Prune(ctx); err != nil {
					r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (r *Runtime) isReady() bool {
	return r.ready.Load() && (r.bus == nil || r.bus.Healthy())
}

func (r *Runtime) requestLogger() gin.HandlerFunc {
	logger := r.logger.With(slog.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

func (r *Runtime) shutdown() {
	if err := r.components.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	r.bus.Close()
	r.embedded.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}
