package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/go-co-op/gocron"
	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/trace-decoder/pkg/api"
	"github.com/ethpandaops/trace-decoder/pkg/decoder"
	"github.com/ethpandaops/trace-decoder/pkg/gateway"
	"github.com/ethpandaops/trace-decoder/pkg/observability"
	"github.com/ethpandaops/trace-decoder/pkg/prefetch"
	"github.com/ethpandaops/trace-decoder/pkg/redis"
	"github.com/ethpandaops/trace-decoder/pkg/registry"
	"github.com/ethpandaops/trace-decoder/pkg/resolution"
	"github.com/ethpandaops/trace-decoder/pkg/source"
	"github.com/ethpandaops/trace-decoder/pkg/store"
)

type Server struct {
	log    logrus.FieldLogger
	config *Config

	redis    *r.Client
	store    store.Store
	engine   *decoder.Engine
	prefetch *prefetch.Manager
	handler  *api.Handler
	memory   *MemoryStatsCollector

	syncScheduler *gocron.Scheduler

	apiServer    *http.Server
	pprofServer  *http.Server
	healthServer *http.Server
}

func NewServer(log logrus.FieldLogger, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var redisClient *r.Client

	if config.Redis != nil {
		client, err := redis.New(config.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		redisClient = client
	}

	st, err := store.New(log, &config.Store, redisClient, config.RedisPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	src, err := source.New(log, &config.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace source: %w", err)
	}

	engine := decoder.NewEngine(
		log,
		&config.Enrichment,
		registry.New(log),
		gateway.New(log, &config.Gateway),
		resolution.New(log, st, config.Enrichment.RetryAfter),
		st,
	)

	s := &Server{
		log:    log,
		config: config,
		redis:  redisClient,
		store:  st,
		engine: engine,
		memory: NewMemoryStatsCollector(log, config.MemoryMonitor),
	}

	var enqueuer api.Enqueuer

	if config.Prefetch.Enabled {
		s.prefetch = prefetch.NewManager(log, &config.Prefetch, engine, redisClient, config.RedisPrefix())
		enqueuer = s.prefetch
	}

	s.handler = api.NewHandler(log, src, engine, enqueuer)

	s.apiServer = &http.Server{
		Addr:              config.APIAddr,
		Handler:           s.handler.Routes(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	if config.PProfAddr != nil {
		s.pprofServer = &http.Server{
			Addr:              *config.PProfAddr,
			ReadHeaderTimeout: 120 * time.Second,
		}
	}

	if config.HealthCheckAddr != nil {
		s.healthServer = &http.Server{
			Addr:              *config.HealthCheckAddr,
			ReadHeaderTimeout: 120 * time.Second,
			Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
		}
	}

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.redis != nil {
		if err := redis.Ping(ctx, s.redis); err != nil {
			return err
		}
	}

	// Everything persisted must be loaded before the first request is served.
	if err := s.engine.Sync(ctx); err != nil {
		return fmt.Errorf("failed to load registry from store: %w", err)
	}

	if s.config.Enrichment.SyncInterval > 0 {
		scheduler, err := s.engine.ScheduleSync(s.config.Enrichment.SyncInterval)
		if err != nil {
			return err
		}

		s.syncScheduler = scheduler
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return observability.StartMetricsServer(ctx, s.log, s.config.MetricsAddr)
	})

	if s.pprofServer != nil {
		g.Go(func() error {
			if err := s.startPProf(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	if s.healthServer != nil {
		g.Go(func() error {
			if err := s.startHealthCheck(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	g.Go(func() error {
		s.memory.Run(ctx)

		return nil
	})

	if s.prefetch != nil {
		g.Go(func() error {
			return s.prefetch.Start(ctx)
		})
	}

	g.Go(func() error {
		if err := s.startAPI(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()

		return s.stop(ctx)
	})

	return g.Wait()
}

func (s *Server) stop(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	if err := s.apiServer.Shutdown(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to shutdown api server")
	}

	if s.syncScheduler != nil {
		s.syncScheduler.Stop()
	}

	if s.prefetch != nil {
		s.log.Info("Stopping prefetch worker...")

		if err := s.prefetch.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop prefetch worker")
		}
	}

	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Error("failed to close store")
	}

	if s.redis != nil {
		s.log.Info("Closing Redis connection...")

		if err := s.redis.Close(); err != nil {
			s.log.WithError(err).Error("failed to close redis")
		}
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown health server")
		}
	}

	if err := observability.StopMetricsServer(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	s.log.Info("Server stopped gracefully")

	return nil
}

func (s *Server) startAPI() error {
	s.log.WithField("addr", s.apiServer.Addr).Info("Starting api server")

	return s.apiServer.ListenAndServe()
}

func (s *Server) startPProf() error {
	s.log.WithField("addr", s.pprofServer.Addr).Info("Starting pprof server")

	return s.pprofServer.ListenAndServe()
}

func (s *Server) startHealthCheck() error {
	s.log.WithField("addr", s.healthServer.Addr).Info("Starting healthcheck server")

	return s.healthServer.ListenAndServe()
}
