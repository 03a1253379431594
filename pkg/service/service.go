// Package service assembles the gateway, the backend recognizer, the
// performers and the admin server from a configuration.
package service

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rojolang/rintento-go/pkg/admin"
	"github.com/rojolang/rintento-go/pkg/config"
	"github.com/rojolang/rintento-go/pkg/gateway"
	"github.com/rojolang/rintento-go/pkg/logger"
	"github.com/rojolang/rintento-go/pkg/metrics"
	"github.com/rojolang/rintento-go/pkg/performer"
	"github.com/rojolang/rintento-go/pkg/wit"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Service is a configured gateway ready to run
type Service struct {
	cfg        *config.Config
	log        *logger.Logger
	registry   *prometheus.Registry
	recognizer *wit.Recognizer
	hub        *performer.Hub
	redis      *performer.RedisPerformer
	workers    *wit.WorkerPool
	gateway    *gateway.Server
	admin      *admin.Server
}

// NewLogger builds the logger described by cfg
func NewLogger(cfg *config.Config) *logger.Logger {
	lc := logger.DefaultLogConfig()
	if level, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		lc.Level = level
	}
	lc.Pretty = cfg.Log.Pretty
	return logger.NewLogger(lc)
}

// Settings maps the recognize section onto backend settings
func Settings(cfg *config.Config) wit.Settings {
	return wit.Settings{
		Host:        cfg.Recognize.Host,
		Port:        cfg.Recognize.Port,
		Auth:        cfg.Recognize.Auth,
		Version:     cfg.Recognize.Version,
		IdleTimeout: cfg.Recognize.IdleTimeout,
		ChunkSize:   cfg.Recognize.ChunkSize,
		MaxSessions: cfg.Recognize.MaxSessions,
	}
}

// New wires every component. Extra recognizer options come last so tests can
// inject trust roots.
func New(cfg *config.Config, log *logger.Logger, opts ...wit.Option) (*Service, error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	recognizer, err := wit.NewRecognizer(Settings(cfg), append([]wit.Option{
		wit.WithLogger(log.WithComponent("wit")),
		wit.WithMetrics(m),
	}, opts...)...)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		recognizer: recognizer,
		hub:        performer.NewHub(log),
		workers:    wit.NewWorkerPool(cfg.Proxy.Threads, 16*cfg.Proxy.Threads),
	}
	performers := performer.Multi{performer.NewLogPerformer(log), s.hub}
	if cfg.Redis.Addr != "" {
		s.redis = performer.NewRedisPerformer(cfg.Redis.Addr, cfg.Redis.Channel)
		performers = append(performers, s.redis)
	}

	var handlers []gateway.Handler
	if cfg.Auth.Secret != "" {
		handlers = append(handlers, gateway.NewAuthHandler(cfg.Auth.Secret))
	}
	handlers = append(handlers,
		gateway.NewMessageHandler(cfg.Proxy.MessageRoute, recognizer),
		gateway.NewSpeechHandler(cfg.Proxy.SpeechRoute, recognizer),
	)
	s.gateway = gateway.NewServer(gateway.NewChain(handlers...), gateway.Options{
		Performer:      performers,
		Executor:       s.workers,
		Logger:         log,
		Metrics:        m,
		MaxConnections: cfg.Proxy.MaxConnections,
		ReadTimeout:    cfg.Proxy.ReadTimeout,
	})

	s.admin = admin.NewServer(cfg.Admin.Addr, admin.NewHandler(admin.Deps{
		Version:     wit.Version,
		Gatherer:    registry,
		Feed:        s.hub,
		Connections: s.gateway.Live,
		Subscribers: s.hub.Subscribers,
	}), log)
	return s, nil
}

func (s *Service) Recognizer() *wit.Recognizer {
	return s.recognizer
}

func (s *Service) Gateway() *gateway.Server {
	return s.gateway
}

// Run serves until ctx is done. Nil listeners are opened from the
// configuration; an empty admin address disables the admin server.
func (s *Service) Run(ctx context.Context, gatewayLn, adminLn net.Listener) error {
	if gatewayLn == nil {
		var err error
		if gatewayLn, err = net.Listen("tcp", s.cfg.ListenAddr()); err != nil {
			return err
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			s.log.WithError(err).Warn("Redis unreachable, recognitions will not be published until it recovers")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.gateway.Serve(ctx, gatewayLn)
	})
	if adminLn != nil || s.cfg.Admin.Addr != "" {
		g.Go(func() error {
			return s.admin.Run(ctx, adminLn)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.gateway.Shutdown(shutdownCtx)
		// queued performs still reach the hub and redis
		s.workers.Close()
		s.hub.Close()
		if s.redis != nil {
			s.redis.Close()
		}
		s.log.Info("Gateway stopped")
		return err
	})
	return g.Wait()
}
