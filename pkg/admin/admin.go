// Package admin serves health, metrics and the live utterance feed.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rojolang/rintento-go/pkg/logger"
)

// Status is the body of /healthz
type Status struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	Subscribers int    `json:"subscribers"`
}

// Deps are the collaborators exposed by the admin routes. Nil members turn
// their route off.
type Deps struct {
	Version     string
	Gatherer    prometheus.Gatherer
	Feed        http.Handler
	Connections func() int
	Subscribers func() int
}

// NewHandler builds the admin router
func NewHandler(deps Deps) http.Handler {
	started := time.Now()
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := Status{
			Status:  "ok",
			Version: deps.Version,
			Uptime:  time.Since(started).Round(time.Second).String(),
		}
		if deps.Connections != nil {
			st.Connections = deps.Connections()
		}
		if deps.Subscribers != nil {
			st.Subscribers = deps.Subscribers()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Feed != nil {
		r.Handle("/utterances", deps.Feed)
	}
	return r
}

// Server runs the admin router until its context is done
type Server struct {
	srv *http.Server
	log *logger.Logger
}

func NewServer(addr string, handler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.WithComponent("admin"),
	}
}

// Run serves on ln, or on the configured address when ln is nil
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.srv.Addr); err != nil {
			return err
		}
	}
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()
	s.log.Infof("Admin listening on %s", ln.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
