// Package health exposes the operator surface: liveness, an aggregated
// statistics snapshot and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindbot/internal/debounce"
	"remindbot/internal/guildlock"
	"remindbot/internal/reminder"
	"remindbot/internal/retry"
	"remindbot/internal/scheduler"
	logx "remindbot/pkg/logx"
)

type Sources struct {
	Retry *retry.Stats
	Sched *scheduler.Service
	Store *reminder.Store
	Locks *guildlock.Manager
	Queue *debounce.Queue
}

type Server struct {
	log  logx.Logger
	addr string
	srv  *http.Server
}

func New(addr string, src Sources, log logx.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:8390"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(newCollector(src))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		out := map[string]any{}
		if src.Retry != nil {
			out["retry"] = src.Retry.Snapshot()
		}
		if src.Sched != nil {
			out["scheduler"] = src.Sched.Snapshot()
		}
		if src.Store != nil {
			out["reminders"] = src.Store.Count()
		}
		if src.Locks != nil {
			out["guild_locks"] = src.Locks.Len()
		}
		if src.Queue != nil {
			out["debounce_pending"] = src.Queue.Pending()
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		log:  log,
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("health server listening", logx.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server exited", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
}
