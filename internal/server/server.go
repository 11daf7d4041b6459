// Package server exposes the manual trigger, health, metrics and ad-slot
// endpoints over gin.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"kvpush/internal/adslots"
	"kvpush/internal/pipeline"
	logx "kvpush/pkg/logx"
)

type Runner interface {
	Run(ctx context.Context, trigger string) (pipeline.Report, error)
}

type Ads interface {
	Get(ctx context.Context) (adslots.Slots, error)
	Update(ctx context.Context, slots adslots.Slots) (map[string]adslots.Inspection, error)
	Render(ctx context.Context, name string, mode adslots.Mode) (string, error)
	ReadOnly() bool
}

// HTTPObserver receives one call per served request.
type HTTPObserver interface {
	ObserveHTTP(route string, code int, took time.Duration)
	Handler() http.Handler
}

type Options struct {
	Addr          string
	Secret        string
	AdminPassword string
	// TriggerRPS limits /run across all callers. <= 0 disables the limit.
	TriggerRPS float64
	// RunTimeout bounds a triggered run independently of the client connection.
	RunTimeout time.Duration
	// Pprof mounts /debug/pprof. Fixed at construction.
	Pprof bool
}

type Deps struct {
	Runner  Runner
	Ads     Ads
	Metrics HTTPObserver
	// Status adds fields to the /healthz body.
	Status func() map[string]any
}

type Server struct {
	deps Deps
	log  logx.Logger

	mu      sync.RWMutex
	opt     Options
	limiter *rate.Limiter

	engine *gin.Engine
	srv    *http.Server
}

func New(opt Options, deps Deps, log logx.Logger) *Server {
	if opt.RunTimeout <= 0 {
		opt.RunTimeout = 5 * time.Minute
	}
	s := &Server{deps: deps, log: log.With(logx.String("comp", "http"))}
	s.Apply(opt)
	s.engine = s.routes()
	return s
}

// Apply swaps secrets and the trigger rate. The listen address is fixed
// for the life of the server.
func (s *Server) Apply(opt Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opt.RunTimeout <= 0 {
		opt.RunTimeout = s.opt.RunTimeout
	}
	if opt.Addr == "" {
		opt.Addr = s.opt.Addr
	}
	s.opt = opt
	if opt.TriggerRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opt.TriggerRPS), 1)
	} else {
		s.limiter = nil
	}
}

func (s *Server) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opt
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.log))
	r.Use(requestLog(s.log))
	if s.deps.Metrics != nil {
		r.Use(observe(s.deps.Metrics))
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	r.GET("/healthz", s.handleHealth)
	if s.opt.Pprof {
		s.mountPprof(r)
	}

	if s.deps.Runner != nil {
		run := r.Group("/run", s.requireKey(), s.triggerLimit())
		run.GET("", s.handleRun)
		run.POST("", s.handleRun)
	}

	if s.deps.Ads != nil {
		api := r.Group("/api")
		api.GET("/admin/ads", s.handleGetAds)
		api.POST("/admin/ads", s.requireAdmin(), s.handlePostAds)
		api.POST("/admin/auth", s.handleAuth)
		api.GET("/ads/:slot", s.handleSlot)
	}
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.options().Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		return err
	}
	s.log.Info("http stopped")
	return nil
}
