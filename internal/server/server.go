package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the dataset service.
type Options struct {
	Bind   string // e.g., "127.0.0.1:8080"
	Token  string // optional bearer token
	RPS    int    // requests per second (0 disables limiting)
	Burst  int    // burst capacity
	Logger *log.Logger
	// MaxBodyBytes bounds JSON bodies and workbook uploads.
	MaxBodyBytes int64
	// DateColumns names columns imported as dates in addition to the detected ones.
	DateColumns []string
}

// Server exposes a Store over HTTP/JSON and announces mutations on a Bus.
type Server struct {
	store   *store.Store
	bus     bus.Bus
	opts    Options
	logger  *log.Logger
	limiter *simpleLimiter
	router  chi.Router

	srv     *http.Server
	addr    atomic.Value
	started int32
}

// NewServer constructs the service. A nil bus disables change notifications.
func NewServer(st *store.Store, b bus.Bus, opts Options) *Server {
	if opts.Bind == "" {
		opts.Bind = "127.0.0.1:8080"
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[server] ", log.LstdFlags)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 * 1024 * 1024 // 10 MiB
	}
	if b == nil {
		b = bus.NewNullBus(log.New(io.Discard, "", 0))
	}
	s := &Server{
		store:   st,
		bus:     b,
		opts:    opts,
		logger:  opts.Logger,
		limiter: newSimpleLimiter(opts.RPS, opts.Burst),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return ""
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Route("/api/datasets", func(r chi.Router) {
			r.Get("/", s.handleListDatasets)
			r.Post("/", s.handleUpload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleDescribe)
				r.Delete("/", s.handleDeleteDataset)
				r.Post("/filter", s.handleFilter)
				r.Post("/group", s.handleGroup)
				r.Post("/cells", s.handleMutateCell)
				r.Post("/rows", s.handleAddRow)
				r.Delete("/rows/{rowID}", s.handleDeleteRow)
				r.Post("/bulk/update", s.handleBulkUpdate)
				r.Post("/bulk/replace", s.handleFindReplace)
				r.Post("/bulk/delete", s.handleBulkDelete)
				r.Post("/undo", s.handleUndo)
				r.Post("/commit", s.handleCommit)
				r.Post("/export", s.handleExport)
				r.Get("/audit", s.handleAudit)
			})
		})

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleSaveRule)
			r.Post("/delete", s.handleDeleteRule)
			r.Post("/toggle", s.handleToggleRule)
		})
		r.Get("/api/autocomplete", s.handleGetLists)
		r.Put("/api/autocomplete", s.handleSaveLists)
	})
	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("server already started")
	}

	s.srv = &http.Server{
		Addr:              s.opts.Bind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Listen early to surface bind errors synchronously
	ln, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Bind, err)
	}
	s.addr.Store(ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Dataset service listening on http://%s", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		s.limiter.Close()
		return ctx.Err()
	case err := <-errCh:
		s.limiter.Close()
		return err
	}
}
