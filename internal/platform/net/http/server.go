package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"ghdiscover/internal/platform/config"
	"ghdiscover/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// Server serves a chi mux until its Run context ends
type Server struct {
	mux *chi.Mux
	srv *stdhttp.Server

	// ShutdownGrace bounds the drain once Run's ctx is done
	ShutdownGrace time.Duration
}

// NewServer builds a server on API_PORT. Each opt gets the mux before any
// route is mounted, which is where middleware goes
func NewServer(cfg config.Conf, opts ...func(*chi.Mux)) *Server {
	mux := chi.NewRouter()
	for _, opt := range opts {
		opt(mux)
	}
	return &Server{
		mux: mux,
		srv: &stdhttp.Server{
			Addr:              cfg.MayString("API_PORT", ":4000"),
			Handler:           mux,
			ReadHeaderTimeout: cfg.MayDuration("API_READ_HEADER_TIMEOUT", 10*time.Second),
		},
		ShutdownGrace: cfg.MayDuration("API_SHUTDOWN_GRACE", 5*time.Second),
	}
}

func (s *Server) Router() Router                     { return AdaptChi(s.mux) }
func (s *Server) Handler() stdhttp.Handler           { return s.mux }
func (s *Server) Addr() string                       { return s.srv.Addr }
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// Run serves until ctx is done or the listener fails
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		if err := s.srv.ListenAndServe(); !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ShutdownGrace)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			return err
		}
		log.Info().Msg("http stopped")
		return nil
	})
	return g.Wait()
}
