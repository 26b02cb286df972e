package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/hookdeck/taskd/internal/logging"
	"github.com/hookdeck/taskd/internal/worker"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const DefaultShutdownTimeout = 10 * time.Second

// Server is the foreground HTTP serving loop.
type Server struct {
	logger          *logging.Logger
	health          *worker.HealthTracker
	serviceName     string
	sentryEnabled   bool
	shutdownTimeout time.Duration
	routes          []func(gin.IRouter)

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
}

type Option func(*Server)

func WithServiceName(name string) Option {
	return func(s *Server) {
		s.serviceName = name
	}
}

// WithSentry reports panics to Sentry. sentry.Init must have been called.
func WithSentry(enabled bool) Option {
	return func(s *Server) {
		s.sentryEnabled = enabled
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithRoutes lets the application register its own handlers.
func WithRoutes(register func(gin.IRouter)) Option {
	return func(s *Server) {
		s.routes = append(s.routes, register)
	}
}

func New(logger *logging.Logger, health *worker.HealthTracker, opts ...Option) *Server {
	s := &Server{
		logger:          logger,
		health:          health,
		serviceName:     "taskd",
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler(debug bool) http.Handler {
	// Only set mode from config if we're not in test mode
	if gin.Mode() != gin.TestMode {
		if debug {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if s.sentryEnabled {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(otelgin.Middleware(s.serviceName))
	r.Use(LoggerMiddleware(s.logger))

	healthHandler := HealthHandler(s.health)
	r.GET("/healthz", healthHandler)
	r.GET("/api/v1/healthz", healthHandler)
	r.GET("/version", VersionHandler())

	for _, register := range s.routes {
		register(r)
	}

	return r
}

// Serve listens on host:port and blocks until ctx is cancelled or the
// listener fails. On cancellation in-flight requests get shutdownTimeout to
// complete.
func (s *Server) Serve(ctx context.Context, host string, port int, debug bool) error {
	logger := s.logger.Ctx(ctx)

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler:           s.Handler(debug),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	logger.Info("http server listening", zap.String("addr", ln.Addr().String()), zap.Bool("debug", debug))

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down http server", zap.Error(err))
			return err
		}
		logger.Info("http server shut down")
		return nil

	case err := <-errChan:
		logger.Error("http server error", zap.Error(err))
		return err
	}
}

// Ready is closed once Serve is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Serve is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
