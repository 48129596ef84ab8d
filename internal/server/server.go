// Package server assembles the fiber applications: the copilot relay and the
// mock upstream used for local runs.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/qdash-dev/copilot/internal/handlers"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/recovery"
)

const shutdownTimeout = 5 * time.Second

// Options configures the relay application.
type Options struct {
	// Upstream is the internal API base URL.
	Upstream     string
	AllowOrigins string
	// AccessLog receives the HTTP access log; nil means stdout.
	AccessLog  io.Writer
	HTTPClient *http.Client
}

type Server struct {
	app  *fiber.App
	name string
	// stop cancels in-flight upstream calls on shutdown
	stop context.CancelFunc
}

func newApp(name string) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		// Streams stay open for as long as the model keeps talking
		WriteTimeout: 0,
		ReadTimeout:  30 * time.Second,
	})
}

// errorHandler answers every unhandled error as {"detail": ...}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logger.Errorf("❌ %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"detail": err.Error()})
}

// NewRelay builds the relay application.
func NewRelay(opts Options) *Server {
	app := newApp("copilot relay")

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(handlers.AccessLogger(handlers.AccessLogConfig{
		Output:  opts.AccessLog,
		Sampled: map[string]uint64{"/health": 10},
	}))
	if opts.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowOrigins,
			AllowCredentials: opts.AllowOrigins != "*",
			AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Username, X-Project-Id, X-Request-Id",
			AllowMethods:     "GET, POST, OPTIONS",
		}))
	}

	app.Get("/health", handlers.NewHealthHandler(opts.Upstream).Health)

	ctx, stop := context.WithCancel(context.Background())
	relay := handlers.NewRelayHandler(opts.Upstream).WithContext(ctx)
	if opts.HTTPClient != nil {
		relay.WithClient(opts.HTTPClient)
	}
	relay.Register(app)

	return &Server{app: app, name: "relay", stop: stop}
}

// MockOptions configures the mock upstream.
type MockOptions struct {
	// Step is the pause between frames.
	Step        time.Duration
	RequireAuth bool
	AccessLog   io.Writer
}

func NewMockUpstream(opts MockOptions) *Server {
	app := newApp("copilot mock upstream")
	app.Use(recover.New())
	app.Use(handlers.AccessLogger(handlers.AccessLogConfig{Output: opts.AccessLog}))

	app.Get("/health", handlers.NewHealthHandler("mock").Health)
	handlers.NewMockUpstreamHandler(opts.Step, opts.RequireAuth).Register(app)

	return &Server{app: app, name: "mock-upstream", stop: func() {}}
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	recovery.SafeGo(s.name+"-listener", func() {
		errCh <- s.app.Listener(ln)
	})
	logger.Infof("✅ %s listening on http://%s", s.name, ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Infof("🛑 %s shutting down", s.name)
		s.stop()
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	}
}
