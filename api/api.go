package api

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/stacks/api/mcp"
	"github.com/papercomputeco/stacks/pkg/pipeline"
	"github.com/papercomputeco/stacks/pkg/retrieval"
)

const (
	defaultBodyLimit     = 64 * 1024 * 1024
	defaultEventInterval = 500 * time.Millisecond
)

// Server is the API server for submitting documents, polling jobs and
// assembling retrieval context.
type Server struct {
	config  Config
	service *pipeline.Service
	logger  *slog.Logger
	app     *fiber.App

	// done ends open event streams on shutdown.
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new API server around service.
func NewServer(config Config, service *pipeline.Service, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("pipeline service is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if config.Retrieval == (retrieval.Options{}) {
		config.Retrieval = retrieval.DefaultOptions()
	}
	if config.BodyLimit <= 0 {
		config.BodyLimit = defaultBodyLimit
	}
	if config.EventInterval <= 0 {
		config.EventInterval = defaultEventInterval
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
	})

	s := &Server{
		config:  config,
		service: service,
		logger:  logger,
		app:     app,
		done:    make(chan struct{}),
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/documents", s.handleSubmitDocument)
	v1.Delete("/documents/:id", s.handleRetireDocument)
	v1.Get("/jobs/:id", s.handleGetJob)
	v1.Get("/jobs/:id/events", s.handleJobEvents)
	v1.Post("/jobs/:id/cancel", s.handleCancelJob)
	v1.Post("/context", s.handleAssembleContext)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Service:   service,
		Retrieval: config.Retrieval,
		Noop:      config.DisableMCP,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
		"simulated", s.service.Simulated(),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.app.Shutdown()
}
