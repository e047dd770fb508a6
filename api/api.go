package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/accord/api/mcp"
)

// Server is the API server for identities, agreements, and arbitration.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server over the configured services.
func NewServer(config Config, logger *slog.Logger) (*Server, error) {
	if config.Identity == nil {
		return nil, errors.New("identity service is required")
	}
	if config.Agreements == nil || config.Arbitration == nil {
		return nil, errors.New("agreement and arbitration services are required")
	}
	if config.Timeline == nil {
		return nil, errors.New("timeline reader is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	s := &Server{
		config: config,
		logger: logger,
		app:    app,
	}

	if config.RateLimit > 0 {
		app.Use(s.rateLimiter())
	}
	if len(config.AllowedOrigins) > 0 {
		app.Use(s.corsPolicy())
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")

	v1.Get("/identities", s.handleListIdentities)
	v1.Get("/identities/:did", s.handleGetIdentity)
	v1.Get("/identities/:did/document", s.handleGetDocument)
	v1.Get("/identities/:did/chain", s.handleVerifyChain)
	v1.Post("/identities/:did/verify", s.handleVerifySignature)

	auth := s.authenticate

	v1.Post("/proposals", auth, s.handlePropose)
	v1.Get("/proposals", auth, s.handleListProposals)
	v1.Get("/proposals/:id", auth, s.handleGetProposal)
	v1.Post("/proposals/:id/accept", auth, s.handleAccept)
	v1.Post("/proposals/:id/reject", auth, s.handleReject)

	v1.Get("/agreements", auth, s.handleListAgreements)
	v1.Get("/agreements/:id", auth, s.handleGetAgreement)
	v1.Post("/agreements/:id/fulfill", auth, s.handleFulfill)
	v1.Post("/agreements/:id/arbitrate", auth, s.handleArbitrate)
	v1.Get("/agreements/:id/timeline", auth, s.handleTimeline)

	v1.Get("/cases/:id", auth, s.handleGetCase)
	v1.Post("/cases/:id/evidence", auth, s.handleSubmit)
	v1.Post("/cases/:id/ruling", auth, s.handleRuling)

	if !config.DisableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Identity: config.Identity,
			Timeline: config.Timeline,
			Now:      config.Now,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		app.All("/mcp", auth, adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app, mainly for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}
