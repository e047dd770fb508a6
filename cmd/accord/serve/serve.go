// Package servecmder provides the command that runs the accord HTTP API.
package servecmder

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/api"
	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/app"
	"github.com/papercomputeco/accord/pkg/config"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/logger"
)

const serveLongDesc string = `Run the accord HTTP API.

The API serves identity lookup and verification, the agreement protocol,
arbitration, and timelines under /v1, plus an MCP endpoint at /mcp for
agent tool use. It never holds private keys: every protocol action must
carry a signature made by the actor (see "accord identity sign").

Each client IP may make --rate-limit requests per minute. Cross-origin
browser access is limited to --allowed-origins. With --auth required,
every route except /ping and identity lookups needs either the X-API-Key
header or a DID-signed request: X-DID names the caller, X-DID-Timestamp
holds Unix milliseconds, and X-DID-Signature holds the caller's signature
over "METHOD:PATH:TIMESTAMP", e.g.

  accord identity sign "GET:/v1/agreements:1767225600000"

Logs are written as JSON to stdout and to accord.log in the .accord/
directory.

Examples:
  accord serve
  accord serve --listen :9090 --storage postgres --postgres postgres://...
  accord serve --auth required --api-key "$ACCORD_API_KEY" --allowed-origins https://app.example`

const serveShortDesc string = "Run the accord HTTP API"

// serveFlags are the registry flags serve binds on top of storage.
var serveFlags = []string{
	config.FlagAPIListen,
	config.FlagAPIRateLimit,
	config.FlagAPIOrigins,
	config.FlagAPIAuth,
	config.FlagAPIKey,
	config.FlagEventStream,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
	config.FlagAnchorProvider,
	config.FlagAnchorURL,
	config.FlagRegistryURL,
}

type serveCommander struct {
	noMCP  bool
	logger *slog.Logger
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	session.AddFlags(cmd, serveFlags...)
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP endpoint")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	cfg, paths, err := session.Load(cmd, serveFlags...)
	if err != nil {
		return err
	}
	limit, err := cfg.API.Limit()
	if err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid api config")
	}
	requireAuth := cfg.API.Auth == "required"

	debug, _ := cmd.Flags().GetBool("debug")
	logFile, err := os.OpenFile(filepath.Clean(paths.Log), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening server log: %w", err)
	}
	defer logFile.Close()

	level := logger.Level(debug, slog.LevelInfo)
	c.logger = logger.Tee(
		logger.New(logger.WithFormat(logger.FormatJSON), logger.WithLevel(level), logger.WithWriter(cmd.OutOrStdout())),
		logger.New(logger.WithFormat(logger.FormatJSON), logger.WithLevel(level), logger.WithWriter(logFile)),
	)
	if requireAuth && cfg.API.Key == "" {
		c.logger.Warn("api.key is unset, only DID-signed requests are accepted")
	}

	a, err := app.Open(cmd.Context(), cfg, paths, app.WithLogger(c.logger))
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.NewServer(api.Config{
		ListenAddr:  cfg.API.Listen,
		Identity:    a.Identity,
		Agreements:  a.Agreements,
		Arbitration: a.Arbitration,
		Timeline:    a.Store,
		Now:         a.Now,
		DisableMCP:  c.noMCP,

		RateLimit:      limit,
		AllowedOrigins: cfg.API.Origins(),
		RequireAuth:    requireAuth,
		APIKey:         cfg.API.Key,
	}, logger.Component(c.logger, "api"))
	if err != nil {
		return err
	}

	c.logger.Info("starting api server",
		"listen", cfg.API.Listen,
		"storage", cfg.Storage.Driver,
		"mcp", !c.noMCP,
		"rate_limit", limit,
		"auth", cfg.API.Auth,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return server.Shutdown()
	case <-cmd.Context().Done():
		return server.Shutdown()
	}
}
