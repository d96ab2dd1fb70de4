// Command server runs the knowledge retrieval server over the streamable
// HTTP transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seekhub/knowledge-mcp-server/internal/app"
	"github.com/seekhub/knowledge-mcp-server/internal/config"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/server"
	"github.com/seekhub/knowledge-mcp-server/internal/usecases"
)

const (
	serverName    = "knowledge-mcp-server"
	serverVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	addrFlag := flag.String("addr", "", "listen address (overrides KNOW_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	logger, err := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.LogLevel),
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	searcher, err := app.NewSearchService(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("building search index", logging.Fields{"error": err.Error()})
	}

	catalog := usecases.NewCatalog()
	catalog.Register(searcher.Tool(), searcher.Handle)

	dispatcher := usecases.NewDispatcher(serverName, serverVersion, catalog, logger)

	store := server.NewSessionStore(cfg.SessionTimeout, cfg.SweepInterval, logger)
	httpServer := server.NewStreamableHTTPServer(store, dispatcher.Dispatch,
		server.WithEndpointPath(cfg.EndpointPath),
		server.WithAllowedOrigins(cfg.AllowedOrigins),
		server.WithLogger(logger),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", logging.Fields{
			"addr":     cfg.Addr,
			"endpoint": cfg.EndpointPath,
		})
		errCh <- httpServer.Start(cfg.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", logging.Fields{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", logging.Fields{"error": err.Error()})
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("server stopped")
}
