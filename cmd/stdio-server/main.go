// Command stdio-server runs the knowledge retrieval server over the
// line-oriented stdio transport. Logs go to stderr so protocol traffic
// on stdout stays clean.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seekhub/knowledge-mcp-server/internal/app"
	"github.com/seekhub/knowledge-mcp-server/internal/config"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/server"
	"github.com/seekhub/knowledge-mcp-server/internal/usecases"
)

const (
	serverName    = "knowledge-mcp-server"
	serverVersion = "1.0.0"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.LogLevel),
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	searcher, err := app.NewSearchService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("building search index", logging.Fields{"error": err.Error()})
	}

	catalog := usecases.NewCatalog()
	catalog.Register(searcher.Tool(), searcher.Handle)

	dispatcher := usecases.NewDispatcher(serverName, serverVersion, catalog, logger)

	transport := server.NewStdioTransport(dispatcher.Dispatch, server.WithStdioLogger(logger))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Info("shutting down", logging.Fields{"signal": sig.String()})
		_ = transport.Close()
		cancel()
	}()

	logger.Info("serving on stdio")
	if err := transport.Serve(ctx); err != nil && err != context.Canceled {
		logger.Fatal("transport failed", logging.Fields{"error": err.Error()})
	}
}
