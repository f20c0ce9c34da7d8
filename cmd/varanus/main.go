// varanus is a retrieval-backed FAQ chatbot for tour operators. Run without
// flags it opens an interactive terminal chat seeded with the Komodo
// National Park FAQ; flags switch it into an HTTP API server, an MCP stdio
// server, or a one-shot question answerer for scripts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sanonone/varanus/internal/mcp"
	"github.com/sanonone/varanus/internal/repl"
	"github.com/sanonone/varanus/internal/seed"
	"github.com/sanonone/varanus/internal/server"
	"github.com/sanonone/varanus/pkg/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to the YAML configuration file")
		dataDir    = flag.String("data-dir", envOr("VARANUS_DATA_DIR", "./varanus-data"), "directory for the append-only file and snapshots")
		httpMode   = flag.Bool("http", false, "serve the HTTP API instead of the interactive chat")
		httpAddr   = flag.String("http-addr", "", "HTTP listen address (overrides the config file, default :9123)")
		mcpMode    = flag.Bool("mcp", false, "serve the Model Context Protocol over stdio")
		askOnce    = flag.String("ask", "", "answer a single question and exit (exit code 1 when unmatched)")
		collection = flag.String("collection", "", "collection to chat against (default komodo, or the first configured one)")
		threshold  = flag.Float64("threshold", 0, "matching threshold override, 0..1 (0 keeps the configured value)")
		noSeed     = flag.Bool("no-seed", false, "do not load the built-in FAQ into an empty knowledge base")
		logLevel   = flag.String("log-level", "info", "log verbosity: debug, info, warn or error")
	)
	flag.Parse()

	setupLogging(*logLevel)

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		slog.Error("configuration error", "error", err)
		return 1
	}
	if cfg.Server.AuthToken == "" {
		cfg.Server.AuthToken = os.Getenv("VARANUS_AUTH_TOKEN")
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":9123"
	}

	opts, err := cfg.EngineOptions(*dataDir)
	if err != nil {
		slog.Error("configuration error", "error", err)
		return 1
	}
	if *threshold > 0 {
		opts.Matching.Threshold = *threshold
	}

	eng, err := engine.Open(opts)
	if err != nil {
		slog.Error("could not open the knowledge base", "error", err, "data_dir", opts.DataDir)
		return 1
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Error("error closing the knowledge base", "error", err)
		}
	}()

	if err := cfg.Apply(eng); err != nil {
		slog.Error("configuration error", "error", err)
		return 1
	}

	col := *collection
	if col == "" {
		col = cfg.DefaultCollection()
	}

	if !*noSeed {
		if _, err := seed.Apply(eng, col); err != nil {
			slog.Error("could not seed the built-in FAQ", "error", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *askOnce != "":
		return askOne(ctx, eng, col, *askOnce)
	case *httpMode:
		return serveHTTP(ctx, eng, cfg)
	case *mcpMode:
		return serveMCP(ctx, eng, col)
	default:
		return chat(ctx, eng, col)
	}
}

// chat runs the interactive loop until the user leaves or a signal arrives.
// The loop itself blocks on stdin, so cancellation is handled here rather
// than inside it.
func chat(ctx context.Context, eng *engine.Engine, collection string) int {
	r := repl.New(eng, collection, os.Stdin, os.Stdout)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			slog.Error("chat session failed", "error", err)
			return 1
		}
		return 0
	case <-ctx.Done():
		// Interrupted while waiting on stdin; the engine still gets its
		// clean close from the deferred handler.
		return 0
	}
}

func serveHTTP(ctx context.Context, eng *engine.Engine, cfg *server.Config) int {
	srv, err := server.NewServer(eng, cfg)
	if err != nil {
		slog.Error("could not create the HTTP server", "error", err)
		return 1
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
			return 1
		}
		return 0
	case <-ctx.Done():
		srv.Shutdown()
		<-errCh
		return 0
	}
}

func serveMCP(ctx context.Context, eng *engine.Engine, collection string) int {
	slog.Info("MCP server listening on stdio", "collection", collection)
	if err := mcp.Serve(ctx, eng, collection); err != nil && ctx.Err() == nil {
		slog.Error("MCP server failed", "error", err)
		return 1
	}
	return 0
}

// askOne answers a single question on stdout. Scripts read the exit code:
// 0 for a confident answer, 1 otherwise.
func askOne(ctx context.Context, eng *engine.Engine, collection, question string) int {
	ans, err := eng.Ask(ctx, collection, question)
	if err != nil {
		slog.Error("ask failed", "error", err)
		return 1
	}

	fmt.Println(ans.Text)
	if ans.Matched || ans.Source == "generated" {
		return 0
	}
	for i, sug := range ans.Suggestions {
		fmt.Printf("%d. %s\n", i+1, sug.Question)
	}
	return 1
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// stderr keeps stdout clean for the chat transcript and MCP framing.
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
