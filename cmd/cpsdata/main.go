// cpsdata - MCP server for Chicago public-school data.
// Two read-only tools: guarded SQL over the schooltoneighborhood table and
// semantic search over embedded school-website chunks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/matiasleandrokruk/cpsdata/internal/domain/schooldb"
	"github.com/matiasleandrokruk/cpsdata/internal/domain/tool"
	"github.com/matiasleandrokruk/cpsdata/internal/domain/websearch"
	"github.com/matiasleandrokruk/cpsdata/internal/infra/config"
	"github.com/matiasleandrokruk/cpsdata/internal/infra/llm"
	"github.com/matiasleandrokruk/cpsdata/internal/infra/sqlite"
	"github.com/matiasleandrokruk/cpsdata/internal/server"
	"github.com/matiasleandrokruk/cpsdata/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	// The stdio transport owns stdout; everything else goes to stderr.
	logger := log.New(errOut, "cps-data: ", log.LstdFlags)

	if len(args) == 0 {
		printHelp(out)
		return 2
	}

	switch args[0] {
	case "--version", "-version", "version":
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	case "--help", "-help", "help":
		printHelp(out)
		return 0
	case "serve":
		return runServe(args[1:], out, logger)
	case "ingest":
		return runIngest(args[1:], out, logger)
	default:
		fmt.Fprintf(errOut, "unknown command %q\n\n", args[0]) //nolint:errcheck
		printHelp(out)
		return 2
	}
}

// loadConfig merges env config, an optional YAML file, and flag overrides
// (flags win).
func loadConfig(configPath, dbPath, vectorPath string) (config.Config, error) {
	cfg := config.Load()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFile(configPath, cfg)
		if err != nil {
			return cfg, err
		}
	}
	if dbPath != "" {
		cfg.SchoolDBPath = dbPath
	}
	if vectorPath != "" {
		cfg.VectorDBPath = vectorPath
	}
	return cfg, nil
}

func runServe(args []string, out io.Writer, logger *log.Logger) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dbPath := fs.String("db", "", "Path to the school SQLite database")
	vectorPath := fs.String("vectors", "", "Path to the vector store SQLite database")
	configPath := fs.String("config", "", "Optional YAML config file")
	httpAddr := fs.String("http", "", "Serve MCP over HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(out, "serve: %v\n", err) //nolint:errcheck
		return 2
	}

	cfg, err := loadConfig(*configPath, *dbPath, *vectorPath)
	if err != nil {
		logger.Printf("serve: %v", err)
		return 1
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if cfg.SchoolDBPath == "" || cfg.VectorDBPath == "" {
		fmt.Fprintln(out, "serve: --db and --vectors are required (or CPS_SCHOOL_DB / CPS_VECTOR_DB)") //nolint:errcheck
		return 2
	}

	vdb, err := sqlite.OpenVector(cfg.VectorDBPath)
	if err != nil {
		logger.Printf("serve: open vector store: %v", err)
		return 1
	}
	defer vdb.Close() //nolint:errcheck

	embedder := llm.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbedModel)
	reranker := llm.NewTEIReranker(cfg.RerankBaseURL, cfg.RerankModel)
	logger.Printf("embedder: %s/%s, reranker: %s/%s",
		embedder.ModelInfo().Provider, embedder.ModelInfo().ID,
		reranker.ModelInfo().Provider, reranker.ModelInfo().ID)

	registry := tool.NewRegistry(logger)
	if err := tool.RegisterBuiltins(registry, tool.BuiltinServices{
		School: schooldb.NewExecutor(cfg.SchoolDBPath),
		Web:    websearch.NewSearchService(vdb, embedder, reranker),
	}); err != nil {
		logger.Printf("serve: register tools: %v", err)
		return 1
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Version = version.Version
	srvCfg.HTTPAddr = cfg.HTTPAddr
	srvCfg.JWTSecret = cfg.JWTSecret

	health := func(ctx context.Context) error {
		if err := vdb.PingContext(ctx); err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		if err := embedder.HealthCheck(ctx); err != nil {
			return err
		}
		return reranker.HealthCheck(ctx)
	}

	srv := server.New(registry, health, srvCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if srvCfg.HTTPAddr != "" {
		err = srv.RunHTTP(ctx)
	} else {
		err = srv.RunStdio(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("serve: %v", err)
		return 1
	}
	return 0
}

func runIngest(args []string, out io.Writer, logger *log.Logger) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	vectorPath := fs.String("vectors", "", "Path to the vector store SQLite database")
	inputPath := fs.String("input", "", "JSONL file of chunks to embed and store")
	configPath := fs.String("config", "", "Optional YAML config file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(out, "ingest: %v\n", err) //nolint:errcheck
		return 2
	}

	cfg, err := loadConfig(*configPath, "", *vectorPath)
	if err != nil {
		logger.Printf("ingest: %v", err)
		return 1
	}
	if cfg.VectorDBPath == "" || *inputPath == "" {
		fmt.Fprintln(out, "ingest: --vectors and --input are required") //nolint:errcheck
		return 2
	}

	vdb, err := sqlite.OpenVector(cfg.VectorDBPath)
	if err != nil {
		logger.Printf("ingest: open vector store: %v", err)
		return 1
	}
	defer vdb.Close() //nolint:errcheck

	if err := sqlite.MigrateUp(vdb); err != nil {
		logger.Printf("ingest: migrate: %v", err)
		return 1
	}

	in, err := os.Open(*inputPath)
	if err != nil {
		logger.Printf("ingest: %v", err)
		return 1
	}
	defer in.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder := llm.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbedModel)
	svc := websearch.NewIngestService(vdb, embedder)
	written, err := svc.Ingest(ctx, in)
	if err != nil {
		logger.Printf("ingest: %v", err)
		return 1
	}

	fmt.Fprintf(out, "ingested %d chunks into %s\n", written, cfg.VectorDBPath) //nolint:errcheck
	return 0
}

func printHelp(out io.Writer) {
	helpText := `cpsdata - MCP server for Chicago public-school data

Usage:
  cpsdata serve  --db school.db --vectors chunks.db [--config cfg.yaml] [--http :8080]
  cpsdata ingest --vectors chunks.db --input chunks.jsonl [--config cfg.yaml]

Commands:
  serve        Serve the MCP tools (stdio by default, HTTP with --http)
  ingest       Embed a JSONL chunk file into the vector store
  version      Show version information
  help         Show this help message

Environment:
  CPS_SCHOOL_DB, CPS_VECTOR_DB     store paths (flags win)
  OLLAMA_BASE_URL, CPS_EMBED_MODEL embedding backend
  CPS_RERANK_BASE_URL, CPS_RERANK_MODEL reranking backend
  CPS_HTTP_ADDR, CPS_JWT_SECRET    HTTP transport`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
