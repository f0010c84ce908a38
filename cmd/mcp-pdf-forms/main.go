package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/locale"
	"github.com/a3tai/mcp-pdf-forms/internal/mapping"
	"github.com/a3tai/mcp-pdf-forms/internal/mcp"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf"
	"github.com/a3tai/mcp-pdf-forms/internal/pdf/fill"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the server mode
func setupLogging(cfg *config.Config) {
	if cfg.IsStdioMode() {
		// stdout carries the MCP protocol
		log.SetOutput(os.Stderr)
		if !cfg.IsDebug() {
			log.SetOutput(io.Discard)
		}
	} else {
		log.SetOutput(os.Stdout)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// stores holds the blob stores the server reads and writes
type stores struct {
	documents storage.BlobStore
	templates storage.BlobStore
	mappings  storage.BlobStore
	output    storage.BlobStore
}

// openStores builds the stores described by cfg. Mappings live in Postgres
// when a database URL is configured, otherwise under the mappings directory.
func openStores(cfg *config.Config) (*stores, error) {
	documents, err := storage.NewFileStore(cfg.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	output, err := storage.NewFileStore(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	templateFiles, err := storage.NewFileStore(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	var templates storage.BlobStore = templateFiles
	if cfg.CacheSize > 0 {
		templates = storage.NewCachedStore(templateFiles, cfg.CacheSize)
	}

	var mappings storage.BlobStore
	if cfg.DatabaseURL != "" {
		db, err := storage.OpenPostgres(cfg.DatabaseURL, cfg.IsDebug())
		if err != nil {
			return nil, err
		}
		mappings = db
	} else {
		files, err := storage.NewFileStore(cfg.MappingsDir)
		if err != nil {
			return nil, fmt.Errorf("mappings: %w", err)
		}
		mappings = files
	}

	return &stores{documents: documents, templates: templates, mappings: mappings, output: output}, nil
}

// newService wires the form service from cfg
func newService(cfg *config.Config, s *stores) (*pdf.Service, error) {
	loc, err := locale.LoadFile(cfg.LocaleFile)
	if err != nil {
		return nil, err
	}

	return pdf.NewService(pdf.Options{
		MaxFileSize: cfg.MaxFileSize,
		Locale:      loc,
		OCR: ocr.Config{
			Engine:        cfg.OCREngine,
			Language:      cfg.OCRLanguage,
			AzureEndpoint: cfg.AzureEndpoint,
			AzureKey:      cfg.AzureKey,
		},
		Scale:         cfg.Scale,
		Workers:       cfg.Workers,
		MaxTextLength: cfg.MaxTextLength,
		Debug:         cfg.IsDebug(),
	}, fill.DefaultRegistry(), s.templates, mapping.NewRepository(s.mappings, cfg.IsDebug()), s.documents)
}

// newServer builds the MCP server and everything behind it
func newServer(cfg *config.Config) (*mcp.Server, error) {
	s, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	service, err := newService(cfg, s)
	if err != nil {
		return nil, fmt.Errorf("failed to create form service: %w", err)
	}
	return mcp.NewServer(cfg, service, s.output)
}

// runServerMode handles server mode execution with signal handling
func runServerMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case sig := <-signalCh:
		log.Printf("Received signal: %s", sig)
		log.Println("Initiating graceful shutdown...")
		cancel()

		if err := <-serverErrCh; err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Server shutdown with error: %v", err)
			os.Exit(1)
		}

	case err := <-serverErrCh:
		if err != nil {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}

	log.Println("Server stopped successfully")
}

// runStdioMode runs until the client closes stdin
func runStdioMode(ctx context.Context, server *mcp.Server) {
	if err := server.Run(ctx); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	if version != "dev" {
		cfg.Version = version
	}

	if cfg.IsDebug() {
		log.Printf("Starting with configuration: %s", cfg.String())
	}

	server, err := newServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IsServerMode() {
		runServerMode(ctx, cancel, server)
	} else {
		runStdioMode(ctx, server)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("MCP PDF Forms\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
