package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Mode:          "stdio",
		DocumentsDir:  filepath.Join(root, "docs"),
		TemplatesDir:  filepath.Join(root, "templates"),
		MappingsDir:   filepath.Join(root, "mappings"),
		OutputDir:     filepath.Join(root, "output"),
		OCREngine:     "none",
		OCRLanguage:   "pol",
		Scale:         2,
		Workers:       2,
		MaxTextLength: 500,
		Version:       "1.0.0",
		ServerName:    "test-server",
		LogLevel:      "info",
		MaxFileSize:   1024 * 1024,
	}
}

func TestPrintVersion(t *testing.T) {
	originalStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w

	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	version, buildTime, gitCommit = "1.2.3", "2024-05-01_10:30:00", "abc123"
	defer func() {
		version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit
		os.Stdout = originalStdout
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		printVersion()
		w.Close()
	}()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	<-done

	output := buf.String()
	for _, expected := range []string{
		"MCP PDF Forms",
		"Version: 1.2.3",
		"Build Time: 2024-05-01_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("printVersion() output missing %q\nActual output:\n%s", expected, output)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	originalOutput := log.Writer()
	originalFlags := log.Flags()
	defer func() {
		log.SetOutput(originalOutput)
		log.SetFlags(originalFlags)
	}()

	setupLogging(&config.Config{Mode: "stdio", LogLevel: "debug"})
	if log.Writer() != os.Stderr {
		t.Errorf("stdio debug mode should log to stderr")
	}

	setupLogging(&config.Config{Mode: "stdio", LogLevel: "info"})
	if log.Writer() != io.Discard {
		t.Errorf("stdio mode should discard logs unless debugging")
	}

	setupLogging(&config.Config{Mode: "server", LogLevel: "info"})
	if log.Writer() != os.Stdout {
		t.Errorf("server mode should log to stdout")
	}
	if want := log.LstdFlags | log.Lshortfile; log.Flags() != want {
		t.Errorf("server mode flags = %v, want %v", log.Flags(), want)
	}
}

func TestOpenStores(t *testing.T) {
	cfg := testConfig(t)

	s, err := openStores(cfg)
	if err != nil {
		t.Fatalf("openStores() error = %v", err)
	}
	if _, ok := s.templates.(*storage.CachedStore); ok {
		t.Errorf("templates should not be cached when CacheSize is 0")
	}
	if _, ok := s.mappings.(*storage.FileStore); !ok {
		t.Errorf("mappings should live on disk without a database URL, got %T", s.mappings)
	}

	cfg.CacheSize = 4
	s, err = openStores(cfg)
	if err != nil {
		t.Fatalf("openStores() error = %v", err)
	}
	if _, ok := s.templates.(*storage.CachedStore); !ok {
		t.Errorf("templates should be cached, got %T", s.templates)
	}

	if err := s.output.SaveBytes(context.Background(), "a/b.pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("output store not writable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "a", "b.pdf")); err != nil {
		t.Errorf("output written outside OutputDir: %v", err)
	}
}

func TestNewServer(t *testing.T) {
	cfg := testConfig(t)

	server, err := newServer(cfg)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	if server == nil {
		t.Fatal("newServer() returned nil")
	}
}

func TestNewServer_LocaleFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.LocaleFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := newServer(cfg); err == nil {
		t.Error("expected error for missing locale file")
	}

	cfg.LocaleFile = filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfg.LocaleFile, []byte("fields: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := newServer(cfg); err == nil {
		t.Error("expected error for malformed locale file")
	}
}
