package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort          = 8080
	DefaultHost          = "127.0.0.1"
	DefaultLogLevel      = "info"
	DefaultMaxFileSize   = 10 * 1024 * 1024 // 10MB
	DefaultOCREngine     = "tesseract"
	DefaultOCRLanguage   = "pol"
	DefaultScale         = 2.0
	DefaultCacheSize     = 32
	DefaultMaxTextLength = 500

	// Directory permissions
	DefaultDirPerm = 0o750

	// EnvPrefix prefixes every environment variable
	EnvPrefix = "PDF_FORMS"
)

var validOCREngines = map[string]bool{
	"tesseract": true,
	"azure":     true,
	"none":      true,
}

// Config holds all configuration for the PDF forms server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Storage configuration
	DocumentsDir string // caller PDFs readable by the MCP tools
	TemplatesDir string // blank template PDFs
	MappingsDir  string // mapping.json documents
	OutputDir    string // filled PDFs written by the MCP tools
	DatabaseURL  string // when set, mappings are kept in Postgres instead of MappingsDir
	CacheSize    int    // template cache entries, 0 disables

	// Detection configuration
	LocaleFile    string
	OCREngine     string
	OCRLanguage   string
	AzureEndpoint string
	AzureKey      string
	Scale         float64
	Workers       int

	// Fill configuration
	MaxTextLength int

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum PDF file size in bytes
	Production  bool  // hide internal error details from callers
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:          ModeStdio, // Default to stdio mode for MCP compatibility
		Host:          DefaultHost,
		Port:          DefaultPort,
		DocumentsDir:  currentDir,
		TemplatesDir:  filepath.Join(currentDir, "templates"),
		MappingsDir:   filepath.Join(currentDir, "mappings"),
		OutputDir:     filepath.Join(currentDir, "output"),
		CacheSize:     DefaultCacheSize,
		OCREngine:     DefaultOCREngine,
		OCRLanguage:   DefaultOCRLanguage,
		Scale:         DefaultScale,
		Workers:       runtime.NumCPU(),
		MaxTextLength: DefaultMaxTextLength,
		Version:       "1.0.0",
		ServerName:    "mcp-pdf-forms",
		LogLevel:      DefaultLogLevel,
		MaxFileSize:   DefaultMaxFileSize,
	}
}

// LoadFromFlags loads a .env file when present, parses command line flags
// and environment variables and returns a configuration
func LoadFromFlags() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)
	cfg.expandPaths()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads environment variables from path. A missing file is not
// an error; variables already set in the environment win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		log.Printf("Loaded environment from %s", path)
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("cannot load %s: %w", path, err)
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix; PDF_FORMS_LOG_LEVEL maps to log-level
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.DocumentsDir)
	viper.SetDefault("templates", cfg.TemplatesDir)
	viper.SetDefault("mappings", cfg.MappingsDir)
	viper.SetDefault("output", cfg.OutputDir)
	viper.SetDefault("database-url", cfg.DatabaseURL)
	viper.SetDefault("cache-size", cfg.CacheSize)
	viper.SetDefault("locale", cfg.LocaleFile)
	viper.SetDefault("ocr", cfg.OCREngine)
	viper.SetDefault("ocr-lang", cfg.OCRLanguage)
	viper.SetDefault("azure-endpoint", cfg.AzureEndpoint)
	viper.SetDefault("azure-key", cfg.AzureKey)
	viper.SetDefault("scale", cfg.Scale)
	viper.SetDefault("workers", cfg.Workers)
	viper.SetDefault("max-text-length", cfg.MaxTextLength)
	viper.SetDefault("log-level", cfg.LogLevel)
	viper.SetDefault("max-file-size", cfg.MaxFileSize)
	viper.SetDefault("production", cfg.Production)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.DocumentsDir, "Directory containing caller PDF files")
	pflag.String("templates", cfg.TemplatesDir, "Directory containing blank template PDFs")
	pflag.String("mappings", cfg.MappingsDir, "Directory for stored field mappings")
	pflag.String("output", cfg.OutputDir, "Directory for filled PDFs (stdio mode)")
	pflag.String("database-url", cfg.DatabaseURL, "Postgres DSN; stores mappings in the database when set")
	pflag.Int("cache-size", cfg.CacheSize, "Number of template PDFs kept in memory (0 disables)")
	pflag.String("locale", cfg.LocaleFile, "Vocabulary YAML file (embedded Polish vocabulary when empty)")
	pflag.String("ocr", cfg.OCREngine, "OCR engine: tesseract, azure or none")
	pflag.String("ocr-lang", cfg.OCRLanguage, "OCR language code")
	pflag.String("azure-endpoint", cfg.AzureEndpoint, "Azure Computer Vision endpoint")
	pflag.String("azure-key", cfg.AzureKey, "Azure Computer Vision subscription key")
	pflag.Float64("scale", cfg.Scale, "Render scale used for detection (>= 1.0)")
	pflag.Int("workers", cfg.Workers, "Pages processed concurrently during detection")
	pflag.Int("max-text-length", cfg.MaxTextLength, "Maximum length of free text values")
	pflag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("max-file-size", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.Bool("production", cfg.Production, "Hide internal error details from callers")
}

var flagNames = []string{
	"mode", "host", "port", "dir", "templates", "mappings", "output", "database-url",
	"cache-size", "locale", "ocr", "ocr-lang", "azure-endpoint", "azure-key", "scale",
	"workers", "max-text-length", "log-level", "max-file-size", "production",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range flagNames {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP PDF Forms - discovers and fills fields of PDF forms\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                          "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/pdfs --ocr=none           "+
			"# stdio mode without OCR\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --templates=/srv/templates # HTTP server\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_MODE            Server mode\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_DIR             Document directory\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_TEMPLATES       Template directory\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_MAPPINGS        Mapping directory\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_DATABASE_URL    Postgres DSN\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_OCR             OCR engine\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_AZURE_ENDPOINT  Azure endpoint\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_AZURE_KEY       Azure key\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_LOG_LEVEL       Log level\n")
		fmt.Fprintf(os.Stderr, "  PDF_FORMS_PRODUCTION      Hide internal error details\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DocumentsDir = viper.GetString("dir")
	cfg.TemplatesDir = viper.GetString("templates")
	cfg.MappingsDir = viper.GetString("mappings")
	cfg.OutputDir = viper.GetString("output")
	cfg.DatabaseURL = viper.GetString("database-url")
	cfg.CacheSize = viper.GetInt("cache-size")
	cfg.LocaleFile = viper.GetString("locale")
	cfg.OCREngine = strings.ToLower(viper.GetString("ocr"))
	cfg.OCRLanguage = viper.GetString("ocr-lang")
	cfg.AzureEndpoint = viper.GetString("azure-endpoint")
	cfg.AzureKey = viper.GetString("azure-key")
	cfg.Scale = viper.GetFloat64("scale")
	cfg.Workers = viper.GetInt("workers")
	cfg.MaxTextLength = viper.GetInt("max-text-length")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.MaxFileSize = viper.GetInt64("max-file-size")
	cfg.Production = viper.GetBool("production")
}

// expandPaths makes the directory settings absolute
func (c *Config) expandPaths() {
	for _, p := range []*string{&c.DocumentsDir, &c.TemplatesDir, &c.MappingsDir, &c.OutputDir} {
		if *p == "" {
			continue
		}
		if expanded, err := filepath.Abs(*p); err == nil {
			*p = expanded
		}
	}
}

// Validate checks if the configuration is valid. Missing storage
// directories are created.
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	dirs := []struct {
		name string
		path string
	}{
		{"document", c.DocumentsDir},
		{"template", c.TemplatesDir},
		{"mapping", c.MappingsDir},
		{"output", c.OutputDir},
	}
	for _, d := range dirs {
		if d.name == "mapping" && c.DatabaseURL != "" {
			continue
		}
		if err := ensureDirectory(d.name, d.path); err != nil {
			return err
		}
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxTextLength <= 0 {
		return errors.New("maximum text length must be positive")
	}

	if !validOCREngines[c.OCREngine] {
		return fmt.Errorf("invalid OCR engine: %s (must be one of: tesseract, azure, none)", c.OCREngine)
	}
	if c.OCREngine == "azure" && (c.AzureEndpoint == "" || c.AzureKey == "") {
		return errors.New("azure OCR requires an endpoint and a key")
	}
	if c.Scale < 1.0 {
		return fmt.Errorf("render scale must be at least 1.0, got %v", c.Scale)
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// ensureDirectory checks that path is a usable directory, creating it
// when it does not exist
func ensureDirectory(name, path string) error {
	if path == "" {
		return fmt.Errorf("%s directory cannot be empty", name)
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create %s directory %s: %w", name, path, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access %s directory %s: %w", name, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s directory %s is not a directory", name, path)
	}
	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. Secrets
// are not included.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, DocumentsDir: %s, TemplatesDir: %s, "+
		"MappingsDir: %s, Database: %t, OCREngine: %s, LogLevel: %s, MaxFileSize: %d, Production: %t}",
		c.Mode, c.Host, c.Port, c.DocumentsDir, c.TemplatesDir,
		c.MappingsDir, c.DatabaseURL != "", c.OCREngine, c.LogLevel, c.MaxFileSize, c.Production)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
