package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port          int
	dbPath        string
	storagePath   string
	scannerType   string
	geminiKey     string
	geminiModel   string
	genaiModel    string
	ollamaURL     string
	ollamaModel   string
	samplePayload string
	authUser      string
	authPass      string
	logLevel      string
	logFormat     string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	var cfg config
	fs := ff.NewFlagSet("expense-tracker")
	fs.IntVar(&cfg.port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.dbPath, 0, "db", "expense-tracker.db", "Database file path")
	fs.StringVar(&cfg.storagePath, 0, "storage", "./receipts", "Storage directory path")
	fs.StringVar(&cfg.scannerType, 0, "scanner", "gemini", "Scanner type: gemini, genai, ollama or sample")
	fs.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-pro", "Gemini model name for the gemini scanner")
	fs.StringVar(&cfg.genaiModel, 0, "genai-model", "gemini-2.5-flash", "Gemini model name for the genai scanner")
	fs.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.ollamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
	fs.StringVar(&cfg.samplePayload, 0, "sample-payload", "", "Fixed model answer for the sample scanner")
	fs.StringVar(&cfg.authUser, 0, "auth-user", "", "Basic auth username (optional)")
	fs.StringVar(&cfg.authPass, 0, "auth-pass", "", "Basic auth password (optional)")
	fs.StringVar(&cfg.logLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, 0, "log-format", "text", "Log format: text or json")
	showVersion := fs.BoolLong("version", "Show version information")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogger(cfg.logLevel, cfg.logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

// setupLogger installs the default slog handler
func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func newScanner(cfg config) (scanning.Scanner, error) {
	switch cfg.scannerType {
	case "gemini", "genai":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		if cfg.scannerType == "genai" {
			slog.Info("Initializing GenAI scanner...", "model", cfg.genaiModel)
			return scanning.NewGenAI(apiKey, cfg.genaiModel)
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	case "sample":
		slog.Warn("Using sample scanner; receipts will not be read")
		return scanning.NewSample(cfg.samplePayload), nil
	}
	return nil, fmt.Errorf("invalid scanner type %q: want gemini, genai, ollama or sample", cfg.scannerType)
}

func run(cfg config) error {
	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := receipt.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	scanner, err := newScanner(cfg)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...", "path", cfg.storagePath)
	store, err := receipt.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	server := receipt.NewServer(receipt.NewService(db, scanner, store), receipt.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	})
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, fmt.Sprintf(":%d", cfg.port)); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	slog.Info("Shut down", "version", version)
	return nil
}
