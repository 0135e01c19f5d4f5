package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"receiptrocket/internal/auth"
	"receiptrocket/internal/extraction"
	"receiptrocket/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receiptrocket")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "receiptrocket.db", "Metadata database file path")
		minioEndpoint  = fs.StringLong("minio-endpoint", "localhost:9000", "Object store endpoint")
		minioAccessKey = fs.StringLong("minio-access-key", "", "Object store access key")
		minioSecretKey = fs.StringLong("minio-secret-key", "", "Object store secret key")
		minioBucket    = fs.StringLong("minio-bucket", "receiptrocket", "Object store bucket for receipt images")
		minioUseSSL    = fs.BoolLong("minio-use-ssl", "Use TLS for the object store connection")
		urlExpiry      = fs.DurationLong("url-expiry", 7*24*time.Hour, "Lifetime of presigned image URLs")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		jwksURL        = fs.StringLong("jwks-url", "", "Identity provider JWKS URL")
		jwtIssuer      = fs.StringLong("jwt-issuer", "", "Expected identity token issuer (optional)")
		jwtAudience    = fs.StringLong("jwt-audience", "", "Expected identity token audience (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTROCKET"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize metadata database
	slog.Info("Initializing metadata database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize metadata database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize identity verifier
	if *jwksURL == "" {
		slog.Error("Identity provider JWKS URL is required. Set --jwks-url flag or RECEIPTROCKET_JWKS_URL environment variable")
		os.Exit(1)
	}
	verifier, err := auth.NewJWKSVerifier(auth.Config{
		JWKSURL:  *jwksURL,
		Issuer:   *jwtIssuer,
		Audience: *jwtAudience,
	})
	if err != nil {
		slog.Error("Failed to initialize identity verifier", "error", err)
		os.Exit(1)
	}

	// Initialize extractor
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
	extractor, err := extraction.NewGemini(apiKey, *geminiModel)
	if err != nil {
		slog.Error("Failed to initialize Gemini", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	// Initialize object storage
	slog.Info("Initializing object storage...", "endpoint", *minioEndpoint, "bucket", *minioBucket)
	storage, err := receipt.NewMinioStorage(*minioEndpoint, *minioAccessKey, *minioSecretKey, *minioBucket, *minioUseSSL, *urlExpiry)
	if err != nil {
		slog.Error("Failed to initialize object storage", "error", err)
		os.Exit(1)
	}

	// Initialize service and server
	receiptService := receipt.NewService(db, verifier, extractor, storage)
	server := receipt.NewServer(receiptService)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
