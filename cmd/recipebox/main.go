package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"recipebox/internal/core"
	"recipebox/internal/storage"
	"recipebox/internal/upload"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// getEnv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getEnv(key string, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

type options struct {
	listen   string
	dataDir  string
	policy   string
	backend  string
	logLevel string

	minioEndpoint  string
	minioBucket    string
	minioAccessKey string
	minioSecretKey string
	minioSSL       bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("recipebox", pflag.ContinueOnError)
	flagSet.StringVar(&opts.listen, "listen", getEnv("RECIPEBOX_LISTEN", "8080"), "HTTP listen port")
	flagSet.StringVar(&opts.dataDir, "data-dir", getEnv("RECIPEBOX_DATA_DIR", "./data"), "directory holding the database and local images")
	flagSet.StringVar(&opts.policy, "policy", getEnv("RECIPEBOX_POLICY", ""), "YAML upload policy (default: built-in image policy)")
	flagSet.StringVar(&opts.backend, "storage", getEnv("RECIPEBOX_STORAGE", "local"), "image storage backend: local or minio")
	flagSet.StringVar(&opts.logLevel, "log-level", getEnv("RECIPEBOX_LOG_LEVEL", "info"), "log level")
	flagSet.StringVar(&opts.minioEndpoint, "minio-endpoint", getEnv("RECIPEBOX_MINIO_ENDPOINT", "localhost:9000"), "MinIO endpoint")
	flagSet.StringVar(&opts.minioBucket, "minio-bucket", getEnv("RECIPEBOX_MINIO_BUCKET", "recipebox"), "MinIO bucket for images")
	flagSet.StringVar(&opts.minioAccessKey, "minio-access-key", getEnv("RECIPEBOX_MINIO_ACCESS_KEY", "minioadmin"), "MinIO access key")
	flagSet.StringVar(&opts.minioSecretKey, "minio-secret-key", getEnv("RECIPEBOX_MINIO_SECRET_KEY", "minioadmin"), "MinIO secret key")
	flagSet.BoolVar(&opts.minioSSL, "minio-ssl", getEnv("RECIPEBOX_MINIO_SSL", "false") == "true", "use TLS for MinIO")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}

	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	return opts, nil
}

// newFileStore builds the image backend selected by opts.
func newFileStore(ctx context.Context, opts options, dataDir string) (storage.FileStore, error) {
	switch opts.backend {
	case "local":
		return storage.NewLocalFileStore(dataDir), nil
	case "minio":
		client, err := minio.New(opts.minioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(opts.minioAccessKey, opts.minioSecretKey, ""),
			Secure: opts.minioSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}

		files := storage.NewMinioFileStore(client, opts.minioBucket)
		if err := files.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return files, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.backend)
	}
}

func Run(ctx context.Context, args []string) error {

	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(opts.dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	policy := upload.DefaultPolicy()
	if opts.policy != "" {
		policy, err = upload.LoadPolicy(opts.policy)
		if err != nil {
			return fmt.Errorf("failed to load upload policy: %w", err)
		}
	}

	files, err := newFileStore(ctx, opts, absDataDir)
	if err != nil {
		return err
	}

	cfg := core.NewConfig(
		core.WithDataDir(absDataDir),
		core.WithFileStore(files),
		core.WithPolicy(policy),
	)

	server, err := core.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create recipebox server: %w", err)
	}

	defer server.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", opts.listen),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Recipe Box HTTP server",
			"port", opts.listen,
			"storage", opts.backend,
			"max_upload_mb", policy.MaxSizeMegabytes(),
		)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Recipe Box exited with error", "error", err)
		os.Exit(1)
	}
}
