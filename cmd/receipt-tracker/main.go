package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-tracker/internal/capture"
	"github.com/zombor/receipt-tracker/internal/notion"
	"github.com/zombor/receipt-tracker/internal/objectstore"
	"github.com/zombor/receipt-tracker/internal/receipt"
	"github.com/zombor/receipt-tracker/internal/scanning"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout)
	if err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_TRACKER")); err != nil {
		if errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(0)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// config holds the flags shared by every subcommand
type config struct {
	notionToken    *string
	notionDatabase *string
	notionURL      *string
	notionVersion  *string
	storage        *string
	storageDir     *string
	publicURL      *string
	s3Bucket       *string
	s3Region       *string
	s3Endpoint     *string
	s3AccessKey    *string
	s3SecretKey    *string
	s3PublicURL    *string
	s3PresignTTL   *time.Duration
	ledgerPath     *string
	scannerType    *string
	geminiKey      *string
	geminiModel    *string
	ollamaURL      *string
	ollamaModel    *string
}

func newRootCommand(stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("receipt-tracker")
	cfg := &config{
		notionToken:    fs.StringLong("notion-token", "", "Notion integration token"),
		notionDatabase: fs.StringLong("notion-database", "", "Notion receipts database ID"),
		notionURL:      fs.StringLong("notion-url", notion.DefaultBaseURL, "Notion API base URL"),
		notionVersion:  fs.StringLong("notion-version", notion.DefaultNotionVersion, "Notion-Version header"),
		storage:        fs.StringLong("storage", "local", "Object storage backend: 'local' or 's3'"),
		storageDir:     fs.StringLong("storage-dir", "./objects", "Directory for the local object store"),
		publicURL:      fs.StringLong("public-url", "http://localhost:8080/objects", "Public base URL of the local object store"),
		s3Bucket:       fs.StringLong("s3-bucket", "", "S3 bucket name"),
		s3Region:       fs.StringLong("s3-region", "us-east-1", "S3 region"),
		s3Endpoint:     fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL (optional, e.g. MinIO)"),
		s3AccessKey:    fs.StringLong("s3-access-key", "", "S3 access key (defaults to the AWS credential chain)"),
		s3SecretKey:    fs.StringLong("s3-secret-key", "", "S3 secret key"),
		s3PublicURL:    fs.StringLong("s3-public-url", "", "Public base URL of the bucket; presigned URLs are used when empty"),
		s3PresignTTL:   fs.DurationLong("s3-presign-expiry", 7*24*time.Hour, "Lifetime of presigned image URLs"),
		ledgerPath:     fs.StringLong("db", "receipt-tracker.db", "Orphan ledger database file path"),
		scannerType:    fs.StringLong("scanner", "none", "Receipt scanner: 'none', 'gemini' or 'ollama'"),
		geminiKey:      fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:    fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:      fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:    fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)"),
	}
	_ = fs.BoolLong("version", "Show version information")

	root := &ff.Command{
		Name:      "receipt-tracker",
		Usage:     "receipt-tracker [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "capture receipts into a Notion database",
		Flags:     fs,
		Subcommands: []*ff.Command{
			newServeCommand(fs, cfg),
			newSchemaCommand(fs, cfg, stdout),
			newListCommand(fs, cfg, stdout),
			newAddCommand(fs, cfg, stdout),
			newSweepCommand(fs, cfg, stdout),
		},
	}
	return root
}

func newServeCommand(parent *ff.FlagSet, cfg *config) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		spoolDir = fs.StringLong("spool", "", "Directory watched for new receipt images (enables capture)")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "receipt-tracker serve [FLAGS]",
		ShortHelp: "run the HTTP server and web interface",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			var camera *capture.Controller
			if *spoolDir != "" {
				slog.Info("Initializing capture device...", "spool", *spoolDir)
				camera = capture.NewController(capture.NewDirDevice(*spoolDir))
				defer camera.Close()
				if err := camera.Prepare(ctx); err != nil {
					return fmt.Errorf("preparing capture device: %w", err)
				}
			}

			a, err := cfg.build(ctx, camera)
			if err != nil {
				return err
			}
			defer a.Close()

			a.service.OnProgress(func(p receipt.Progress) {
				slog.Info("Receipt progress", "id", p.ID, "stage", p.Stage, "error", p.Error)
			})

			if _, err := a.service.Refresh(ctx); err != nil {
				slog.Warn("Failed to load receipts", "error", err)
			}

			basicAuth := receipt.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}
			server := receipt.NewServer(a.service, basicAuth, a.localRoot)

			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			slog.Info("Server started", "address", fmt.Sprintf("http://localhost:%d", *port))

			return server.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}

func newSchemaCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	return &ff.Command{
		Name:      "schema",
		Usage:     "receipt-tracker schema",
		ShortHelp: "show the database title and its store and category options",
		Flags:     ff.NewFlagSet("schema").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.build(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			meta, err := a.service.Schema(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(stdout, "%s (%s)\n", meta.Title, meta.ID)
			for _, property := range []string{notion.StoreProperty, notion.CategoryProperty} {
				fmt.Fprintf(stdout, "%s: %s\n", property, strings.Join(meta.OptionNames(property), ", "))
			}
			return nil
		},
	}
}

func newListCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	return &ff.Command{
		Name:      "list",
		Usage:     "receipt-tracker list",
		ShortHelp: "list receipts that are not validated yet",
		Flags:     ff.NewFlagSet("list").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.build(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.service.Refresh(ctx)
			if err != nil {
				return err
			}
			return printRecords(stdout, records)
		},
	}
}

func newAddCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	return &ff.Command{
		Name:      "add",
		Usage:     "receipt-tracker add <FILE> [<FILE> ...]",
		ShortHelp: "upload receipt images and create their records",
		Flags:     ff.NewFlagSet("add").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("at least one file is required")
			}

			a, err := cfg.build(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			a.service.OnProgress(func(p receipt.Progress) {
				if p.Error != "" {
					fmt.Fprintf(stdout, "%s: %s (%s)\n", p.ID, p.Stage, p.Error)
					return
				}
				fmt.Fprintf(stdout, "%s: %s\n", p.ID, p.Stage)
			})

			var errs []error
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					errs = append(errs, fmt.Errorf("reading %s: %w", path, err))
					continue
				}
				rec, err := a.service.AddReceipt(ctx, filepath.Base(path), data, capture.ContentTypeFor(path))
				if err != nil {
					errs = append(errs, fmt.Errorf("adding %s: %w", path, err))
					continue
				}
				fmt.Fprintf(stdout, "%s -> %s\n", path, rec.ImageURL)
			}
			return errors.Join(errs...)
		},
	}
}

func newSweepCommand(parent *ff.FlagSet, cfg *config, stdout io.Writer) *ff.Command {
	return &ff.Command{
		Name:      "sweep",
		Usage:     "receipt-tracker sweep",
		ShortHelp: "delete uploaded images that no record references",
		Flags:     ff.NewFlagSet("sweep").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.build(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sweep, err := a.service.SweepOrphans(ctx)
			if sweep != nil {
				for _, key := range sweep.Deleted {
					fmt.Fprintf(stdout, "deleted %s\n", key)
				}
				for _, key := range sweep.Remaining {
					fmt.Fprintf(stdout, "kept %s\n", key)
				}
			}
			return err
		},
	}
}

func printRecords(w io.Writer, records []notion.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTORE\tDATE\tCATEGORY\tPRICE\tIMAGE")
	for _, rec := range records {
		date := ""
		if !rec.PurchaseDate.IsZero() {
			date = rec.PurchaseDate.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Store, date, rec.Category, formatCents(rec.Price), rec.ImageURL)
	}
	return tw.Flush()
}

func formatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// app holds the long-lived objects a command needs
type app struct {
	service   *receipt.Service
	localRoot string
	closers   []io.Closer
}

func (d *app) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

func (c *config) build(ctx context.Context, camera *capture.Controller) (*app, error) {
	d := &app{}

	client := notion.NewClient(notion.Config{
		BaseURL:       *c.notionURL,
		NotionVersion: *c.notionVersion,
		Token:         *c.notionToken,
		DatabaseID:    *c.notionDatabase,
	})
	if client.DatabaseID() == "" {
		return nil, fmt.Errorf("--notion-database is required: %w", notion.ErrDatabaseIDMissing)
	}

	slog.Info("Initializing orphan ledger...", "path", *c.ledgerPath)
	ledger, err := receipt.NewBoltLedger(*c.ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	d.closers = append(d.closers, ledger)

	store, err := c.objectStore(ctx, d)
	if err != nil {
		d.Close()
		return nil, err
	}

	scanner, err := c.scanner(ctx)
	if err != nil {
		d.Close()
		return nil, err
	}
	if scanner != nil {
		d.closers = append(d.closers, scanner)
	}

	uploader := objectstore.NewUploaderWithOrphans(store, ledger)

	// A nil *Controller must not become a non-nil Camera.
	var cam receipt.Camera
	if camera != nil {
		cam = camera
	}

	d.service = receipt.NewService(client, uploader, cam, scanner, ledger)
	return d, nil
}

func (c *config) objectStore(ctx context.Context, d *app) (objectstore.Store, error) {
	switch *c.storage {
	case "local":
		slog.Info("Initializing local object store...", "dir", *c.storageDir)
		store, err := objectstore.NewLocalStore(*c.storageDir, *c.publicURL)
		if err != nil {
			return nil, fmt.Errorf("initializing local store: %w", err)
		}
		d.localRoot = store.Root()
		return store, nil
	case "s3":
		slog.Info("Initializing S3 object store...", "bucket", *c.s3Bucket, "region", *c.s3Region)
		store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:        *c.s3Bucket,
			Region:        *c.s3Region,
			Endpoint:      *c.s3Endpoint,
			AccessKey:     *c.s3AccessKey,
			SecretKey:     *c.s3SecretKey,
			PublicURL:     *c.s3PublicURL,
			PresignExpiry: *c.s3PresignTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing s3 store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("invalid storage backend %q: use local or s3", *c.storage)
	}
}

func (c *config) scanner(ctx context.Context) (scanning.Scanner, error) {
	switch *c.scannerType {
	case "", "none":
		return nil, nil
	case "gemini":
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *c.geminiModel)
		scanner, err := scanning.NewGemini(ctx, apiKey, *c.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return scanner, nil
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *c.ollamaURL, "model", *c.ollamaModel)
		scanner, err := scanning.NewOllama(*c.ollamaURL, *c.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return scanner, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: use none, gemini or ollama", *c.scannerType)
	}
}
