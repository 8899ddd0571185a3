// Package main is the kagami CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kagami/internal/cli"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/fileid"
	"github.com/hyperjump/kagami/internal/imagestore"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/hyperjump/kagami/internal/watcher"
	"github.com/hyperjump/kagami/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kagami/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present. A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
			cfg = &config.Config{}
			config.ApplyDefaults(cfg)
			config.ApplyEnv(cfg)
			return cfg, "", cfg.Validate()
		}
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		runServer(args)
	case "add":
		err = runAdd(args)
	case "search":
		err = runSearch(args)
	case "lookup":
		err = runLookup(args)
	case "delete":
		err = runDelete(args)
	case "rebuild", "sync":
		err = runMaintenance(command, args)
	case "reset":
		err = runReset(args)
	case "status":
		err = runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("kagami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// load models up front so the first request does not pay for it
	go func() {
		if err := components.Pipeline.Init(ctx); err != nil {
			logger.Error("feature models unavailable", zap.Error(err))
		}
	}()
	go components.Manager.Run(ctx)

	if cfg.Watch.Enabled {
		if cfg.Storage.Backend != "local" && cfg.Storage.Backend != "" {
			logger.Warn("directory watch needs the local image backend; disabled", zap.String("backend", cfg.Storage.Backend))
		} else {
			w := watcher.NewWatcher(cfg.Storage.ImageDir,
				components.Service.IndexStored,
				components.Service.ForgetStored,
				watcher.WithLogger(logger),
				watcher.WithDebounce(cfg.Watch.Debounce),
			)
			if err := w.Start(ctx); err != nil {
				logger.Fatal("Failed to start watcher", zap.Error(err))
			}
			defer w.Stop()
		}
	}

	srv := server.NewServer(components.Service, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	cancel()
	if err := components.Manager.Flush(shutdownCtx); err != nil {
		logger.Warn("final flush failed", zap.Error(err))
	}
}

// backend is the set of operations the subcommands run, either against a server or in process.
type backend interface {
	Add(ctx context.Context, in *models.ImageInput) (*models.AddResponse, error)
	AddBatch(ctx context.Context, inputs []*models.ImageInput) (*models.BatchResponse, error)
	Search(ctx context.Context, img []byte, k int) (*models.SearchResponse, error)
	Delete(ctx context.Context, id string) (*models.DeleteResponse, error)
	Rebuild(ctx context.Context) (*models.RebuildResponse, error)
	Sync(ctx context.Context) (*models.RebuildResponse, error)
	Reset(ctx context.Context) (*models.ResetResponse, error)
	Lookup(ctx context.Context, q *models.LookupQuery) ([]*models.LookupResult, error)
	Status(ctx context.Context) (*models.Status, error)
}

type commonFlags struct {
	configPath *string
	serverURL  *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path (direct mode)"),
		serverURL:  fs.String("server", defaultServerURL, "server URL (empty = open the index directly; stop the server first)"),
	}
}

// open returns a backend talking to the server, or one over the local index when --server is empty.
func (c *commonFlags) open(ctx context.Context) (backend, func(), error) {
	if *c.serverURL != "" {
		return cli.NewClient(*c.serverURL, 0), func() {}, nil
	}
	cfg, _, err := loadConfig(*c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return localBackend{components.Service}, func() {
		components.Close()
		_ = logger.Sync()
	}, nil
}

// searchArgsReorder moves any flags that appear after the positional arguments to the front so
// that flag.Parse sees them. Go's flag package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word lookups work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// readInputs reads image files, skipping anything that is not an indexable image.
func readInputs(paths []string, folder, customer string) ([]*models.ImageInput, error) {
	var inputs []*models.ImageInput
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, err
			}
			var files []string
			for _, e := range entries {
				if !e.IsDir() && imagestore.IsIndexable(e.Name()) {
					files = append(files, filepath.Join(p, e.Name()))
				}
			}
			more, err := readInputs(files, folder, customer)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, more...)
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, &models.ImageInput{
			ID:       fileid.FromPath(p),
			Folder:   folder,
			Customer: customer,
			Data:     data,
		})
	}
	return inputs, nil
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "image id (single file only; default: file name)")
	folder := fs.String("folder", "", "folder to file the images under")
	customer := fs.String("customer", "", "customer the images belong to")
	_ = fs.Parse(searchArgsReorder(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: kagami add [flags] <image-or-directory>...")
		os.Exit(1)
	}
	inputs, err := readInputs(fs.Args(), *folder, *customer)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("no images found")
	}

	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(inputs) == 1 {
		if *id != "" {
			inputs[0].ID = *id
		}
		res, err := b.Add(ctx, inputs[0])
		if err != nil {
			return err
		}
		cli.WriteAdd(os.Stdout, res)
		return nil
	}
	res, err := b.AddBatch(ctx, inputs)
	if err != nil {
		return err
	}
	cli.WriteBatch(os.Stdout, res)
	return nil
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := addCommonFlags(fs)
	k := fs.Int("k", 0, "number of results (default from server config)")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(args))
	if fs.NArg() != 1 {
		fmt.Println("Usage: kagami search [flags] <image>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	img, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	res, err := b.Search(ctx, img, *k)
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(os.Stdout, res, format)
}

func runLookup(args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "maximum number of results")
	fuzzy := fs.Bool("fuzzy", false, "tolerate typos")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(args))
	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: kagami lookup [flags] <words>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	q := &models.LookupQuery{Query: query, Limit: *limit, Fuzzy: *fuzzy}
	results, err := b.Lookup(ctx, q)
	if err != nil {
		return err
	}
	// retry with typo tolerance when nothing matched
	if len(results) == 0 && !q.Fuzzy {
		q.Fuzzy = true
		if fuzzyResults, err := b.Lookup(ctx, q); err == nil {
			results = fuzzyResults
		}
	}
	return cli.WriteLookupResults(os.Stdout, results, format)
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(searchArgsReorder(args))
	if fs.NArg() != 1 {
		fmt.Println("Usage: kagami delete [flags] <image-id>")
		os.Exit(1)
	}
	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	res, err := b.Delete(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	cli.WriteDelete(os.Stdout, res)
	return nil
}

func runMaintenance(op string, args []string) error {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	common := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	run := b.Sync
	if op == "rebuild" {
		run = b.Rebuild
	}
	res, err := run(ctx)
	if err != nil {
		return err
	}
	return cli.WriteRebuild(os.Stdout, op, res, format)
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	common := addCommonFlags(fs)
	yes := fs.Bool("yes", false, "confirm deleting the index and every stored image")
	_ = fs.Parse(args)
	if !*yes {
		return errors.New("reset deletes every stored image; pass --yes to confirm")
	}
	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	res, err := b.Reset(ctx)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	if res.Warning != "" {
		fmt.Printf("warning: %s\n", res.Warning)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, closeFn, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	st, err := b.Status(ctx)
	if err != nil {
		return err
	}
	return cli.WriteStatus(os.Stdout, st, format)
}

func printUsage() {
	fmt.Println(`kagami - image similarity search

Usage:
  kagami server [flags]                 Start the HTTP server
  kagami add [flags] <image|dir>...     Index images
  kagami search [flags] <image>         Find images similar to an image
  kagami lookup [flags] <words>         Find images by name, folder or customer
  kagami delete [flags] <id>            Remove an image
  kagami rebuild [flags]                Re-embed every stored image
  kagami sync [flags]                   Embed stored images missing from the index
  kagami reset --yes [flags]            Delete the index and every stored image
  kagami status [flags]                 Show index and model status
  kagami version                        Show version
  kagami help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kagami/config.yaml)
  --debug            Enable debug logging

Common Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open
                     the index directly when the server is not running.
  --config string    Config file path (direct mode)
  --output string    text, compact, or json (search, lookup, status, rebuild, sync)

Add Flags:
  --id string        Image id for a single file (default: file name)
  --folder string    Folder to file the images under
  --customer string  Customer the images belong to

Search Flags:
  --k int            Number of results

Lookup Flags:
  --limit int        Maximum number of results (default: 20)
  --fuzzy            Tolerate typos

Examples:
  kagami server
  kagami add --folder summer red-dress.jpg blue-skirt.jpg
  kagami add ./catalog
  kagami search --k 5 query.jpg
  kagami search --output json query.jpg
  kagami lookup red dress
  kagami delete red-dress.jpg
  kagami sync
  kagami status --output json`)
}
