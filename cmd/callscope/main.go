// Package main is the callscope CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/anonymize"
	"github.com/hyperjump/callscope/internal/cli"
	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/enrich"
	"github.com/hyperjump/callscope/internal/indexer"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/search"
	"github.com/hyperjump/callscope/internal/server"
	"github.com/hyperjump/callscope/internal/status"
	"github.com/hyperjump/callscope/internal/transcript"
	"github.com/hyperjump/callscope/internal/vector"
	"github.com/hyperjump/callscope/internal/watcher"
	"github.com/hyperjump/callscope/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "config.yaml"

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "server":
		err = runServer(args)
	case "index":
		err = runIndex(args)
	case "search":
		err = runSearch(args)
	case "enrich":
		err = runEnrich(args)
	case "status":
		err = runStatus(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("callscope version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	debug      bool
	json       bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", defaultConfigPath, "config file path")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&c.json, "json", false, "write JSON output")
	return fs, c
}

// loadConfig loads the config file at path. A missing file at the default path runs
// on defaults. Environment overrides are applied last.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Components holds initialized services.
type Components struct {
	Store      vector.Store
	Embedder   embedding.Embedder
	Anonymizer *anonymize.Anonymizer
	Indexer    *indexer.Indexer
	Engine     *search.Engine
	Enricher   *enrich.Orchestrator
	Reporter   *status.Reporter
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := vector.NewStore(&cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	embedder, err := embedding.New(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	anonymizer := anonymize.New(anonymize.WithNames(cfg.Anonymize.Names...))
	enricher, err := enrich.NewFromConfig(cfg, store, anonymizer, logger)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize enrichment: %w", err)
	}
	logger.Info("components initialized",
		zap.String("store", store.Backend()),
		zap.String("collection", store.Collection()),
		zap.String("embedding_model", embedder.Model()),
		zap.Bool("calls_enabled", enricher.CallsEnabled()))

	return &Components{
		Store:      store,
		Embedder:   embedder,
		Anonymizer: anonymizer,
		Indexer: indexer.NewIndexer(store, embedder, anonymizer,
			indexer.WithLogger(logger),
			indexer.WithUpsertBatchSize(cfg.Store.UpsertBatchSize),
			indexer.WithPayloadMaxChars(cfg.Store.PayloadMaxChars)),
		Engine:   search.NewEngine(store, embedder, search.WithLogger(logger)),
		Enricher: enricher,
		Reporter: status.NewReporter(store, embedder.Model(), enricher.CallsEnabled(), status.WithLogger(logger)),
	}, nil
}

// setup loads config, builds the logger and initializes components.
func setup(c *commonFlags) (*config.Config, *zap.Logger, *Components, error) {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug || c.debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return cfg, logger, components, nil
}

func newWatcher(cfg *config.Config, idx *indexer.Indexer, dirs []string, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(idx, dirs, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithRetryInterval(cfg.Watch.RetryInterval))
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}

// runInit writes a starter config with every default filled in.
func runInit(args []string) error {
	fs, common := newFlagSet("init")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(args)

	if _, err := os.Stat(common.configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", common.configPath)
	}
	if dir := filepath.Dir(common.configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := config.Save(common.configPath, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", common.configPath)
	return nil
}

func runServer(args []string) error {
	fs, common := newFlagSet("server")
	_ = fs.Parse(args)

	cfg, logger, components, err := setup(common)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	if len(cfg.Watch.Directories) > 0 {
		w := newWatcher(cfg, components.Indexer, cfg.Watch.Directories, logger)
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		if err := w.Start(watchCtx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		go w.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Engine,
		components.Enricher,
		components.Indexer,
		components.Store,
		components.Reporter,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	waitForSignal()
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func runIndex(args []string) error {
	fs, common := newFlagSet("index")
	dir := fs.String("dir", "", "directory of .txt call logs")
	xlsx := fs.String("xlsx", "", "XLSX dataset with id and text columns")
	modeFlag := fs.String("mode", "", "what to do with a non-empty collection: replace or append (default: abort)")
	_ = fs.Parse(args)

	if (*dir == "") == (*xlsx == "") {
		return errors.New("exactly one of -dir or -xlsx is required")
	}
	mode, err := models.ParseRebuildMode(*modeFlag)
	if err != nil {
		return err
	}

	cfg, logger, components, err := setup(common)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	var records []models.Transcript
	if *dir != "" {
		records, err = transcript.LoadDir(*dir, cfg.Watch.Extensions)
	} else {
		records, err = transcript.LoadXLSX(*xlsx)
	}
	if err != nil {
		return err
	}
	report, err := components.Indexer.Rebuild(context.Background(), records, mode)
	if err != nil {
		return err
	}
	return cli.WriteRebuildReport(os.Stdout, report, cli.ParseFormat(common.json))
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
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

func runSearch(args []string) error {
	fs, common := newFlagSet("search")
	mode := fs.String("mode", string(models.SearchSemantic), "search mode: semantic or keyword")
	top := fs.Int("top", models.DefaultTopN, "number of results (1-20)")
	_ = fs.Parse(searchArgsReorder(args))

	query := &models.SearchQuery{
		Query: buildSearchQuery(fs.Args()),
		Mode:  models.SearchMode(*mode),
		TopN:  *top,
	}
	if err := search.ProcessQuery(query); err != nil {
		return err
	}

	_, logger, components, err := setup(common)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	response, err := components.Engine.Search(ctx, query)
	if err != nil {
		return err
	}
	format := cli.ParseFormat(common.json)
	texts := make(map[string]string, len(response.Results))
	if format == cli.OutputText {
		for _, r := range response.Results {
			if p, err := components.Store.GetPayload(ctx, r.TranscriptID); err == nil {
				texts[r.TranscriptID] = p.Text
			}
		}
	}
	return cli.WriteSearchResults(os.Stdout, response, texts, format)
}

func runEnrich(args []string) error {
	fs, common := newFlagSet("enrich")
	kind := fs.String("kind", string(models.EnrichTopics), "enrichment task: topics or classify")
	ids := fs.String("id", "", "transcript id, or a comma-separated list for a batch")
	text := fs.String("text", "", "raw transcript text (anonymized before use)")
	_ = fs.Parse(args)

	var reqs []models.EnrichRequest
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			reqs = append(reqs, models.EnrichRequest{Kind: models.EnrichKind(*kind), TranscriptID: id})
		}
	}
	if len(reqs) > 1 && *text != "" {
		return errors.New("-text cannot be combined with several ids")
	}

	_, logger, components, err := setup(common)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	format := cli.ParseFormat(common.json)
	if len(reqs) > 1 {
		return cli.WriteBatch(os.Stdout, components.Enricher.EnrichBatch(ctx, reqs), format)
	}
	req := models.EnrichRequest{Kind: models.EnrichKind(*kind), TranscriptID: *ids, Text: *text}
	result, err := components.Enricher.Enrich(ctx, req)
	if err != nil {
		return err
	}
	return cli.WriteEnrichment(os.Stdout, result, format)
}

func runStatus(args []string) error {
	fs, common := newFlagSet("status")
	_ = fs.Parse(args)

	_, logger, components, err := setup(common)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	st := components.Reporter.Check(context.Background())
	return cli.WriteStatus(os.Stdout, st, cli.ParseFormat(common.json))
}

func runWatch(args []string) error {
	fs, common := newFlagSet("watch")
	_ = fs.Parse(args)

	cfg, logger, components, err := setup(common)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	dirs := cfg.Watch.Directories
	if fs.NArg() > 0 {
		dirs = fs.Args()
	}
	if len(dirs) == 0 {
		return errors.New("no directories to watch; pass them as arguments or set watch.directories")
	}
	w := newWatcher(cfg, components.Indexer, dirs, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		return err
	}
	w.SyncExistingFiles()
	waitForSignal()
	w.Stop()
	if pending := w.Pending(); len(pending) > 0 {
		logger.Warn("files left pending", zap.Strings("paths", pending))
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `callscope - call transcript search and enrichment

Usage:
  callscope init   [flags] [-force]                Write a starter config file
  callscope server [flags]                         Start the HTTP server
  callscope index  [flags] -dir DIR | -xlsx FILE   Index transcripts
  callscope search [flags] <query>                 Search transcripts
  callscope enrich [flags] -id ID[,ID...] | -text  Extract topics or classify
  callscope status [flags]                         Show store and corpus status
  callscope watch  [flags] [dir...]                Index new call logs as they appear
  callscope version                                Show version

Common Flags:
  -config string   Config file path (default: config.yaml; defaults apply when missing)
  -debug           Enable debug logging
  -json            Write JSON output

Index Flags:
  -mode string     replace or append when the collection already holds points

Search Flags:
  -mode string     semantic (default) or keyword
  -top int         Number of results, 1-20 (default: 5)

Enrich Flags:
  -kind string     topics (default) or classify

Environment:
  OPENAI_API_KEY, ENABLE_OPENAI_CALLS, QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY,
  QDRANT_COLLECTION, CALLSCOPE_STORE (read after loading .env)

Examples:
  callscope index -dir ./data/transcripts -mode replace
  callscope search -mode keyword internet
  callscope search "problemas de conexión" -top 3
  callscope enrich -kind classify -id sample_01,sample_02
  callscope status -json
`)
}
