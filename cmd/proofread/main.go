// Command proofread sends the paragraphs of a JSON work file to a language
// model for proofreading, recording every result in a resumable ledger.
//
// Usage:
//
//	proofread [options] <input.json>
//	proofread join [options] <input.json>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/proofreader/internal/config"
	"github.com/Sternrassler/proofreader/pkg/batch"
	"github.com/Sternrassler/proofreader/pkg/cache"
	"github.com/Sternrassler/proofreader/pkg/ledger"
	"github.com/Sternrassler/proofreader/pkg/logging"
	"github.com/Sternrassler/proofreader/pkg/metrics"
	"github.com/Sternrassler/proofreader/pkg/transform"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "join" {
		return runJoin(ctx, args[1:], stdout, stderr)
	}
	return runProofread(ctx, args, stdout, stderr)
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configPath    string
	ledgerPath    string
	ledgerBackend string
	redisAddr     string
	logLevel      string
	noColor       bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&c.ledgerPath, "ledger", "", "ledger location (default <input>.proofread.json)")
	fs.StringVar(&c.ledgerBackend, "ledger-backend", "", "ledger backend: file, sqlite or redis")
	fs.StringVar(&c.redisAddr, "redis-addr", "", "Redis address for the redis ledger and the cache")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&c.noColor, "no-color", false, "disable coloured output")
}

// load reads the configuration and applies the flags the user set.
func (c *commonFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("ledger") {
		cfg.Ledger.Path = c.ledgerPath
	}
	if fs.Changed("ledger-backend") {
		cfg.Ledger.Backend = c.ledgerBackend
	}
	if fs.Changed("redis-addr") {
		cfg.Redis.Addr = c.redisAddr
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = logging.LogLevel(c.logLevel)
	}
	if c.noColor {
		cfg.Log.NoColor = true
	}
	return cfg, nil
}

func runProofread(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proofread", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		common      commonFlags
		model       string
		rpm         float64
		concurrency int
		start       int
		stop        int
		only        []int
		useCache    bool
		metricsAddr string
		promptFile  string
		placement   string
		noProgress  bool
	)
	common.register(fs)
	fs.StringVarP(&model, "model", "m", "", "model id (deepseek-chat, deepseek-reasoner, deepseek-v3, google, ...)")
	fs.Float64Var(&rpm, "rpm", 0, "maximum requests per minute")
	fs.IntVarP(&concurrency, "concurrency", "j", 0, "maximum simultaneous requests")
	fs.IntVar(&start, "start", 1, "first paragraph to process (1-based)")
	fs.IntVar(&stop, "stop", 0, "last paragraph to process (1-based, 0 = last)")
	fs.IntSliceVar(&only, "only", nil, "process only these paragraphs (1-based, comma separated)")
	fs.BoolVar(&useCache, "cache", false, "reuse completions cached in Redis")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address during the run")
	fs.StringVar(&promptFile, "prompt-file", "", "file with the system instruction")
	fs.StringVar(&placement, "placement", "", "where context goes in the prompt: material or target")
	fs.BoolVar(&noProgress, "no-progress", false, "disable the progress bar")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: proofread [options] <input.json>
       proofread join [options] <input.json>

Description:
  Proofread every pending paragraph of <input.json>, a JSON array of
  {"target", "context", "reference"} objects. Results are merged into the
  ledger as they arrive, so an interrupted run resumes where it stopped.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	input := fs.Arg(0)

	cfg, err := common.load(fs)
	if err != nil {
		return fail(stderr, err)
	}
	if fs.Changed("model") {
		cfg.Model = model
	}
	if fs.Changed("rpm") {
		cfg.RequestsPerMinute = rpm
	}
	if fs.Changed("concurrency") {
		cfg.MaxConcurrency = concurrency
	}
	if fs.Changed("cache") {
		cfg.Cache.Enabled = useCache
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if fs.Changed("prompt-file") {
		cfg.SystemPromptFile = promptFile
	}
	if fs.Changed("placement") {
		cfg.ContextPlacement = placement
	}
	if err := cfg.Validate(); err != nil {
		return fail(stderr, err)
	}

	req, err := buildRequest(cfg, start, stop, only)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg.Log.Output = stderr
	logging.Setup(cfg.Log)
	logger := logging.NewLogger("proofread")
	initColors(stdout, common.noColor)

	items, err := batch.LoadItems(input)
	if err != nil {
		return fail(stderr, err)
	}

	systemPrompt, err := cfg.SystemPrompt()
	if err != nil {
		return fail(stderr, err)
	}
	tcfg := transform.DefaultConfig()
	tcfg.Models = cfg.ModelSpecs()
	tcfg.SystemPrompt = systemPrompt
	tcfg.Retry = cfg.Retry
	tcfg.Timeout = cfg.Timeout
	tcfg.Logger = logging.NewLogger("transform")
	client, err := transform.New(tcfg)
	if err != nil {
		return fail(stderr, err)
	}

	var redisClient *redis.Client
	if cfg.Ledger.Backend == config.BackendRedis || cfg.Cache.Enabled {
		redisClient, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			return fail(stderr, err)
		}
		defer redisClient.Close()
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	store, err := openStore(ctx, cfg, input, redisClient)
	if err != nil {
		return fail(stderr, err)
	}
	defer store.Close()

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	ledgerPath := cfg.LedgerPath(input)
	bar := newProgressBar(progressConfig(stderr, noProgress, common.noColor),
		int64(pendingCount(ctx, store, req, len(items))), "proofreading")

	ecfg := batch.Config{
		Store:      store,
		RunLogPath: config.RunLogPath(ledgerPath),
		RollupPath: config.RollupPath(ledgerPath),
		Placement:  cfg.Placement(),
		Logger:     logging.NewLogger("batch"),
		OnItem: func(batch.ItemResult) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	}
	if cfg.Cache.Enabled {
		ecfg.Cache = cache.NewManager(redisClient, cfg.Cache.TTL)
	}
	engine, err := batch.New(client, ecfg)
	if err != nil {
		return fail(stderr, err)
	}

	res, err := engine.Run(ctx, items, req)
	if bar != nil {
		_ = bar.Finish()
	}
	if res == nil {
		return fail(stderr, err)
	}

	if res.Noop {
		fmt.Fprintln(stdout, "Nothing to process.")
	}
	printSummary(stdout, input, res.Stats)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "Interrupted; completed results are saved, run again to resume.")
			return exitInterrupted
		}
		return fail(stderr, err)
	}
	return exitOK
}

// buildRequest converts the 1-based paragraph flags into a run request.
func buildRequest(cfg *config.Config, start, stop int, only []int) (batch.RunRequest, error) {
	if start < 1 {
		return batch.RunRequest{}, fmt.Errorf("--start must be >= 1 (got %d)", start)
	}
	if stop < 0 {
		return batch.RunRequest{}, fmt.Errorf("--stop must be >= 0 (got %d)", stop)
	}

	req := batch.RunRequest{
		Start:             start - 1,
		Stop:              stop - 1,
		Model:             cfg.Model,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxConcurrency:    cfg.MaxConcurrency,
	}
	for _, n := range only {
		if n < 1 {
			return batch.RunRequest{}, fmt.Errorf("--only paragraphs are 1-based (got %d)", n)
		}
		req.Indices = append(req.Indices, n-1)
	}
	return req, nil
}

// pendingCount estimates the number of items the run will dispatch. It
// falls back to the requested count if the ledger cannot be read yet.
func pendingCount(ctx context.Context, store ledger.Store, req batch.RunRequest, n int) int {
	requested := req.Requested(n)
	entries, err := store.Load(ctx)
	if err != nil || len(entries) != n {
		return len(requested)
	}
	return len(entries.Pending(requested))
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// openStore opens the configured ledger backend for input.
func openStore(ctx context.Context, cfg *config.Config, input string, redisClient *redis.Client) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case config.BackendSQLite:
		store, err := ledger.NewSQLiteStore(ctx, cfg.LedgerPath(input))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis ledger requires a redis connection")
		}
		return ledger.NewRedisStore(redisClient, cfg.LedgerKey(input)), nil
	default:
		return ledger.NewFileStore(cfg.LedgerPath(input)), nil
	}
}

func fail(w io.Writer, err error) int {
	errorf(w, "%v", err)
	return exitError
}
