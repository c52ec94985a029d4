package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/proofreader/internal/config"
	"github.com/Sternrassler/proofreader/pkg/ledger"
	"github.com/Sternrassler/proofreader/pkg/logging"
	"github.com/Sternrassler/proofreader/pkg/rollup"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
)

// runJoin regenerates the rollup document from an existing ledger.
func runJoin(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		common commonFlags
		output string
	)
	common.register(fs)
	fs.StringVarP(&output, "output", "o", "", "rollup file (default <ledger>.md)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: proofread join [options] <input.json>

Description:
  Write the completed paragraphs of the ledger for <input.json> to a single
  document, separated by blank lines. Pending paragraphs are left out.

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
	if err := cfg.Validate(); err != nil {
		return fail(stderr, err)
	}
	cfg.Log.Output = stderr
	logging.Setup(cfg.Log)
	initColors(stdout, common.noColor)

	var redisClient *redis.Client
	if cfg.Ledger.Backend == config.BackendRedis {
		redisClient, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			return fail(stderr, err)
		}
		defer redisClient.Close()
	}

	store, err := openStore(ctx, cfg, input, redisClient)
	if err != nil {
		return fail(stderr, err)
	}
	defer store.Close()

	entries, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fail(stderr, fmt.Errorf("no ledger at %s; run proofread first", store.Location()))
		}
		return fail(stderr, err)
	}

	if output == "" {
		output = config.RollupPath(cfg.LedgerPath(input))
	}
	if err := rollup.WriteFile(output, entries); err != nil {
		return fail(stderr, err)
	}

	_, _ = green.Fprintf(stdout, "✓ wrote %d of %d entries to %s\n", entries.DoneCount(), len(entries), output)
	return exitOK
}
