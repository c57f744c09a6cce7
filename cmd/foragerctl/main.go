// Command foragerctl inspects and administers the faucet database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"forager/internal/config"
	"forager/internal/database"

	flags "github.com/jessevdk/go-flags"
)

type foragerctl struct {
	Backend string `long:"backend" description:"Database backend (postgres or leveldb); defaults to DB_BACKEND"`
	LevelDB string `long:"leveldb" description:"LevelDB directory; defaults to LEVELDB_PATH"`

	Blacklist blacklistCmd `command:"blacklist" description:"Manage banned addresses"`
	Stats     statsCmd     `command:"stats" description:"Print faucet totals"`
	Address   addressCmd   `command:"address" description:"Show the claim record of an address"`
	IP        ipCmd        `command:"ip" description:"Show the claim record of an IP"`
	Hash      hashCmd      `command:"hash" description:"Look up a perceptual image hash"`
	Validate  validateCmd  `command:"validate" description:"Check a BANANO address"`
}

var (
	opts foragerctl
	out  io.Writer = os.Stdout

	// openStore is replaced in tests.
	openStore = defaultOpenStore
)

func defaultOpenStore() (database.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.Backend != "" {
		cfg.DBBackend = opts.Backend
	}
	if opts.LevelDB != "" {
		cfg.LevelDBPath = opts.LevelDB
	}
	return database.Open(cfg)
}

// withStore opens the store for the duration of fn.
func withStore(fn func(ctx context.Context, store database.Store) error) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func printJSON(v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(format string, a ...any) {
	fmt.Fprintf(out, format, a...)
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
