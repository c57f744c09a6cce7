package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"forager/internal/banano"
	"forager/internal/database"
	"forager/internal/imaging"
)

type statsCmd struct{}

func (c *statsCmd) Execute(args []string) error {
	return withStore(func(ctx context.Context, store database.Store) error {
		report, err := store.Report(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	})
}

type addressCmd struct {
	Args struct {
		Address string `positional-arg-name:"address"`
	} `positional-args:"true" required:"true"`
}

func (c *addressCmd) Execute(args []string) error {
	return showClaim(database.KindAddress, c.Args.Address)
}

type ipCmd struct {
	Args struct {
		IP string `positional-arg-name:"ip"`
	} `positional-args:"true" required:"true"`
}

func (c *ipCmd) Execute(args []string) error {
	return showClaim(database.KindIP, c.Args.IP)
}

func showClaim(kind database.ClaimKind, key string) error {
	return withStore(func(ctx context.Context, store database.Store) error {
		rec, err := store.GetClaimRecord(ctx, kind, key)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no claims recorded for %s %s", kind, key)
		}
		if err != nil {
			return err
		}
		if kind == database.KindAddress {
			if _, banned, err := store.IsBlacklisted(ctx, []string{key}); err == nil && banned {
				printf("BANNED\n")
			}
		}
		return printJSON(rec)
	})
}

type hashCmd struct {
	Args struct {
		Hash string `positional-arg-name:"hash"`
	} `positional-args:"true" required:"true"`
}

func (c *hashCmd) Execute(args []string) error {
	if !imaging.ValidHash(c.Args.Hash) {
		return fmt.Errorf("%q is not a 16 character hex hash", c.Args.Hash)
	}
	return withStore(func(ctx context.Context, store database.Store) error {
		rec, err := store.LookupHash(ctx, c.Args.Hash)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("hash %s has never been submitted", c.Args.Hash)
		}
		if err != nil {
			return err
		}
		return printJSON(rec)
	})
}

type validateCmd struct {
	Args struct {
		Address string `positional-arg-name:"address"`
	} `positional-args:"true" required:"true"`
}

func (c *validateCmd) Execute(args []string) error {
	key, err := banano.PublicKey(c.Args.Address)
	if err != nil {
		return err
	}
	printf("valid\npublic key %s\n", hex.EncodeToString(key))
	return nil
}
