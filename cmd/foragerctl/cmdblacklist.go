package main

import (
	"context"
	"fmt"

	"forager/internal/banano"
	"forager/internal/database"
)

type blacklistCmd struct {
	Add    blacklistAddCmd    `command:"add" description:"Ban an address"`
	Remove blacklistRemoveCmd `command:"remove" description:"Lift a ban"`
	List   blacklistListCmd   `command:"list" description:"List banned addresses"`
}

type blacklistAddCmd struct {
	Reason string `long:"reason" description:"Why the address is banned"`
	Force  bool   `long:"force" description:"Ban even if the address does not validate"`
	Args   struct {
		Address string `positional-arg-name:"address"`
	} `positional-args:"true" required:"true"`
}

// Execute satisfies the go-flags Commander interface.
func (c *blacklistAddCmd) Execute(args []string) error {
	if err := banano.ValidateAddress(c.Args.Address); err != nil && !c.Force {
		return fmt.Errorf("%w (use --force to ban anyway)", err)
	}
	return withStore(func(ctx context.Context, store database.Store) error {
		if err := store.AddBlacklist(ctx, c.Args.Address, c.Reason); err != nil {
			return err
		}
		printf("banned %s\n", c.Args.Address)
		return nil
	})
}

type blacklistRemoveCmd struct {
	Args struct {
		Address string `positional-arg-name:"address"`
	} `positional-args:"true" required:"true"`
}

func (c *blacklistRemoveCmd) Execute(args []string) error {
	return withStore(func(ctx context.Context, store database.Store) error {
		removed, err := store.RemoveBlacklist(ctx, c.Args.Address)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s is not banned", c.Args.Address)
		}
		printf("unbanned %s\n", c.Args.Address)
		return nil
	})
}

type blacklistListCmd struct{}

func (c *blacklistListCmd) Execute(args []string) error {
	return withStore(func(ctx context.Context, store database.Store) error {
		entries, err := store.ListBlacklist(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			printf("%s\t%s\t%s\n", e.Address, e.CreatedAt.Format("2006-01-02"), e.Reason)
		}
		return nil
	})
}
