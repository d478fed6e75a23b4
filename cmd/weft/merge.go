package main

import (
	"fmt"

	"github.com/scott-cotton/cli"

	"github.com/weftlab/go-weft"
)

func merge(cfg *MergeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		cfg.Command.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: merge requires at least one update file", cli.ErrUsage)
	}
	updates := make([][]byte, 0, len(args))
	for _, path := range args {
		update, err := readUpdateFile(path)
		if err != nil {
			return err
		}
		updates = append(updates, update)
	}
	var merged []byte
	if cfg.V2 {
		merged, err = weft.MergeUpdatesV2(updates)
	} else {
		merged, err = weft.MergeUpdates(updates)
	}
	if err != nil {
		return err
	}
	return writeOut(cc, merged)
}
