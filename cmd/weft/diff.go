package main

import (
	"fmt"

	"github.com/scott-cotton/cli"

	"github.com/weftlab/go-weft"
)

func diff(cfg *DiffConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		cfg.Command.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	var encodedSV []byte
	switch {
	case cfg.Sv != "" && len(args) == 1:
		encodedSV, err = readUpdateFile(cfg.Sv)
		if err != nil {
			return err
		}
	case cfg.Sv == "" && len(args) == 2:
		base, err := readUpdateFile(args[1])
		if err != nil {
			return err
		}
		if cfg.V2 {
			encodedSV, err = weft.EncodeStateVectorFromUpdateV2(base)
		} else {
			encodedSV, err = weft.EncodeStateVectorFromUpdate(base)
		}
		if err != nil {
			return fmt.Errorf("error decoding %s: %w", args[1], err)
		}
	default:
		return fmt.Errorf("%w: diff takes an update plus either -sv or a base update", cli.ErrUsage)
	}
	update, err := readUpdateFile(args[0])
	if err != nil {
		return err
	}
	var diffed []byte
	if cfg.V2 {
		diffed, err = weft.DiffUpdateV2(update, encodedSV)
	} else {
		diffed, err = weft.DiffUpdate(update, encodedSV)
	}
	if err != nil {
		return fmt.Errorf("error decoding %s: %w", args[0], err)
	}
	return writeOut(cc, diffed)
}
