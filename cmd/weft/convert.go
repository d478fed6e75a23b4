package main

import (
	"fmt"

	"github.com/scott-cotton/cli"

	"github.com/weftlab/go-weft"
)

func convert(cfg *ConvertConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		cfg.Command.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: convert takes exactly one update file", cli.ErrUsage)
	}
	update, err := readUpdateFile(args[0])
	if err != nil {
		return err
	}
	var converted []byte
	switch cfg.To {
	case "v2":
		converted, err = weft.ConvertUpdateFormatV1ToV2(update)
	case "v1":
		converted, err = weft.ConvertUpdateFormatV2ToV1(update)
	default:
		return fmt.Errorf("%w: -to must be v1 or v2, got %q", cli.ErrUsage, cfg.To)
	}
	if err != nil {
		return fmt.Errorf("error decoding %s: %w", args[0], err)
	}
	return writeOut(cc, converted)
}
