package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"
)

// setupColor decides whether subcommand output is colored: forced on by
// -color, otherwise on only when writing to a terminal.
func setupColor(cfg *MainConfig, cc *cli.Context) {
	if cfg.Color {
		color.NoColor = false
		return
	}
	if f, ok := cc.Out.(*os.File); !ok ||
		(!isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())) {
		color.NoColor = true
	}
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	sOpts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	opts := append(sOpts, &cli.Opt{
		Name:        "o",
		Description: "output file (default stdout)",
		Type:        cli.NamedFuncOpt(cfg.outOpt, "(filepath)"),
	})

	return cli.NewCommandAt(&cfg.Main, "weft").
		WithSynopsis("weft [opts] command [opts]").
		WithDescription("weft is a tool for working with replicated document updates.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return weftMain(cfg, cc, args)
		}).
		WithSubs(
			InspectCommand(cfg),
			SvCommand(cfg),
			MergeCommand(cfg),
			DiffCommand(cfg),
			ConvertCommand(cfg),
			TextDiffCommand(cfg))
}

func weftMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	defer func() {
		if cfg.CloseOut != nil {
			cfg.CloseOut()
		}
	}()
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	setupColor(cfg, cc)
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

func InspectCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &InspectConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "inspect").
		WithAliases("i", "in").
		WithSynopsis("inspect [opts] [files]").
		WithDescription("list the structs and delete ranges of updates").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return inspect(cfg, cc, args)
		})
}

func SvCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &SvConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Command, "sv").
		WithSynopsis("sv [files]").
		WithDescription("print the state vector reached by updates").
		WithRun(func(cc *cli.Context, args []string) error {
			return sv(cfg, cc, args)
		})
}

func MergeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &MergeConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Command, "merge").
		WithAliases("m").
		WithSynopsis("merge <file> [files]").
		WithDescription("merge updates into one equivalent update").
		WithRun(func(cc *cli.Context, args []string) error {
			return merge(cfg, cc, args)
		})
}

func DiffCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &DiffConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "diff").
		WithAliases("d", "di").
		WithSynopsis("diff [-sv svfile] <update> [base-update]").
		WithDescription("strip from an update what a state vector already covers").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return diff(cfg, cc, args)
		})
}

func ConvertCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ConvertConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "convert").
		WithAliases("c", "co").
		WithSynopsis("convert -to <v1|v2> <file>").
		WithDescription("transcode an update between the wire formats").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return convert(cfg, cc, args)
		})
}

func TextDiffCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &TextDiffConfig{MainConfig: mainCfg, Root: "text"}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "text-diff").
		WithAliases("td").
		WithSynopsis("text-diff [-root name] <update-a> <update-b>").
		WithDescription("diff the text of a root container across two updates").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return textDiff(cfg, cc, args)
		})
}
