package main

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/weftlab/go-weft"
)

var (
	idColor   = color.New(color.FgYellow)
	kindColor = color.New(color.FgCyan)
	delColor  = color.New(color.FgRed)
)

func inspect(cfg *InspectConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		cfg.Command.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) == 0 {
		args = []string{"-"}
	}
	var filter *vm.Program
	if cfg.Filter != "" {
		filter, err = expr.Compile(cfg.Filter, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return fmt.Errorf("%w: bad filter %q: %w", cli.ErrUsage, cfg.Filter, err)
		}
	}
	for _, path := range args {
		update, err := readUpdateFile(path)
		if err != nil {
			return err
		}
		info, err := weft.InspectUpdate(update, cfg.V2)
		if err != nil {
			return fmt.Errorf("error decoding %s: %w", path, err)
		}
		if len(args) > 1 {
			fmt.Fprintf(cc.Out, "%s:\n", path)
		}
		for _, si := range info.Structs {
			keep, err := matchStruct(filter, si)
			if err != nil {
				return err
			}
			if !keep {
				continue
			}
			fmt.Fprintf(cc.Out, "%s len=%d kind=%s",
				idColor.Sprint(si.ID), si.Len, kindColor.Sprint(si.Kind))
			if si.Origin != nil {
				fmt.Fprintf(cc.Out, " origin=%s", si.Origin)
			}
			if si.Right != nil {
				fmt.Fprintf(cc.Out, " right=%s", si.Right)
			}
			if si.Parent != "" {
				fmt.Fprintf(cc.Out, " parent=%s", si.Parent)
			}
			if si.Key != "" {
				fmt.Fprintf(cc.Out, " key=%s", si.Key)
			}
			fmt.Fprintln(cc.Out)
		}
		for _, del := range info.Deletes {
			fmt.Fprintf(cc.Out, "%s %d@%d len=%d\n",
				delColor.Sprint("deleted"), del.Client, del.Clock, del.Len)
		}
	}
	return nil
}

func matchStruct(filter *vm.Program, si weft.StructInfo) (bool, error) {
	if filter == nil {
		return true, nil
	}
	env := map[string]any{
		"client": si.ID.Client,
		"clock":  si.ID.Clock,
		"len":    si.Len,
		"kind":   si.Kind,
		"parent": si.Parent,
		"key":    si.Key,
	}
	out, err := expr.Run(filter, env)
	if err != nil {
		return false, fmt.Errorf("filter failed: %w", err)
	}
	keep, _ := out.(bool)
	return keep, nil
}
