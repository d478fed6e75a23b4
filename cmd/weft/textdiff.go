package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/weftlab/go-weft"
)

func textDiff(cfg *TextDiffConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		cfg.Command.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: text-diff requires 2 update files, got %v", cli.ErrUsage, args)
	}
	a, err := rootText(cfg, args[0])
	if err != nil {
		return err
	}
	b, err := rootText(cfg, args[1])
	if err != nil {
		return err
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	ins := color.New(color.FgGreen)
	del := color.New(color.FgRed, color.CrossedOut)
	differs := false
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			differs = true
			ins.Fprint(cc.Out, d.Text)
		case diffmatchpatch.DiffDelete:
			differs = true
			del.Fprint(cc.Out, d.Text)
		default:
			fmt.Fprint(cc.Out, d.Text)
		}
	}
	fmt.Fprintln(cc.Out)
	if differs {
		return cli.ExitCodeErr(1)
	}
	return nil
}

// rootText materializes one update into a fresh document and returns the
// text of the configured root container.
func rootText(cfg *TextDiffConfig, path string) (string, error) {
	update, err := readUpdateFile(path)
	if err != nil {
		return "", err
	}
	doc := weft.NewDoc()
	if cfg.V2 {
		err = weft.ApplyUpdateV2(doc, update, nil)
	} else {
		err = weft.ApplyUpdate(doc, update, nil)
	}
	if err != nil {
		return "", fmt.Errorf("error decoding %s: %w", path, err)
	}
	return doc.Get(cfg.Root).Text(), nil
}
