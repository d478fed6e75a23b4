package main

import (
	"os"

	"github.com/scott-cotton/cli"
)

type MainConfig struct {
	V2    bool `cli:"name=2 aliases=v2 desc='read updates in the columnar format'"`
	Color bool `cli:"name=color desc='force colored output'"`

	Out      string
	CloseOut func() error

	Main *cli.Command
}

func (cfg *MainConfig) outOpt(cc *cli.Context, a string) (any, error) {
	cfg.Out = a
	if a == "-" {
		return nil, nil
	}
	f, err := os.OpenFile(cfg.Out, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	cc.Out = f
	cfg.CloseOut = f.Close
	return nil, nil
}

type InspectConfig struct {
	*MainConfig
	Filter string `cli:"name=filter aliases=f desc='expr filter over structs, e.g. client == 5 && kind == \"string\"'"`

	Command *cli.Command
}

type SvConfig struct {
	*MainConfig

	Command *cli.Command
}

type MergeConfig struct {
	*MainConfig

	Command *cli.Command
}

type DiffConfig struct {
	*MainConfig
	Sv string `cli:"name=sv desc='state vector file; default is the second update argument'"`

	Command *cli.Command
}

type ConvertConfig struct {
	*MainConfig
	To string `cli:"name=to desc='target format: v1 or v2'"`

	Command *cli.Command
}

type TextDiffConfig struct {
	*MainConfig
	Root string `cli:"name=root desc='root container name (default text)'"`

	Command *cli.Command
}
