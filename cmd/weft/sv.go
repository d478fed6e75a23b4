package main

import (
	"fmt"
	"sort"

	"github.com/scott-cotton/cli"

	"github.com/weftlab/go-weft"
)

func sv(cfg *SvConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		cfg.Command.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}
	if len(args) == 0 {
		args = []string{"-"}
	}
	updates := make([][]byte, 0, len(args))
	for _, path := range args {
		update, err := readUpdateFile(path)
		if err != nil {
			return err
		}
		updates = append(updates, update)
	}
	update := updates[0]
	if len(updates) > 1 {
		if cfg.V2 {
			update, err = weft.MergeUpdatesV2(updates)
		} else {
			update, err = weft.MergeUpdates(updates)
		}
		if err != nil {
			return err
		}
	}
	var encoded []byte
	if cfg.V2 {
		encoded, err = weft.EncodeStateVectorFromUpdateV2(update)
	} else {
		encoded, err = weft.EncodeStateVectorFromUpdate(update)
	}
	if err != nil {
		return err
	}
	stateVector, err := weft.DecodeStateVector(encoded)
	if err != nil {
		return err
	}
	clients := make([]uint64, 0, len(stateVector))
	for client := range stateVector {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	for _, client := range clients {
		fmt.Fprintf(cc.Out, "%d\t%d\n", client, stateVector[client])
	}
	return nil
}
