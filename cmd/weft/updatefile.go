package main

import (
	"fmt"
	"io"
	"os"

	"github.com/scott-cotton/cli"
)

// readUpdateFile reads one binary update, "-" meaning stdin.
func readUpdateFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read update %q: %w", path, err)
	}
	return d, nil
}

func writeOut(cc *cli.Context, d []byte) error {
	_, err := cc.Out.Write(d)
	return err
}
