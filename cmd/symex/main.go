package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage(stderr)
		return flag.ErrHelp
	case "run":
		return NewRunCommand(stdout, stderr).Run(ctx, args)
	default:
		return fmt.Errorf(`symex %s: unknown command`, cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `
Symex is a tool for symbolic execution of small Go functions.

Usage:

	symex <command> [arguments]

The commands are:

	run         explore paths and report a witness for each
	help        this screen
`[1:])
}
