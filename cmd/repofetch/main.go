package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "repofetch: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	subcmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(args)
	case "fetch":
		return cmdFetch(args)
	case "cache":
		return cmdCache(args)
	default:
		return fmt.Errorf("unknown command: %s\nUsage: repofetch [serve|fetch|cache]", subcmd)
	}
}
