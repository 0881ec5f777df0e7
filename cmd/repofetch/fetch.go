package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/deeplooplabs/repofetch"
)

func cmdFetch(args []string) error {
	var timeout time.Duration
	cfg, fs, err := parseFlags("fetch", args, func(fs *flag.FlagSet) {
		fs.DurationVar(&timeout, "timeout", 2*time.Minute, "overall time limit including retries")
	})
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: repofetch fetch [-config file] tree|file|tags [path]")
	}
	kind, path := fs.Arg(0), fs.Arg(1)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, err := openStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx = repofetch.WithRequestID(ctx, repofetch.NewRequestID())
	switch kind {
	case "tree":
		entries, err := s.explorer.FetchDirectory(ctx, path)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, entries)
	case "file":
		if path == "" {
			return fmt.Errorf("fetch file: path is required")
		}
		content, err := s.explorer.FetchFile(ctx, path)
		if err != nil {
			return err
		}
		_, err = io.WriteString(os.Stdout, content)
		return err
	case "tags":
		tags, err := s.explorer.FetchTags(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, tags)
	default:
		return fmt.Errorf("unknown fetch kind %q (must be tree, file or tags)", kind)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
