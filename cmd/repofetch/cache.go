package main

import (
	"context"
	"fmt"
	"os"
)

func cmdCache(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: repofetch cache stats|clear [-config file]")
	}
	action, args := args[0], args[1:]

	cfg, _, err := parseFlags("cache "+action, args, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStack(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	switch action {
	case "stats":
		stats := s.store.Stats()
		return printJSON(os.Stdout, map[string]any{
			"backend":     cfg.Cache.Path,
			"entries":     stats.Entries,
			"total_bytes": stats.TotalBytes,
			"max_bytes":   cfg.Cache.MaxBytes,
			"ttl":         cfg.Cache.TTL.String(),
		})
	case "clear":
		s.explorer.ClearCache(ctx)
		fmt.Fprintf(os.Stdout, "cleared %s\n", cfg.Cache.Path)
		return nil
	default:
		return fmt.Errorf("unknown cache action %q (must be stats or clear)", action)
	}
}
