package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/localstore"
	"github.com/stemsi/exstem-session/internal/logger"
)

func main() {
	var maxAge time.Duration
	flag.DurationVar(&maxAge, "max-age", 0, "Staleness threshold for 'stale' (defaults to STALE_MAX_AGE)")
	flag.Parse()

	// Load config
	cfg := config.Load()
	if maxAge == 0 {
		maxAge = cfg.StaleMaxAge
	}

	zlog := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	store, err := localstore.Open(ctx, cfg, zlog)
	if err != nil {
		log.Fatalf("Store failed to open: %v", err)
	}
	defer store.Close()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "stale":
		removed, err := store.ClearStaleData(ctx, maxAge)
		if err != nil {
			log.Fatalf("Stale sweep failed: %v", err)
		}
		fmt.Printf("Removed %d stale record(s)\n", removed)
	case "keep":
		if len(args) < 2 {
			log.Fatal("keep requires an attempt id argument")
		}
		removed, err := store.ValidateAndCleanup(ctx, args[1])
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		fmt.Printf("Removed %d record(s), kept %s\n", removed, args[1])
	case "list":
		ids, err := store.ListAttemptIDs(ctx)
		if err != nil {
			log.Fatalf("List failed: %v", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		fmt.Printf("%d cached attempt(s)\n", len(ids))
	case "all":
		if err := store.ClearAllLocal(ctx); err != nil {
			log.Fatalf("Wipe failed: %v", err)
		}
		fmt.Println("Cleared all cached attempt data")
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: cachegc [flags] <command>")
	fmt.Println("Commands: stale, keep <attempt-id>, list, all")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
