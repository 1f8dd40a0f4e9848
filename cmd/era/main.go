package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/syncer"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/config.yaml", "path to YAML config")
	flag.StringVar(&opts.Mode, "mode", tasks.ModeAll, "activities to run: acquire|sync|all")
	flag.BoolVar(&opts.Once, "once", false, "run a single cycle of each activity and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("received signal: %v, finishing current cycle...", s)
		cancel()
	}()

	if err := tasks.Run(ctx, opts); err != nil {
		if errors.Is(err, syncer.ErrConfiguration) {
			log.Printf("fatal: %v", err)
			os.Exit(2)
		}
		log.Printf("exited with error: %v", err)
		os.Exit(1)
	}
}
