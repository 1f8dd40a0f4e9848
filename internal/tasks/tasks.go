// Package tasks wires configuration, stores and the two periodic
// activities (acquisition and sync) into one run.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/db"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/metrics"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/syncer"
)

const (
	ModeAcquire = "acquire"
	ModeSync    = "sync"
	ModeAll     = "all"
)

// Options mirrors the CLI flags used in cmd/era/main.go.
type Options struct {
	ConfigPath string
	Mode       string
	// Once runs a single cycle of every selected activity, overriding the config.
	Once bool
}

func configError(err error) error {
	return fmt.Errorf("%w: %w", syncer.ErrConfiguration, err)
}

// Run loads the configuration and runs the selected activities until ctx is
// done or one of them fails for good. Configuration problems are reported
// as syncer.ErrConfiguration.
func Run(ctx context.Context, opts Options) error {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = ModeAll
	}
	acquire := mode == ModeAcquire || mode == ModeAll
	sync := mode == ModeSync || mode == ModeAll
	if !acquire && !sync {
		return configError(fmt.Errorf("unknown mode %q", opts.Mode))
	}

	cfg, err := config.LoadYAML(opts.ConfigPath)
	if err != nil {
		return configError(err)
	}
	if opts.Once {
		cfg.Modbus.RunOnce = true
		cfg.Sync.RunOnce = true
	}
	if acquire {
		if err := config.ValidateAcquisition(&cfg); err != nil {
			return configError(err)
		}
	}
	if sync {
		if err := config.ValidateSync(&cfg); err != nil {
			return configError(err)
		}
	}

	runID := uuid.NewString()
	log.Printf("run %s: mode=%s buffer=%s", runID, mode, cfg.Storage.DBPath)

	buf, err := db.Open(cfg.Storage.DBPath, cfg.Storage.BusyTimeout)
	if err != nil {
		return fmt.Errorf("open buffer %s: %w", cfg.Storage.DBPath, err)
	}
	defer buf.Close()

	metrics.Register()
	if cfg.Metrics.Listen != "" {
		mctx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := metrics.Serve(mctx, cfg.Metrics.Listen); err != nil {
				log.Printf("[metrics] %v", err)
			}
		}()
	}

	policy := retryPolicy(cfg.Retry)
	g, gctx := errgroup.WithContext(ctx)
	if acquire {
		col, err := newCollector(cfg, buf, policy)
		if err != nil {
			return configError(err)
		}
		g.Go(func() error { return col.Run(gctx) })
	}
	if sync {
		g.Go(func() error { return runSync(gctx, cfg, buf, policy) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, syncer.ErrConfiguration) {
		log.Printf("run %s: %v", runID, err)
	}
	return err
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	return retry.Policy{
		InitialInterval: rc.InitialInterval,
		MaxInterval:     rc.MaxInterval,
		Multiplier:      rc.Multiplier,
		MaxAttempts:     rc.MaxAttempts,
	}
}
