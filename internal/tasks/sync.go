package tasks

import (
	"context"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/db"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/delta"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/remote"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/syncer"
)

func syncOptions(cfg config.Config) syncer.Options {
	defs := make([]delta.Definition, 0, len(cfg.Sync.Deltas))
	for _, d := range cfg.Sync.Deltas {
		defs = append(defs, delta.Definition{Source: d.Source, Target: d.Target})
	}
	return syncer.Options{
		ShortName:     cfg.Device.ShortName,
		Channels:      cfg.Sync.Channels,
		Deltas:        defs,
		BatchSize:     cfg.Remote.BatchSize,
		Interval:      cfg.Sync.Interval,
		CatchupWindow: cfg.Sync.CatchupWindow,
		SweepStale:    cfg.Sync.SweepStale != nil && *cfg.Sync.SweepStale,
		RunOnce:       cfg.Sync.RunOnce,
	}
}

// runSync connects to the remote store and runs the orchestrator on buf.
func runSync(ctx context.Context, cfg config.Config, buf *db.DB, policy retry.Policy) error {
	rem, err := remote.Open(ctx, cfg.Remote.URL, cfg.Remote.ConnectTimeout, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if remote.IsFatal(err) {
			return configError(err)
		}
		return err
	}
	defer rem.Close()

	return syncer.New(buf, rem, syncOptions(cfg)).Run(ctx)
}
