// Package era runs the purifier data pipeline from another program.
package era

import (
	"context"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

const (
	ModeAcquire = tasks.ModeAcquire
	ModeSync    = tasks.ModeSync
	ModeAll     = tasks.ModeAll
)

// Run starts the selected activities with the given options using the internal tasks implementation.
func Run(ctx context.Context, opts Options) error {
	return tasks.Run(ctx, opts)
}
