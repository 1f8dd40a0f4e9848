package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fast = Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}

func TestDoBoundedAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fast.Bounded(3).Do(context.Background(), func() error {
		calls++
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var waits int
	err := fast.Do(context.Background(), func() error {
		calls++
		if calls < 4 {
			return errors.New("not yet")
		}
		return nil
	}, func(error, time.Duration) { waits++ })
	assert.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, waits)
}

func TestDoPermanentStops(t *testing.T) {
	calls := 0
	denied := errors.New("password authentication failed")
	err := fast.Do(context.Background(), func() error {
		calls++
		return Permanent(denied)
	}, nil)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fast.Do(ctx, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("down")
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
