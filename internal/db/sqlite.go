// Package db is the local reading buffer: an SQLite file shared by the
// acquisition writer and the sync reader/deleter.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
)

const insertBatch = 500

// DB wraps the sqlite connection.
type DB struct {
	ORM *gorm.DB
}

// Open opens (creating if needed) the buffer at path. busyTimeout is how
// long a statement waits on a lock held by the other process.
func Open(path string, busyTimeout time.Duration) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create buffer dir: %w", err)
		}
	}
	g, err := openORM(path, busyTimeout)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// Append stores readings. The acquisition loop calls it once per cycle.
func (d *DB) Append(ctx context.Context, readings ...model.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	rows := make([]readingRow, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, readingRow{
			TS:          model.FormatTS(r.Timestamp),
			ChannelID:   r.Channel,
			Value:       r.Value,
			Description: r.Description,
			Dimension:   r.Unit,
		})
	}
	return d.ORM.WithContext(ctx).CreateInBatches(rows, insertBatch).Error
}

// Filter selects buffered readings. Zero After/Before leave that side open;
// After is exclusive, Before inclusive.
type Filter struct {
	Channels []string
	After    time.Time
	Before   time.Time
	// AtOrBefore selects ts <= After instead of ts > After.
	AtOrBefore bool
	Limit      int
}

func (d *DB) scope(ctx context.Context, f Filter) *gorm.DB {
	q := d.ORM.WithContext(ctx).Model(&readingRow{}).Where("value IS NOT NULL")
	if len(f.Channels) > 0 {
		q = q.Where("channel_id IN ?", f.Channels)
	}
	if !f.After.IsZero() || f.AtOrBefore {
		if f.AtOrBefore {
			q = q.Where("ts <= ?", model.FormatTS(f.After))
		} else {
			q = q.Where("ts > ?", model.FormatTS(f.After))
		}
	}
	if !f.Before.IsZero() {
		q = q.Where("ts <= ?", model.FormatTS(f.Before))
	}
	return q
}

// Query returns matching readings ordered by channel then timestamp.
// Rows whose timestamp cannot be parsed are skipped.
func (d *DB) Query(ctx context.Context, f Filter) ([]model.Reading, error) {
	var rows []readingRow
	q := d.scope(ctx, f).
		Select("ts, channel_id, value, COALESCE(description, '') AS description, COALESCE(dimension, '') AS dimension").
		Order("channel_id, ts")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Reading, 0, len(rows))
	for _, r := range rows {
		ts, err := model.ParseTS(r.TS)
		if err != nil {
			continue
		}
		out = append(out, model.Reading{
			Timestamp:   ts,
			Channel:     r.ChannelID,
			Value:       r.Value,
			Description: r.Description,
			Unit:        r.Dimension,
			StoredTS:    r.TS,
		})
	}
	return out, nil
}

// OldestAfter returns the earliest timestamp of channel newer than after.
// ok is false when there is none.
func (d *DB) OldestAfter(ctx context.Context, channel string, after time.Time) (ts time.Time, ok bool, err error) {
	var s sql.NullString
	row := d.scope(ctx, Filter{Channels: []string{channel}, After: after}).Select("MIN(ts)").Row()
	if err := row.Scan(&s); err != nil {
		return time.Time{}, false, err
	}
	if !s.Valid || s.String == "" {
		return time.Time{}, false, nil
	}
	ts, err = model.ParseTS(s.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// DeleteMatching removes the rows with exactly this timestamp text and channel.
// Duplicated rows for the same key all go.
func (d *DB) DeleteMatching(ctx context.Context, ts, channel string) (int64, error) {
	return deleteMatching(d.ORM.WithContext(ctx), ts, channel)
}

// DeleteBatch applies DeleteMatching to every key in one transaction.
func (d *DB) DeleteBatch(ctx context.Context, keys []model.Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, k := range keys {
			rows, err := deleteMatching(tx, k.TS, k.Channel)
			if err != nil {
				return err
			}
			n += rows
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func deleteMatching(g *gorm.DB, ts, channel string) (int64, error) {
	res := g.Where("ts = ? AND channel_id = ?", ts, channel).Delete(&readingRow{})
	return res.RowsAffected, res.Error
}

// Count returns how many rows the buffer holds.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := d.ORM.WithContext(ctx).Model(&readingRow{}).Count(&n).Error
	return n, err
}
