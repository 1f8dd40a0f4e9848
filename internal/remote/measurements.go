package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
)

// FetchWatermarks returns the newest stored sample of every channel id.
// Channels with no measurements get a zero Watermark.
func (c *Client) FetchWatermarks(ctx context.Context, channelIDs []string) (map[string]Watermark, error) {
	out := make(map[string]Watermark, len(channelIDs))
	for _, id := range channelIDs {
		var w Watermark
		err := c.db.QueryRowContext(ctx,
			`SELECT time, value FROM measurements WHERE channel_id = $1 ORDER BY time DESC LIMIT 1`, id,
		).Scan(&w.Time, &w.Value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			out[id] = Watermark{}
		case err != nil:
			return nil, fmt.Errorf("watermark for channel %s: %w", id, err)
		default:
			w.Time = w.Time.UTC()
			w.Found = true
			out[id] = w
		}
	}
	return out, nil
}

// Upload inserts records in chunks of batchSize, each chunk in its own
// transaction with conflict-skip. A failed chunk is retried per the client's
// policy; if it still fails, Upload stops and reports what committed so far.
func (c *Client) Upload(ctx context.Context, records []Record, batchSize int) (UploadResult, error) {
	var res UploadResult
	if batchSize <= 0 || batchSize > maxRowsPerInsert {
		batchSize = maxRowsPerInsert
	}
	policy := c.policy
	if policy.MaxAttempts <= 0 {
		policy = policy.Bounded(defaultUploadAttempts)
	}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		var inserted int64
		err := policy.Do(ctx, func() error {
			n, err := c.insertChunk(context.WithoutCancel(ctx), chunk)
			if err != nil {
				if IsFatal(err) {
					return retry.Permanent(err)
				}
				return err
			}
			inserted = n
			return nil
		}, func(err error, wait time.Duration) {
			log.Printf("[remote] upload chunk %d-%d failed: %v (retry in %s)", start, end, err, wait)
		})
		if err != nil {
			return res, fmt.Errorf("upload chunk %d-%d: %w", start, end, err)
		}
		res.Confirmed = end
		res.Inserted += inserted
	}
	return res, nil
}

func (c *Client) insertChunk(ctx context.Context, chunk []Record) (n int64, err error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	query, args := insertStatement(chunk)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err = result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func insertStatement(chunk []Record) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO measurements (time, channel_id, value) VALUES ")
	args := make([]any, 0, len(chunk)*3)
	for i, r := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, r.Time.UTC(), r.ChannelID, r.Value)
	}
	b.WriteString(" ON CONFLICT DO NOTHING")
	return b.String(), args
}
