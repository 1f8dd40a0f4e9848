// Package remote talks to the time-series store: device and channel lookup,
// per-channel watermarks and idempotent measurement upload.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoChannels     = errors.New("no channels mapped")
)

// defaultUploadAttempts bounds chunk retries when the policy itself is unbounded.
const defaultUploadAttempts = 3

// maxRowsPerInsert keeps one INSERT under the 65535 bind parameter limit.
const maxRowsPerInsert = 65535 / 3

// Record is one measurement to upload. Local is the buffer row it came
// from, nil for derived records.
type Record struct {
	Time      time.Time
	ChannelID string
	Value     float64
	Local     *model.Key
}

// Watermark is the newest sample the store holds for a channel.
type Watermark struct {
	Time  time.Time
	Value float64
	Found bool
}

// UploadResult reports how far an upload got. Confirmed counts records,
// from the start of the slice, whose chunk committed.
type UploadResult struct {
	Confirmed int
	Inserted  int64
}

// Client is the remote store client.
type Client struct {
	db     *sql.DB
	policy retry.Policy
}

// New wraps an open handle.
func New(db *sql.DB, policy retry.Policy) *Client {
	return &Client{db: db, policy: policy}
}

// Open connects to the store at dsn, retrying until it answers or ctx is done.
// Authentication and schema errors are not retried.
func Open(ctx context.Context, dsn string, connectTimeout time.Duration, policy retry.Policy) (*Client, error) {
	db, err := sql.Open("postgres", withConnectTimeout(dsn, connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = policy.Bounded(0).Do(ctx, func() error {
		if err := db.PingContext(context.WithoutCancel(ctx)); err != nil {
			if IsFatal(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	}, func(err error, wait time.Duration) {
		log.Printf("[remote] connect failed: %v (retry in %s)", err, wait)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect remote: %w", err)
	}
	return New(db, policy), nil
}

// withConnectTimeout adds connect_timeout to dsn unless it already sets one.
// Both URL and key=value forms are accepted.
func withConnectTimeout(dsn string, d time.Duration) string {
	secs := int(d / time.Second)
	if secs <= 0 || strings.Contains(dsn, "connect_timeout") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("connect_timeout", fmt.Sprint(secs))
		u.RawQuery = q.Encode()
		return u.String()
	}
	return fmt.Sprintf("%s connect_timeout=%d", dsn, secs)
}

func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// IsFatal reports errors that retrying cannot fix: unknown device, nothing
// mapped, rejected credentials or a schema that does not match.
func IsFatal(err error) bool {
	if errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrNoChannels) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "28", "3D", "42":
			return true
		}
	}
	return false
}

// ResolveDeviceID looks up the hardware row for shortName.
func (c *Client) ResolveDeviceID(ctx context.Context, shortName string) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx, `SELECT id FROM hardware WHERE short_name = $1`, shortName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrDeviceNotFound, shortName)
	}
	if err != nil {
		return "", fmt.Errorf("resolve device %q: %w", shortName, err)
	}
	return id, nil
}
