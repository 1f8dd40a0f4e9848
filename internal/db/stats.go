package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
)

// ChannelStat summarises the buffered backlog of one channel.
type ChannelStat struct {
	Channel string `json:"channel_id"`
	Rows    int64  `json:"rows" gorm:"column:row_count"`
	Oldest  string `json:"oldest"`
	Newest  string `json:"newest"`
}

// OldestAge is how long the oldest buffered row of the channel has waited
// at now. ok is false when Oldest does not parse.
func (c ChannelStat) OldestAge(now time.Time) (age time.Duration, ok bool) {
	ts, err := model.ParseTS(c.Oldest)
	if err != nil {
		return 0, false
	}
	if age = now.Sub(ts); age < 0 {
		age = 0
	}
	return age, true
}

// Stats is the buffer backlog by channel.
type Stats struct {
	Rows     int64         `json:"rows"`
	Channels []ChannelStat `json:"channels"`
}

// ChannelStats returns row counts and the timestamp range per channel.
func (d *DB) ChannelStats(ctx context.Context) ([]ChannelStat, error) {
	var out []ChannelStat
	err := d.ORM.WithContext(ctx).
		Model(&readingRow{}).
		Select("channel_id AS channel, COUNT(*) AS row_count, MIN(ts) AS oldest, MAX(ts) AS newest").
		Group("channel_id").
		Order("channel_id").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StatsJSON returns the backlog summary as JSON.
func (d *DB) StatsJSON(ctx context.Context) ([]byte, error) {
	chans, err := d.ChannelStats(ctx)
	if err != nil {
		return nil, err
	}
	st := Stats{Channels: chans}
	for _, c := range chans {
		st.Rows += c.Rows
	}
	return json.Marshal(st)
}
