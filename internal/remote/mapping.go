package remote

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// Mapping is local channel name to remote channel id.
type Mapping map[string]string

// Missing returns the wanted names that did not resolve, in wanted order.
func (m Mapping) Missing(wanted []string) []string {
	var out []string
	for _, w := range wanted {
		if _, ok := m[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}

type channelRow struct {
	id   string
	name string
	tags []string
}

func (r channelRow) matches(name string) bool {
	if r.name == name {
		return true
	}
	for _, t := range r.tags {
		if t == name {
			return true
		}
	}
	return false
}

// ResolveChannelMapping maps each wanted local name to the device channel
// whose name, or one of whose tags, equals it. The lowest id wins when
// several match. Unmatched names are left out; see Mapping.Missing.
func (c *Client) ResolveChannelMapping(ctx context.Context, deviceID string, wanted []string) (Mapping, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, tags FROM channels WHERE device_id = $1 ORDER BY id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []channelRow
	for rows.Next() {
		var (
			r    channelRow
			tags pq.StringArray
		)
		if err := rows.Scan(&r.id, &r.name, &tags); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		r.tags = tags
		channels = append(channels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	m := make(Mapping, len(wanted))
	for _, w := range wanted {
		for _, ch := range channels {
			if ch.matches(w) {
				m[w] = ch.id
				break
			}
		}
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w for device %s", ErrNoChannels, deviceID)
	}
	return m, nil
}
