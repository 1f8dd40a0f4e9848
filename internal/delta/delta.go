// Package delta derives per-interval increments from cumulative counters.
package delta

import (
	"log"
	"sort"
	"time"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
)

// Definition maps a cumulative source channel to the channel its increments are published as.
type Definition struct {
	Source string
	Target string
}

// Sample is one point of a derived series. It has no local buffer row behind it.
type Sample struct {
	Time    time.Time
	Channel string
	Value   float64
}

// Seed is the last known source value before the readings being derived,
// usually the newest sample the remote store already holds.
type Seed struct {
	Time  time.Time
	Value float64
}

// Derive emits, for every definition, the difference between consecutive
// source samples, timestamped at the later sample. Negative differences
// (counter resets, rollovers) are logged and dropped. Derive is pure:
// same input, same output, and the input slice is not modified.
func Derive(readings []model.Reading, defs []Definition) []Sample {
	return DeriveSeeded(readings, defs, nil)
}

// DeriveSeeded is Derive with an optional per-source seed, so the first
// reading of a cycle still yields an increment against the previous cycle.
func DeriveSeeded(readings []model.Reading, defs []Definition, seeds map[string]Seed) []Sample {
	if len(defs) == 0 || len(readings) == 0 {
		return nil
	}
	bySource := make(map[string][]model.Reading)
	for _, d := range defs {
		bySource[d.Source] = nil
	}
	for _, r := range readings {
		if _, ok := bySource[r.Channel]; ok {
			bySource[r.Channel] = append(bySource[r.Channel], r)
		}
	}

	var out []Sample
	for _, d := range defs {
		series := bySource[d.Source]
		if len(series) == 0 {
			continue
		}
		series = append([]model.Reading(nil), series...)
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})

		prev, havePrev := seeds[d.Source]
		for _, r := range series {
			if havePrev && r.Timestamp.After(prev.Time) {
				diff := r.Value - prev.Value
				if diff >= 0 {
					out = append(out, Sample{Time: r.Timestamp, Channel: d.Target, Value: diff})
				} else {
					log.Printf("[delta] %s: negative step %.3f at %s dropped (%v -> %v)",
						d.Source, diff, model.FormatTS(r.Timestamp), prev.Value, r.Value)
				}
			}
			if !havePrev || r.Timestamp.After(prev.Time) {
				prev = Seed{Time: r.Timestamp, Value: r.Value}
				havePrev = true
			}
		}
	}
	return out
}
