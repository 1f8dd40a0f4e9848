// Package syncer reconciles the local buffer with the remote store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/db"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/delta"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/metrics"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/remote"
)

// ErrConfiguration marks failures a restart will not fix.
var ErrConfiguration = errors.New("configuration error")

// Buffer is the part of the local buffer the orchestrator uses.
type Buffer interface {
	Query(ctx context.Context, f db.Filter) ([]model.Reading, error)
	OldestAfter(ctx context.Context, channel string, after time.Time) (time.Time, bool, error)
	DeleteBatch(ctx context.Context, keys []model.Key) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Remote is the part of the remote store client the orchestrator uses.
type Remote interface {
	ResolveDeviceID(ctx context.Context, shortName string) (string, error)
	ResolveChannelMapping(ctx context.Context, deviceID string, wanted []string) (remote.Mapping, error)
	FetchWatermarks(ctx context.Context, channelIDs []string) (map[string]remote.Watermark, error)
	Upload(ctx context.Context, records []remote.Record, batchSize int) (remote.UploadResult, error)
}

type Options struct {
	ShortName     string
	Channels      []string
	Deltas        []delta.Definition
	BatchSize     int
	Interval      time.Duration
	CatchupWindow time.Duration
	SweepStale    bool
	RunOnce       bool
}

// CycleStats summarises one sync cycle.
type CycleStats struct {
	ID       string
	Fresh    int
	Stale    int
	Derived  int
	Uploaded int
	Inserted int64
	Deleted  int64
}

// Orchestrator runs sync cycles. It is not safe for concurrent use.
type Orchestrator struct {
	buf  Buffer
	rem  Remote
	opts Options

	ready    bool
	deviceID string
	mapping  remote.Mapping
	sources  []string
	deltas   []delta.Definition

	// watermarks by local channel name; only ever move forward
	watermarks map[string]remote.Watermark
}

func New(buf Buffer, rem Remote, opts Options) *Orchestrator {
	return &Orchestrator{
		buf:        buf,
		rem:        rem,
		opts:       opts,
		watermarks: make(map[string]remote.Watermark),
	}
}

func fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

// Init resolves the device and the channel mapping. Unknown device or an
// empty mapping is an ErrConfiguration; other errors are worth retrying.
func (o *Orchestrator) Init(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	id, err := o.rem.ResolveDeviceID(ctx, o.opts.ShortName)
	if err != nil {
		if remote.IsFatal(err) {
			return fatal(err)
		}
		return err
	}

	wanted := append([]string(nil), o.opts.Channels...)
	for _, d := range o.opts.Deltas {
		wanted = append(wanted, d.Target)
	}
	mapping, err := o.rem.ResolveChannelMapping(ctx, id, wanted)
	if err != nil {
		if remote.IsFatal(err) {
			return fatal(err)
		}
		return err
	}
	for _, name := range mapping.Missing(wanted) {
		log.Printf("[sync] WARN channel %q has no remote channel on device %s, skipped", name, o.opts.ShortName)
	}

	var sources []string
	for _, ch := range o.opts.Channels {
		if _, ok := mapping[ch]; ok {
			sources = append(sources, ch)
		}
	}
	if len(sources) == 0 {
		return fatal(fmt.Errorf("%w: none of %d wanted channels resolved", remote.ErrNoChannels, len(o.opts.Channels)))
	}

	var deltas []delta.Definition
	for _, d := range o.opts.Deltas {
		_, src := mapping[d.Source]
		_, dst := mapping[d.Target]
		if !src || !dst {
			log.Printf("[sync] WARN delta %s -> %s disabled (source mapped: %t, target mapped: %t)", d.Source, d.Target, src, dst)
			continue
		}
		deltas = append(deltas, d)
	}

	o.deviceID = id
	o.mapping = mapping
	o.sources = sources
	o.deltas = deltas
	o.ready = true
	log.Printf("[sync] device %s resolved to %s: %d channels, %d deltas", o.opts.ShortName, id, len(sources), len(deltas))
	return nil
}

// Watermark returns the in-memory watermark of a local channel.
func (o *Orchestrator) Watermark(channel string) remote.Watermark {
	return o.watermarks[channel]
}

// ReadLocalSince returns the buffered readings of channel newer than since.
// With a catch-up window, only the window starting at the oldest such
// reading is returned.
func (o *Orchestrator) ReadLocalSince(ctx context.Context, channel string, since time.Time) ([]model.Reading, error) {
	f := db.Filter{Channels: []string{channel}, After: since}
	if o.opts.CatchupWindow > 0 {
		oldest, ok, err := o.buf.OldestAfter(ctx, channel, since)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		f.Before = oldest.Add(o.opts.CatchupWindow)
	}
	return o.buf.Query(ctx, f)
}

func (o *Orchestrator) refreshWatermarks(ctx context.Context) error {
	ids := make([]string, 0, len(o.sources))
	for _, ch := range o.sources {
		ids = append(ids, o.mapping[ch])
	}
	fetched, err := o.rem.FetchWatermarks(ctx, ids)
	if err != nil {
		return err
	}
	for _, ch := range o.sources {
		o.advance(ch, fetched[o.mapping[ch]])
	}
	return nil
}

func (o *Orchestrator) advance(channel string, w remote.Watermark) {
	if !w.Found {
		return
	}
	if cur, ok := o.watermarks[channel]; ok && cur.Found && !w.Time.After(cur.Time) {
		return
	}
	o.watermarks[channel] = w
}

// RunCycle performs one sync cycle. Buffer rows are deleted only once the
// chunk carrying them has committed remotely. In-flight database work is
// not cancelled with ctx.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleStats, error) {
	ctx = context.WithoutCancel(ctx)
	stats := CycleStats{ID: uuid.NewString()[:8]}

	if !o.ready {
		if err := o.Init(ctx); err != nil {
			return stats, err
		}
	}
	if err := o.refreshWatermarks(ctx); err != nil {
		return stats, fmt.Errorf("fetch watermarks: %w", err)
	}

	var fresh, stale []model.Reading
	for _, ch := range o.sources {
		wm := o.watermarks[ch]
		rs, err := o.ReadLocalSince(ctx, ch, wm.Time)
		if err != nil {
			return stats, fmt.Errorf("read buffer for %s: %w", ch, err)
		}
		fresh = append(fresh, rs...)

		if o.opts.SweepStale && wm.Found {
			old, err := o.buf.Query(ctx, db.Filter{Channels: []string{ch}, After: wm.Time, AtOrBefore: true})
			if err != nil {
				return stats, fmt.Errorf("read stale rows for %s: %w", ch, err)
			}
			stale = append(stale, old...)
		}
	}
	stats.Fresh = len(fresh)
	stats.Stale = len(stale)

	seeds := make(map[string]delta.Seed)
	for _, d := range o.deltas {
		if wm := o.watermarks[d.Source]; wm.Found {
			seeds[d.Source] = delta.Seed{Time: wm.Time, Value: wm.Value}
		}
	}
	derived := delta.DeriveSeeded(fresh, o.deltas, seeds)
	stats.Derived = len(derived)

	records := o.buildRecords(derived, fresh, stale)
	if len(records) == 0 {
		o.reportBacklog(ctx)
		return stats, nil
	}

	res, upErr := o.rem.Upload(ctx, records, o.opts.BatchSize)
	stats.Uploaded = res.Confirmed
	stats.Inserted = res.Inserted
	metrics.RecordsUploaded.Add(float64(res.Confirmed))
	metrics.RowsInserted.Add(float64(res.Inserted))

	confirmed := records[:res.Confirmed]
	var keys []model.Key
	for _, r := range confirmed {
		if r.Local != nil {
			keys = append(keys, *r.Local)
		}
	}
	if len(keys) > 0 {
		n, err := o.buf.DeleteBatch(ctx, keys)
		if err != nil {
			// rows stay in the buffer and are swept once the watermark passes them
			log.Printf("[sync] cycle %s: delete %d confirmed rows: %v", stats.ID, len(keys), err)
		} else {
			stats.Deleted = n
			metrics.RowsDeleted.Add(float64(n))
		}
	}

	o.advanceFromConfirmed(confirmed)
	o.reportBacklog(ctx)

	if upErr != nil {
		return stats, fmt.Errorf("upload: %w", upErr)
	}
	return stats, nil
}

// buildRecords orders derived records first, then raw rows by channel and time.
func (o *Orchestrator) buildRecords(derived []delta.Sample, fresh, stale []model.Reading) []remote.Record {
	out := make([]remote.Record, 0, len(derived)+len(fresh)+len(stale))
	for _, s := range derived {
		out = append(out, remote.Record{Time: s.Time, ChannelID: o.mapping[s.Channel], Value: s.Value})
	}

	raw := make([]model.Reading, 0, len(fresh)+len(stale))
	raw = append(raw, stale...)
	raw = append(raw, fresh...)
	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].Channel != raw[j].Channel {
			return raw[i].Channel < raw[j].Channel
		}
		return raw[i].Timestamp.Before(raw[j].Timestamp)
	})
	for _, r := range raw {
		key := r.Key()
		out = append(out, remote.Record{
			Time:      r.Timestamp,
			ChannelID: o.mapping[r.Channel],
			Value:     r.Value,
			Local:     &key,
		})
	}
	return out
}

func (o *Orchestrator) advanceFromConfirmed(confirmed []remote.Record) {
	byID := make(map[string]string, len(o.sources))
	for _, ch := range o.sources {
		byID[o.mapping[ch]] = ch
	}
	for _, r := range confirmed {
		if r.Local == nil {
			continue
		}
		if ch, ok := byID[r.ChannelID]; ok {
			o.advance(ch, remote.Watermark{Time: r.Time, Value: r.Value, Found: true})
		}
	}
}

func (o *Orchestrator) reportBacklog(ctx context.Context) {
	if n, err := o.buf.Count(ctx); err == nil {
		metrics.BufferBacklog.Set(float64(n))
	}
}

// Run performs sync cycles every Interval until ctx is done. It returns
// early only on configuration errors, or after one cycle with RunOnce.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID := uuid.NewString()[:8]
	log.Printf("[sync] run %s started (device %s, interval %s)", runID, o.opts.ShortName, o.opts.Interval)

	for {
		stats, err := o.RunCycle(ctx)
		switch {
		case err == nil:
			metrics.SyncCycles.WithLabelValues("ok").Inc()
			if stats.Uploaded > 0 || stats.Deleted > 0 {
				log.Printf("[sync] cycle %s: fresh=%d stale=%d derived=%d uploaded=%d inserted=%d deleted=%d",
					stats.ID, stats.Fresh, stats.Stale, stats.Derived, stats.Uploaded, stats.Inserted, stats.Deleted)
			}
		case errors.Is(err, ErrConfiguration) || remote.IsFatal(err):
			metrics.SyncCycles.WithLabelValues("fatal").Inc()
			log.Printf("[sync] run %s: fatal: %v", runID, err)
			if !errors.Is(err, ErrConfiguration) {
				err = fatal(err)
			}
			return err
		default:
			metrics.SyncCycles.WithLabelValues("failed").Inc()
			log.Printf("[sync] cycle %s failed: %v", stats.ID, err)
		}

		if o.opts.RunOnce {
			return err
		}
		select {
		case <-ctx.Done():
			log.Printf("[sync] run %s stopped", runID)
			return nil
		case <-time.After(o.opts.Interval):
		}
	}
}
