package tasks

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/db"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/plcsim"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/syncer"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunRejectsBadConfig(t *testing.T) {
	err := Run(context.Background(), Options{ConfigPath: "does/not/exist.yaml"})
	assert.ErrorIs(t, err, syncer.ErrConfiguration)

	err = Run(context.Background(), Options{ConfigPath: "x", Mode: "dance"})
	assert.ErrorIs(t, err, syncer.ErrConfiguration)

	dir := t.TempDir()
	p := write(t, dir, "config.yaml", "device:\n  short_name: OT001\n")
	err = Run(context.Background(), Options{ConfigPath: p, Mode: ModeSync})
	assert.ErrorIs(t, err, syncer.ErrConfiguration)
}

func TestAcquireOnceIntoBuffer(t *testing.T) {
	dir := t.TempDir()
	mapPath := write(t, dir, "registers.csv", "Address,channel_id,Type,Scale,Description,Dimension\n"+
		"10,a.VOL,UDINT,0.1,Raw water volume,m3\n"+
		"12,a.TEMP,REAL,1,Water temperature,C\n")

	m, err := registers.LoadMap(mapPath, "")
	require.NoError(t, err)
	sim := plcsim.New()
	require.NoError(t, sim.Listen("127.0.0.1:0"))
	defer sim.Close()
	require.NoError(t, sim.LoadValues(m, registers.DefaultOrder, map[string]float64{"a.VOL": 42, "a.TEMP": 11.5}))

	host, port, err := net.SplitHostPort(sim.Addr())
	require.NoError(t, err)
	dbPath := filepath.Join(dir, "data", "buffer.sqlite")
	cfgPath := write(t, dir, "config.yaml", fmt.Sprintf(`
modbus:
  protocol: modbus-tcp
  connection:
    host: %s
    port: %s
  register_map: %s
  timeout: 2s
storage:
  db_path: %s
retry:
  initial_interval: 10ms
`, host, port, mapPath, dbPath))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, Run(ctx, Options{ConfigPath: cfgPath, Mode: ModeAcquire, Once: true}))

	buf, err := db.Open(dbPath, time.Second)
	require.NoError(t, err)
	defer buf.Close()
	rows, err := buf.Query(ctx, db.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	got := map[string]float64{}
	for _, r := range rows {
		got[r.Channel] = r.Value
	}
	assert.InDelta(t, 42.0, got["a.VOL"], 1e-9)
	assert.Equal(t, 11.5, got["a.TEMP"])
}

func TestSyncOptions(t *testing.T) {
	off := false
	cfg := config.Config{}
	cfg.Device.ShortName = "OT001"
	cfg.Sync.Channels = []string{"a.VOL"}
	cfg.Sync.Deltas = []config.DeltaConfig{{Source: "a.VOL", Target: "a.dVOL"}}
	cfg.Sync.SweepStale = &off
	cfg.Remote.BatchSize = 250

	o := syncOptions(cfg)
	assert.Equal(t, "OT001", o.ShortName)
	assert.Equal(t, 250, o.BatchSize)
	assert.False(t, o.SweepStale)
	require.Len(t, o.Deltas, 1)
	assert.Equal(t, "a.dVOL", o.Deltas[0].Target)
}
