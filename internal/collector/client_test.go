package collector

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/plcsim"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
)

func TestRunOnceAgainstSimulator(t *testing.T) {
	bit := 2
	m := registers.Map{Entries: []registers.Entry{
		{Address: 10, Channel: "a.VOL", Type: registers.TypeUDInt, Scale: 0.1, Unit: "m3"},
		{Address: 20, Channel: "a.TEMP", Type: registers.TypeFloat, Scale: 1},
		{Address: 30, Channel: "a.PUMP", Type: registers.TypeBool, Bit: &bit},
		{Address: 240, Channel: "b.RUNT", Type: registers.TypeLReal, Scale: 1},
	}}

	sim := plcsim.New()
	require.NoError(t, sim.Listen("127.0.0.1:0"))
	defer sim.Close()
	require.NoError(t, sim.LoadValues(m, registers.DefaultOrder, map[string]float64{
		"a.VOL": 10, "a.TEMP": 18.25, "a.PUMP": 1, "b.RUNT": 1234.5,
	}))
	sim.Fault(200, 100)

	host, portStr, err := net.SplitHostPort(sim.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sink := &memSink{}
	c := &Collector{
		Modbus: config.ModbusConfig{
			Protocol:   "modbus-tcp",
			Connection: config.Connection{Host: host, Port: port},
			SlaveID:    1,
			Timeout:    2 * time.Second,
			ChunkSize:  100,
			RunOnce:    true,
		},
		Map:    m,
		Order:  registers.DefaultOrder,
		Sink:   sink,
		Policy: retry.Policy{InitialInterval: 10 * time.Millisecond, MaxAttempts: 3},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	got := map[string]float64{}
	for _, r := range sink.got {
		got[r.Channel] = r.Value
	}
	assert.InDelta(t, 10.0, got["a.VOL"], 1e-9)
	assert.Equal(t, 18.25, got["a.TEMP"])
	assert.Equal(t, 1.0, got["a.PUMP"])
	// register 240 sits in the faulted range
	assert.NotContains(t, got, "b.RUNT")
}

func TestNewHandlerRejectsUnknownProtocol(t *testing.T) {
	c := &Collector{Modbus: config.ModbusConfig{Protocol: "bacnet"}}
	_, _, err := c.newHandler()
	assert.Error(t, err)

	c.Modbus.Protocol = "modbus-rtu"
	_, _, err = c.newHandler()
	assert.ErrorContains(t, err, "serial_port")
}
