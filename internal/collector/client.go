// Package collector polls the device's holding registers, decodes them
// through the register map and appends the readings to the local buffer.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/metrics"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
)

// Sink receives each cycle's readings. *db.DB satisfies it.
type Sink interface {
	Append(ctx context.Context, readings ...model.Reading) error
}

// Collector manages polling a single device.
type Collector struct {
	Modbus config.ModbusConfig
	Map    registers.Map
	Order  registers.Order
	Sink   Sink
	Policy retry.Policy

	// Now stamps each cycle; time.Now when nil.
	Now func() time.Time

	// generic handler for TCP or RTU
	handler  handlerWithConn
	connAddr string
}

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// newHandler creates and configures a handler for TCP or RTU based on config.
// It returns the handler and a human-readable address for logs.
func (c *Collector) newHandler() (handlerWithConn, string, error) {
	m := c.Modbus
	proto := strings.ToLower(strings.TrimSpace(m.Protocol))
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch proto {
	case "modbus-tcp", "tcp":
		address := fmt.Sprintf("%s:%d", m.Connection.Host, m.Connection.Port)
		h := mb.NewTCPClientHandler(address)
		h.Timeout = timeout
		h.SlaveId = m.SlaveID
		return h, address, nil
	case "modbus-rtu", "rtu":
		port := m.Connection.SerialPort
		if strings.TrimSpace(port) == "" {
			return nil, "", fmt.Errorf("serial_port is required for RTU")
		}
		h := mb.NewRTUClientHandler(port)
		if m.Connection.BaudRate > 0 {
			h.BaudRate = m.Connection.BaudRate
		}
		if m.Connection.DataBits > 0 {
			h.DataBits = m.Connection.DataBits
		}
		if m.Connection.StopBits > 0 {
			h.StopBits = m.Connection.StopBits
		}
		if p := strings.ToUpper(strings.TrimSpace(m.Connection.Parity)); p != "" {
			h.Parity = p
		}
		h.Timeout = timeout
		h.SlaveId = m.SlaveID
		return h, port, nil
	default:
		return nil, "", fmt.Errorf("protocol %s not implemented", m.Protocol)
	}
}

// Run connects to the device and polls it every PollInterval until ctx is
// done, or once when RunOnce is set. A cycle in progress is finished before
// Run returns.
func (c *Collector) Run(ctx context.Context) error {
	if len(c.Map.Entries) == 0 {
		return errors.New("register map is empty")
	}
	h, addr, err := c.newHandler()
	if err != nil {
		return err
	}
	c.handler = h
	c.connAddr = addr

	err = c.Policy.Bounded(0).Do(ctx, h.Connect, func(err error, wait time.Duration) {
		log.Printf("[collector] connect %s: %v (retry in %s)", addr, err, wait)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer h.Close()
	log.Printf("[collector] connected to %s (slave %d, %d entries)", addr, c.Modbus.SlaveID, len(c.Map.Entries))

	client := mb.NewClient(h)

	interval := c.Modbus.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Immediate first run
	c.poll(ctx, client)
	if c.Modbus.RunOnce {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.poll(ctx, client)
		}
	}
}

func (c *Collector) poll(ctx context.Context, client mb.Client) {
	n, err := c.PollOnce(ctx, client)
	if err != nil {
		log.Printf("[collector] %s poll: %v", c.connAddr, err)
		if errors.Is(err, errNoData) {
			if recErr := c.reconnect(); recErr != nil {
				log.Printf("[collector] %s reconnect: %v", c.connAddr, recErr)
			}
		}
		return
	}
	log.Printf("[collector] %s: stored %d readings", c.connAddr, n)
}

var errNoData = errors.New("no registers could be read")

// PollOnce reads the map's register span, decodes it and appends the
// readings. Chunk and decode failures are logged and skipped. It returns the
// number of readings appended.
func (c *Collector) PollOnce(ctx context.Context, r RegisterReader) (int, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ts := now().UTC().Truncate(time.Second)

	base, count := c.Map.Span()
	count += c.Modbus.Padding
	blocks, errs := ReadBlocks(r, base, count, c.Modbus.ChunkSize)
	for _, err := range errs {
		metrics.TransportErrors.Inc()
		log.Printf("[collector] %v", err)
	}
	if len(blocks) == 0 {
		return 0, errNoData
	}

	readings, derrs := registers.DecodeAll(c.Map, blocks, c.Order, ts)
	for _, err := range derrs {
		metrics.DecodeErrors.WithLabelValues(decodeKind(err)).Inc()
		log.Printf("[collector] %v", err)
	}
	if len(readings) == 0 {
		return 0, nil
	}

	if err := c.Sink.Append(context.WithoutCancel(ctx), readings...); err != nil {
		return 0, fmt.Errorf("append %d readings: %w", len(readings), err)
	}
	metrics.ReadingsAcquired.Add(float64(len(readings)))
	return len(readings), nil
}

func decodeKind(err error) string {
	switch {
	case errors.Is(err, registers.ErrMissingData):
		return "missing"
	case errors.Is(err, registers.ErrTruncated):
		return "truncated"
	case errors.Is(err, registers.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, registers.ErrNonFinite):
		return "non_finite"
	}
	return "other"
}

// reconnect attempts to close and reopen the underlying handler.
func (c *Collector) reconnect() error {
	if c.handler == nil {
		return errors.New("no handler")
	}
	c.handler.Close()
	time.Sleep(200 * time.Millisecond)
	return c.handler.Connect()
}
