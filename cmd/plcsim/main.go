package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/plcsim"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
)

type simulator struct {
	server       *plcsim.Server
	regMap       registers.Map
	order        registers.Order
	dataRows     []map[string]float64
	updatePeriod time.Duration
	mu           sync.Mutex
	rowIndex     int
}

func main() {
	var (
		configPath string
		listen     string
		dataPath   string
		interval   time.Duration
		faults     string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config (register map and word order)")
	flag.StringVar(&listen, "listen", "127.0.0.1:1502", "Modbus TCP listen address")
	flag.StringVar(&dataPath, "data", "", "CSV of channel values, one column per channel_id, replayed row by row")
	flag.DurationVar(&interval, "interval", 10*time.Second, "time between data rows")
	flag.StringVar(&faults, "fault", "", "faulted register ranges, e.g. 200:100,400:10")
	flag.Parse()

	if err := run(configPath, listen, dataPath, interval, faults); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, listen, dataPath string, interval time.Duration, faults string) error {
	cfg, err := config.LoadYAML(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sim, err := newSimulator(cfg, listen, dataPath, interval)
	if err != nil {
		return fmt.Errorf("create simulator: %w", err)
	}
	defer sim.Close()

	if err := applyFaults(sim.server, faults); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sim.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Println("shutting down simulator")
		return nil
	case err := <-errCh:
		return err
	}
}

func newSimulator(cfg config.Config, listen, dataPath string, interval time.Duration) (*simulator, error) {
	m, err := registers.LoadMap(cfg.Modbus.RegisterMap, cfg.Modbus.Sheet)
	if err != nil {
		return nil, fmt.Errorf("load register map: %w", err)
	}
	order, err := registers.ParseOrder(cfg.Modbus.WordOrder, cfg.Modbus.ByteOrder)
	if err != nil {
		return nil, err
	}

	var rows []map[string]float64
	if dataPath != "" {
		rows, err = loadCSV(dataPath)
		if err != nil {
			return nil, fmt.Errorf("load csv: %w", err)
		}
	}

	server := plcsim.New()
	if err := server.Listen(listen); err != nil {
		return nil, fmt.Errorf("start modbus server: %w", err)
	}

	return &simulator{
		server:       server,
		regMap:       m,
		order:        order,
		dataRows:     rows,
		updatePeriod: interval,
	}, nil
}

func applyFaults(s *plcsim.Server, list string) error {
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, count, ok := strings.Cut(part, ":")
		a, err1 := strconv.ParseUint(start, 10, 16)
		n, err2 := strconv.Atoi(count)
		if !ok || err1 != nil || err2 != nil || n <= 0 {
			return fmt.Errorf("invalid fault range %q (want start:count)", part)
		}
		s.Fault(uint16(a), n)
		log.Printf("registers %d..%d will fail", a, int(a)+n-1)
	}
	return nil
}

func loadCSV(path string) ([]map[string]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain header and at least one data row")
	}

	header := records[0]
	rows := make([]map[string]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(header) {
			return nil, errors.New("csv record length mismatch")
		}
		row := make(map[string]float64, len(header))
		for i, key := range header {
			valStr := strings.TrimSpace(record[i])
			if valStr == "" {
				continue
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for column %s: %w", key, err)
			}
			row[strings.TrimSpace(key)] = val
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *simulator) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.updatePeriod)
	defer ticker.Stop()

	log.Printf("purifier simulator listening on %s (%d channels)", s.server.Addr(), len(s.regMap.Entries))

	s.applyRow(0)

	for {
		select {
		case <-ticker.C:
			s.nextRow()
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *simulator) nextRow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dataRows) == 0 {
		return
	}

	s.rowIndex = (s.rowIndex + 1) % len(s.dataRows)
	s.applyRowLocked(s.rowIndex)
}

func (s *simulator) applyRow(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyRowLocked(index)
}

func (s *simulator) applyRowLocked(index int) {
	if len(s.dataRows) == 0 {
		return
	}
	if err := s.server.LoadValues(s.regMap, s.order, s.dataRows[index]); err != nil {
		log.Printf("apply row %d: %v", index, err)
	}
}

func (s *simulator) Close() {
	s.server.Close()
}
