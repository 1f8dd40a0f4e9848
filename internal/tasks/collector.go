package tasks

import (
	"github.com/MelcherMate/ERA-Water-Purifier/internal/collector"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/db"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/retry"
)

// newCollector loads the register map and builds the acquisition loop.
func newCollector(cfg config.Config, buf *db.DB, policy retry.Policy) (*collector.Collector, error) {
	m, err := registers.LoadMap(cfg.Modbus.RegisterMap, cfg.Modbus.Sheet)
	if err != nil {
		return nil, err
	}
	order, err := registers.ParseOrder(cfg.Modbus.WordOrder, cfg.Modbus.ByteOrder)
	if err != nil {
		return nil, err
	}
	return &collector.Collector{
		Modbus: cfg.Modbus,
		Map:    m,
		Order:  order,
		Sink:   buf,
		Policy: policy,
	}, nil
}
