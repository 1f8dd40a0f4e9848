package registers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// column aliases accepted in the register list header
var columnAliases = map[string]string{
	"address":     "address",
	"variable":    "address",
	"register":    "address",
	"channel_id":  "channel",
	"channel":     "channel",
	"type":        "type",
	"scale":       "scale",
	"description": "description",
	"dimension":   "unit",
	"unit":        "unit",
	"bit":         "bit",
}

// LoadMap reads a register list from a .csv or .xlsx file.
// sheet selects the worksheet of a workbook; empty means the first sheet.
func LoadMap(path, sheet string) (Map, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path, sheet)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return Map{}, fmt.Errorf("read register map %s: %w", path, err)
	}
	m, err := ParseRows(rows)
	if err != nil {
		return Map{}, fmt.Errorf("register map %s: %w", path, err)
	}
	return m, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	return f.GetRows(sheet)
}

// ParseRows builds a Map from a header row followed by one row per entry.
func ParseRows(rows [][]string) (Map, error) {
	if len(rows) == 0 {
		return Map{}, errors.New("empty register list")
	}
	cols := make(map[string]int)
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if alias, ok := columnAliases[key]; ok {
			if _, dup := cols[alias]; !dup {
				cols[alias] = i
			}
		}
	}
	if _, ok := cols["address"]; !ok {
		return Map{}, errors.New("missing Address column")
	}
	if _, ok := cols["channel"]; !ok {
		return Map{}, errors.New("missing channel_id column")
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	type slot struct {
		addr uint16
		bit  int
	}
	seenAddr := make(map[slot]string)
	seenChan := make(map[string]int)

	var m Map
	for n, row := range rows[1:] {
		line := n + 2
		rawAddr := cell(row, "address")
		channel := cell(row, "channel")
		if rawAddr == "" && channel == "" {
			continue
		}
		addr, err := parseAddress(rawAddr)
		if err != nil {
			log.Printf("registers: row %d: skipping non-numeric address %q", line, rawAddr)
			continue
		}
		if channel == "" {
			log.Printf("registers: row %d: address %d has no channel_id, skipping", line, addr)
			continue
		}

		typ, known := ParseType(cell(row, "type"))
		if !known {
			log.Printf("registers: row %d: unknown type %q for %s, decoding as FLOAT", line, cell(row, "type"), channel)
		}

		e := Entry{
			Address:     addr,
			Channel:     channel,
			Type:        typ,
			Scale:       parseScale(cell(row, "scale")),
			Description: cell(row, "description"),
			Unit:        cell(row, "unit"),
		}
		if raw := cell(row, "bit"); raw != "" {
			b, err := strconv.Atoi(strings.TrimSuffix(raw, ".0"))
			if err != nil || b < 0 || b > 15 {
				return Map{}, fmt.Errorf("row %d: invalid bit %q", line, raw)
			}
			e.Bit = &b
		}

		s := slot{addr: addr, bit: -1}
		if e.Bit != nil {
			s.bit = *e.Bit
		}
		if prev, dup := seenAddr[s]; dup {
			return Map{}, fmt.Errorf("row %d: address %d already used by %s", line, addr, prev)
		}
		if prev, dup := seenChan[channel]; dup {
			return Map{}, fmt.Errorf("row %d: channel %s already defined on row %d", line, channel, prev)
		}
		seenAddr[s] = channel
		seenChan[channel] = line
		m.Entries = append(m.Entries, e)
	}
	if len(m.Entries) == 0 {
		return Map{}, errors.New("no usable entries")
	}
	return m, nil
}

func parseAddress(s string) (uint16, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > math.MaxUint16 || f != math.Trunc(f) {
		return 0, fmt.Errorf("address %s out of range", s)
	}
	return uint16(f), nil
}

// parseScale returns 1.0 for blank or non-numeric input.
func parseScale(s string) float64 {
	if s == "" {
		return 1
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 1
	}
	return f
}
