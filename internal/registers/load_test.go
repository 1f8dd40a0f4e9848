package registers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testTime = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadMapCSV(t *testing.T) {
	p := writeFile(t, "registers.csv", `Address,channel_id,Type,Scale,Description,Dimension,Bit
10,vol.A70,UDINT,0.1,Raw water volume,m3,
12,pump.run,BOOL,,Pump running,,
13,alarm.bit3,BIT,abc,Alarm word bit 3,,3
20,temp,REAL,n/a,Temperature,C,
x1,ignored,INT,,non numeric,,
30,level,WORD,2,Tank level,%,
`)
	m, err := LoadMap(p, "")
	require.NoError(t, err)
	require.Len(t, m.Entries, 5)

	assert.Equal(t, Entry{Address: 10, Channel: "vol.A70", Type: TypeUDInt, Scale: 0.1, Description: "Raw water volume", Unit: "m3"}, m.Entries[0])
	assert.Equal(t, 1.0, m.Entries[1].Scale, "blank scale defaults to 1.0")
	assert.Equal(t, 1.0, m.Entries[2].Scale, "non-numeric scale defaults to 1.0")
	require.NotNil(t, m.Entries[2].Bit)
	assert.Equal(t, 3, *m.Entries[2].Bit)
	assert.Equal(t, TypeFloat, m.Entries[3].Type)
	assert.Equal(t, TypeFloat, m.Entries[4].Type, "unknown tags decode as FLOAT")

	base, count := m.Span()
	assert.Equal(t, uint16(10), base)
	assert.Equal(t, 22, count)
}

func TestLoadMapRejectsDuplicates(t *testing.T) {
	p := writeFile(t, "dup.csv", "Address,channel_id,Type\n10,a,INT\n10,b,INT\n")
	_, err := LoadMap(p, "")
	assert.ErrorContains(t, err, "already used")

	p = writeFile(t, "dupch.csv", "Address,channel_id,Type\n10,a,INT\n11,a,INT\n")
	_, err = LoadMap(p, "")
	assert.ErrorContains(t, err, "already defined")

	p = writeFile(t, "bits.csv", "Address,channel_id,Type,Bit\n10,a,BIT,0\n10,b,BIT,1\n")
	m, err := LoadMap(p, "")
	require.NoError(t, err)
	assert.Len(t, m.Entries, 2, "distinct bits may share an address")
}

func TestLoadMapMissingColumns(t *testing.T) {
	p := writeFile(t, "bad.csv", "Register,Type\n1,INT\n")
	_, err := LoadMap(p, "")
	assert.ErrorContains(t, err, "channel_id")

	_, err = LoadMap(filepath.Join(t.TempDir(), "absent.csv"), "")
	assert.Error(t, err)
}

func TestLoadMapXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Komm. ref."
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	rows := [][]interface{}{
		{"Address", "channel_id", "Type", "Scale", "Description", "Dimension"},
		{70, "flow.total", "LREAL", 1, "Total flow", "m3"},
		{74, "pump.hours", "UDINT", 0.01, "Run time", "h"},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	p := filepath.Join(t.TempDir(), "map.xlsx")
	require.NoError(t, f.SaveAs(p))

	m, err := LoadMap(p, sheet)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, uint16(70), m.Entries[0].Address)
	assert.Equal(t, TypeLReal, m.Entries[0].Type)
	assert.Equal(t, 0.01, m.Entries[1].Scale)
}
