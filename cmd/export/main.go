package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/config"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/db"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/model"
	"github.com/MelcherMate/ERA-Water-Purifier/internal/output"
)

func main() {
	var (
		cfgPath  string
		dbPath   string
		outJSON  string
		outCSV   string
		channels string
		since    string
		limit    int
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "path to YAML config (for storage.db_path)")
	flag.StringVar(&dbPath, "db", "", "buffer file, overrides the config")
	flag.StringVar(&outJSON, "json", "", "path to write JSON (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV (optional)")
	flag.StringVar(&channels, "channels", "", "comma separated channel ids (default all)")
	flag.StringVar(&since, "since", "", "only rows newer than this timestamp, e.g. \"2024-05-01 00:00:00\"")
	flag.IntVar(&limit, "limit", 0, "max rows (0 = no limit)")
	flag.Parse()

	if outJSON == "" && outCSV == "" {
		log.Fatalf("no output specified: set --json and/or --csv")
	}

	busy := 30 * time.Second
	if dbPath == "" {
		cfg, err := config.LoadYAML(cfgPath)
		if err != nil {
			log.Fatalf("load yaml config: %v", err)
		}
		dbPath = cfg.Storage.DBPath
		busy = cfg.Storage.BusyTimeout
	}

	f := db.Filter{Limit: limit}
	if channels != "" {
		for _, ch := range strings.Split(channels, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				f.Channels = append(f.Channels, ch)
			}
		}
	}
	if since != "" {
		ts, err := model.ParseTS(since)
		if err != nil {
			log.Fatalf("--since: %v", err)
		}
		f.After = ts
	}

	buf, err := db.Open(dbPath, busy)
	if err != nil {
		log.Fatalf("open buffer: %v", err)
	}
	defer buf.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	readings, err := buf.Query(ctx, f)
	if err != nil {
		log.Fatalf("query buffer: %v", err)
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, readings); err != nil {
			log.Printf("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, readings); err != nil {
			log.Printf("write csv error: %v", err)
		}
	}
	log.Printf("exported %d readings from %s", len(readings), dbPath)
}
