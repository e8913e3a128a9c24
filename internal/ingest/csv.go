package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/quantforge/tickpipe/internal/market"
)

// ReadTicksCSV loads a tick file with columns ts_us,price,qty,venue and
// optional bid,ask. The first row may be a header. The upstream source
// guarantees ordering and deduplication; the bar builder re-checks ordering
// anyway.
func ReadTicksCSV(path string) ([]market.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tick file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var ticks []market.Tick
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tick file line %d: %w", line+1, err)
		}
		line++
		if line == 1 && record[0] == "ts_us" {
			continue
		}
		tick, err := parseTickRecord(record)
		if err != nil {
			return nil, fmt.Errorf("tick file line %d: %w", line, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

func parseTickRecord(record []string) (market.Tick, error) {
	if len(record) < 4 {
		return market.Tick{}, fmt.Errorf("need at least 4 fields, got %d", len(record))
	}
	ts, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("bad timestamp %q: %w", record[0], err)
	}
	price, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("bad price %q: %w", record[1], err)
	}
	qty, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("bad quantity %q: %w", record[2], err)
	}
	tick := market.Tick{
		Timestamp: time.UnixMicro(ts).UTC(),
		Price:     price,
		Quantity:  qty,
		Venue:     record[3],
	}
	if len(record) >= 6 {
		if tick.Bid, err = strconv.ParseFloat(record[4], 64); err != nil {
			return market.Tick{}, fmt.Errorf("bad bid %q: %w", record[4], err)
		}
		if tick.Ask, err = strconv.ParseFloat(record[5], 64); err != nil {
			return market.Tick{}, fmt.Errorf("bad ask %q: %w", record[5], err)
		}
	}
	return tick, nil
}
