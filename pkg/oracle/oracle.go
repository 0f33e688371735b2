// Package oracle replays historical order flow into the simulation.
// The kernel treats it purely as an ordered source of limit orders
// keyed by timestamp.
package oracle

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/bashog/marketsim/pkg/core"
)

// Errors
var (
	ErrNoRecords  = errors.New("no replay records")
	ErrBadRecord  = errors.New("bad replay record")
	ErrBadHeader  = errors.New("bad replay header")
	ErrBadSide    = errors.New("bad side value")
	ErrBadPrice   = errors.New("bad price value")
	ErrBadVolume  = errors.New("bad volume value")
	ErrBadTimeVal = errors.New("bad timestamp value")
)

// Record is one historical order row
type Record struct {
	Timestamp  time.Time
	Side       core.Side
	Price      int64
	Volume     int64
	ExternalID string
}

// ReplayOracle serves pre-built limit orders grouped by timestamp.
// Replayed orders carry an empty agent id, so their execution reports
// are dropped at the send boundary instead of being delivered.
type ReplayOracle struct {
	symbol     string
	timestamps []time.Time
	orders     map[int64][]*core.Order
}

// FromRecords builds an oracle from in-memory records. Orders take ids
// from seq in timestamp order, keeping ids monotonic with time.
func FromRecords(symbol string, records []Record, seq *core.Sequencer) (*ReplayOracle, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	o := &ReplayOracle{
		symbol: symbol,
		orders: make(map[int64][]*core.Order),
	}
	for _, rec := range sorted {
		order, err := core.NewLimitOrder(seq, "", symbol, rec.Volume, rec.Side, rec.Price, rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.ExternalID, err)
		}
		key := rec.Timestamp.UnixNano()
		if _, seen := o.orders[key]; !seen {
			o.timestamps = append(o.timestamps, rec.Timestamp)
		}
		o.orders[key] = append(o.orders[key], order)
	}
	return o, nil
}

// LoadCSV builds an oracle from a CSV file with the columns
// internal_timestamp,side,price,volume,qid. Timestamps are RFC 3339.
func LoadCSV(path, symbol string, seq *core.Sequencer) (*ReplayOracle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	records, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return FromRecords(symbol, records, seq)
}

// ParseCSV reads replay records from r
func ParseCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"internal_timestamp", "side", "price", "volume", "qid"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadHeader, required)
		}
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadRecord, line, err)
		}

		rec, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string, cols map[string]int) (Record, error) {
	var rec Record

	ts, err := time.Parse(time.RFC3339, row[cols["internal_timestamp"]])
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrBadTimeVal, err)
	}
	rec.Timestamp = ts

	switch row[cols["side"]] {
	case "BUY", "BID", "B":
		rec.Side = core.Buy
	case "SELL", "ASK", "S":
		rec.Side = core.Sell
	default:
		return rec, fmt.Errorf("%w: %q", ErrBadSide, row[cols["side"]])
	}

	rec.Price, err = strconv.ParseInt(row[cols["price"]], 10, 64)
	if err != nil || rec.Price <= 0 {
		return rec, fmt.Errorf("%w: %q", ErrBadPrice, row[cols["price"]])
	}
	rec.Volume, err = strconv.ParseInt(row[cols["volume"]], 10, 64)
	if err != nil || rec.Volume <= 0 {
		return rec, fmt.Errorf("%w: %q", ErrBadVolume, row[cols["volume"]])
	}
	rec.ExternalID = row[cols["qid"]]
	return rec, nil
}

// StartTime returns the first replay timestamp
func (o *ReplayOracle) StartTime() time.Time {
	return o.timestamps[0]
}

// EndTime returns the last replay timestamp
func (o *ReplayOracle) EndTime() time.Time {
	return o.timestamps[len(o.timestamps)-1]
}

// Timestamps returns every distinct timestamp in order
func (o *ReplayOracle) Timestamps() []time.Time {
	return o.timestamps
}

// Orders returns the orders recorded at ts
func (o *ReplayOracle) Orders(ts time.Time) []*core.Order {
	return o.orders[ts.UnixNano()]
}

// Symbol returns the replayed instrument
func (o *ReplayOracle) Symbol() string {
	return o.symbol
}
