package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/market"
)

// CSV reads bars of one symbol from rows of time,open,high,low,close,volume.
// Time is RFC3339 or unix milliseconds. A leading header row is skipped.
type CSV struct {
	reader    *csv.Reader
	closer    io.Closer
	symbol    string
	timeframe string
	line      int
}

// NewCSV reads bars for symbol from r.
func NewCSV(r io.Reader, symbol, timeframe string) *CSV {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return &CSV{reader: reader, symbol: symbol, timeframe: timeframe}
}

// OpenCSV opens path and reads bars for symbol from it.
func OpenCSV(path, symbol, timeframe string) (*CSV, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	c := NewCSV(file, symbol, timeframe)
	c.closer = file
	return c, nil
}

func (c *CSV) Next(ctx context.Context) (market.Bar, error) {
	for {
		if err := ctx.Err(); err != nil {
			return market.Bar{}, err
		}
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return market.Bar{}, io.EOF
		}
		if err != nil {
			return market.Bar{}, fmt.Errorf("%w: %s line %d: %v", market.ErrData, c.symbol, c.line+1, err)
		}
		c.line++
		bar, err := c.parse(record)
		if err != nil && c.line == 1 {
			continue
		}
		return bar, err
	}
}

func (c *CSV) parse(record []string) (market.Bar, error) {
	if len(record) < 6 {
		return market.Bar{}, fmt.Errorf("%w: %s line %d has %d fields, want 6", market.ErrData, c.symbol, c.line, len(record))
	}
	at, err := parseTime(record[0])
	if err != nil {
		return market.Bar{}, fmt.Errorf("%w: %s line %d: %v", market.ErrData, c.symbol, c.line, err)
	}
	values := make([]decimal.Decimal, 5)
	for i := range values {
		values[i], err = decimal.NewFromString(strings.TrimSpace(record[i+1]))
		if err != nil {
			return market.Bar{}, fmt.Errorf("%w: %s line %d field %d: %v", market.ErrData, c.symbol, c.line, i+2, err)
		}
	}
	return market.Bar{
		Symbol:    c.symbol,
		Timeframe: c.timeframe,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Time:      at,
	}, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
	}
	return at.UTC(), nil
}

func (c *CSV) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
