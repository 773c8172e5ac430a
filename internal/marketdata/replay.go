package marketdata

import (
	"context"
	"encoding/csv"
	"iter"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// ReplayFeed yields a fixed slice of bars in order. It backs paper runs and
// engine tests, where the deciding property is that a replayed session
// produces the identical decision sequence every time.
type ReplayFeed struct {
	bars []types.Bar
}

// NewReplayFeed creates a feed over the given bars. The slice is not
// copied; callers must not mutate it while streaming.
func NewReplayFeed(bars []types.Bar) *ReplayFeed {
	return &ReplayFeed{bars: bars}
}

// LoadBars reads a CSV bar file for the replay feed. The expected layout is
// a header row followed by symbol,time,open,high,low,close,volume records
// with RFC 3339 timestamps.
func LoadBars(path string) ([]types.Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeFatalConfig, err, "failed to open bar file %s", path)
	}

	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeMalformedBar, err, "failed to parse bar file %s", path)
	}

	if len(records) < 2 {
		return nil, errors.Newf(errors.ErrCodeMalformedBar, "bar file %s has no records", path)
	}

	bars := make([]types.Bar, 0, len(records)-1)

	for i, record := range records[1:] {
		bar, err := barFromRecord(record)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bar file %s record %d", path, i+2)
		}

		bars = append(bars, bar)
	}

	return bars, nil
}

func barFromRecord(record []string) (types.Bar, error) {
	if len(record) != 7 {
		return types.Bar{}, errors.Newf(errors.ErrCodeMalformedBar, "expected 7 fields, got %d", len(record))
	}

	barTime, err := time.Parse(time.RFC3339, record[1])
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMalformedBar, "bad timestamp", err)
	}

	prices := make([]float64, 5)

	for i, raw := range record[2:] {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bad field %q", raw)
		}

		prices[i] = value
	}

	return types.Bar{
		Symbol: record[0],
		Time:   barTime.UTC(),
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: prices[4],
	}, nil
}

// Stream implements Feed. The interval argument is ignored; replayed bars
// carry whatever spacing they were recorded with.
func (f *ReplayFeed) Stream(ctx context.Context, symbols []string, _ string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		for _, bar := range f.bars {
			if ctx.Err() != nil {
				return
			}

			if len(symbols) > 0 && !slices.Contains(symbols, bar.Symbol) {
				continue
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}
