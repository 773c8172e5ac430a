// Package marketdata provides bar feeds for the trading engine. A feed
// yields completed price bars; building candles from raw ticks is the
// venue's job, not ours.
package marketdata

import (
	"context"
	"iter"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// FeedType selects the market data source.
type FeedType string

const (
	FeedBinance   FeedType = "binance"
	FeedWebsocket FeedType = "websocket"
	FeedReplay    FeedType = "replay"
)

// Feed streams completed bars for a set of symbols.
type Feed interface {
	// Stream returns an iterator yielding bar and error pairs. Only
	// completed bars are yielded. Cancel the context to stop streaming;
	// the iterator returns after the feed shuts down.
	Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error]
}

// NewFeed creates a feed of the given type.
func NewFeed(feedType FeedType, config any) (Feed, error) {
	switch feedType {
	case FeedBinance:
		return NewBinanceFeed(), nil
	case FeedWebsocket:
		url, ok := config.(string)
		if !ok || url == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration, "websocket feed requires a URL")
		}

		return NewWebsocketFeed(url), nil
	case FeedReplay:
		bars, ok := config.([]types.Bar)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration, "replay feed requires a bar slice")
		}

		return NewReplayFeed(bars), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported feed type: %s", feedType)
	}
}
