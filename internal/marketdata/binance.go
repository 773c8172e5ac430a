package marketdata

import (
	"context"
	"iter"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// BinanceWsKline is the candlestick payload of a kline websocket event.
type BinanceWsKline struct {
	StartTime int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	IsFinal   bool
}

// BinanceWsKlineEvent is a kline websocket event.
type BinanceWsKlineEvent struct {
	Symbol string
	Kline  BinanceWsKline
}

// WsKlineHandler handles kline events from the websocket.
type WsKlineHandler func(event *BinanceWsKlineEvent)

// WsErrorHandler handles websocket errors.
type WsErrorHandler func(err error)

// BinanceWebSocketService abstracts the kline websocket subscription so
// tests can drive the feed with scripted events.
type BinanceWebSocketService interface {
	WsKlineServe(symbol string, interval string, handler WsKlineHandler, errHandler WsErrorHandler) (doneC chan struct{}, stopC chan struct{}, err error)
}

// realBinanceWebSocketService delegates to the binance websocket client and
// converts its event and handler types to ours.
type realBinanceWebSocketService struct{}

var _ BinanceWebSocketService = (*realBinanceWebSocketService)(nil)

func (s *realBinanceWebSocketService) WsKlineServe(symbol string, interval string, handler WsKlineHandler, errHandler WsErrorHandler) (chan struct{}, chan struct{}, error) {
	return binance.WsKlineServe(symbol, interval, func(event *binance.WsKlineEvent) {
		handler(&BinanceWsKlineEvent{
			Symbol: event.Symbol,
			Kline: BinanceWsKline{
				StartTime: event.Kline.StartTime,
				Open:      event.Kline.Open,
				High:      event.Kline.High,
				Low:       event.Kline.Low,
				Close:     event.Kline.Close,
				Volume:    event.Kline.Volume,
				IsFinal:   event.Kline.IsFinal,
			},
		})
	}, func(err error) {
		errHandler(err)
	})
}

// BinanceFeed streams completed klines from the Binance websocket API.
type BinanceFeed struct {
	ws BinanceWebSocketService
}

// NewBinanceFeed creates a feed over the real Binance websocket.
func NewBinanceFeed() *BinanceFeed {
	return &BinanceFeed{ws: &realBinanceWebSocketService{}}
}

// NewBinanceFeedWithWebSocket creates a feed over an injected websocket
// service. Used by tests.
func NewBinanceFeedWithWebSocket(ws BinanceWebSocketService) *BinanceFeed {
	return &BinanceFeed{ws: ws}
}

var validBinanceIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Stream implements Feed. One websocket subscription per symbol, fanned in
// to a single iterator. Only final candles are yielded; in-progress updates
// are dropped.
func (f *BinanceFeed) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		if len(symbols) == 0 {
			yield(types.Bar{}, errors.New(errors.ErrCodeInvalidConfiguration, "no symbols to stream"))
			return
		}

		if !validBinanceIntervals[interval] {
			yield(types.Bar{}, errors.Newf(errors.ErrCodeInvalidConfiguration, "invalid interval: %s", interval))
			return
		}

		type item struct {
			bar types.Bar
			err error
		}

		items := make(chan item)
		streamCtx, cancel := context.WithCancel(ctx)

		defer cancel()

		var stops []chan struct{}

		for _, symbol := range symbols {
			doneC, stopC, err := f.ws.WsKlineServe(symbol, interval,
				func(event *BinanceWsKlineEvent) {
					if !event.Kline.IsFinal {
						return
					}

					bar, convErr := barFromWsKline(event)

					select {
					case items <- item{bar: bar, err: convErr}:
					case <-streamCtx.Done():
					}
				},
				func(wsErr error) {
					select {
					case items <- item{err: errors.Wrap(errors.ErrCodeFeedConnection, "websocket error", wsErr)}:
					case <-streamCtx.Done():
					}
				})
			if err != nil {
				yield(types.Bar{}, errors.Wrapf(errors.ErrCodeFeedConnection, err, "failed to subscribe %s", symbol))
				closeStops(stops)

				return
			}

			stops = append(stops, stopC)
			_ = doneC
		}

		defer closeStops(stops)

		for {
			select {
			case <-ctx.Done():
				return
			case it := <-items:
				if !yield(it.bar, it.err) {
					return
				}
			}
		}
	}
}

func closeStops(stops []chan struct{}) {
	for _, stopC := range stops {
		close(stopC)
	}
}

func barFromWsKline(event *BinanceWsKlineEvent) (types.Bar, error) {
	open, err := strconv.ParseFloat(event.Kline.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bad open for %s", event.Symbol)
	}

	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bad high for %s", event.Symbol)
	}

	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bad low for %s", event.Symbol)
	}

	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bad close for %s", event.Symbol)
	}

	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return types.Bar{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "bad volume for %s", event.Symbol)
	}

	return types.Bar{
		Symbol: event.Symbol,
		Time:   time.UnixMilli(event.Kline.StartTime).UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
