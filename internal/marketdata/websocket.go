package marketdata

import (
	"context"
	stderrors "errors"
	"iter"
	"net"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// barMessage is the wire format of the generic JSON bar feed. Bars arrive
// one JSON object per websocket message with a millisecond epoch timestamp.
type barMessage struct {
	Symbol   string  `json:"symbol"`
	Time     int64   `json:"time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Interval string  `json:"interval"`
}

// subscribeMessage is sent once after connecting.
type subscribeMessage struct {
	Action   string   `json:"action"`
	Symbols  []string `json:"symbols"`
	Interval string   `json:"interval"`
}

// WebsocketFeed streams bars from a generic JSON websocket endpoint. Any
// upstream that speaks the subscribe/bar message shapes can serve it, which
// keeps venue simulators and bridge processes off the Binance-specific path.
type WebsocketFeed struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebsocketFeed creates a feed that connects to the given URL.
func NewWebsocketFeed(url string) *WebsocketFeed {
	return &WebsocketFeed{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

// Stream implements Feed.
func (f *WebsocketFeed) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		if len(symbols) == 0 {
			yield(types.Bar{}, errors.New(errors.ErrCodeInvalidConfiguration, "no symbols to stream"))
			return
		}

		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			yield(types.Bar{}, errors.Wrapf(errors.ErrCodeFeedConnection, err, "failed to connect to %s", f.url))
			return
		}

		defer conn.Close()

		// Unblock ReadJSON when the context is cancelled. The watcher exits
		// with the stream either way; it must not outlive a read loop that
		// ends on its own.
		readerDone := make(chan struct{})
		defer close(readerDone)

		go func() {
			select {
			case <-ctx.Done():
				_ = conn.SetReadDeadline(time.Now())
				_ = conn.Close()
			case <-readerDone:
			}
		}()

		subscribe := subscribeMessage{
			Action:   "subscribe",
			Symbols:  symbols,
			Interval: interval,
		}
		if err := conn.WriteJSON(subscribe); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeFeedConnection, "failed to subscribe", err))
			return
		}

		for {
			var msg barMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					return
				}

				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					yield(types.Bar{}, errors.Wrap(errors.ErrCodeFeedClosed, "feed closed", err))
					return
				}

				var netErr net.Error
				if stderrors.As(err, &netErr) && netErr.Timeout() {
					return
				}

				yield(types.Bar{}, errors.Wrap(errors.ErrCodeFeedConnection, "read failed", err))

				return
			}

			// Bars for symbols we did not subscribe to are dropped.
			if !slices.Contains(symbols, msg.Symbol) {
				continue
			}

			bar := types.Bar{
				Symbol: msg.Symbol,
				Time:   time.UnixMilli(msg.Time).UTC(),
				Open:   msg.Open,
				High:   msg.High,
				Low:    msg.Low,
				Close:  msg.Close,
				Volume: msg.Volume,
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}
