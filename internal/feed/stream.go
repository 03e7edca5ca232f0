package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
)

const (
	streamBaseURL        = "wss://stream.binance.com:9443"
	testnetStreamBaseURL = "wss://testnet.binance.vision"
	writeWait            = 10 * time.Second
)

// StreamURL builds a combined kline stream URL for symbols.
func StreamURL(testnet bool, symbols []string, interval string) string {
	base := streamBaseURL
	if testnet {
		base = testnetStreamBaseURL
	}
	names := make([]string, len(symbols))
	for i, symbol := range symbols {
		names[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	}
	return base + "/stream?streams=" + strings.Join(names, "/")
}

// Stream is a live feed of closed klines from a Binance websocket. It
// reconnects with backoff until closed; in-progress candles are dropped.
type Stream struct {
	URL            string
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration

	logger *zap.Logger
	bars   chan market.Bar
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStream returns an unstarted stream feed for url.
func NewStream(url string, logger *zap.Logger) *Stream {
	return &Stream{
		URL:            url,
		ReadTimeout:    5 * time.Minute,
		ReconnectDelay: time.Second,
		MaxBackoff:     time.Minute,
		logger:         logger.Named("stream"),
		bars:           make(chan market.Bar, 256),
		done:           make(chan struct{}),
	}
}

// Start dials the stream and begins reading in the background.
func (s *Stream) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	conn, err := s.dial(ctx)
	if err != nil {
		s.cancel()
		close(s.done)
		return err
	}
	go s.run(ctx, conn)
	return nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	s.logger.Info("Connecting to kline stream", zap.String("url", s.URL))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kline stream: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Stream) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.bars)
	for {
		s.read(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		var ok bool
		if conn, ok = s.reconnect(ctx); !ok {
			return
		}
	}
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Kline stream read failed", zap.Error(err))
			}
			return
		}
		bar, closed, err := ParseKline(message)
		if err != nil {
			s.logger.Warn("Skipping malformed kline message", zap.Error(err))
			continue
		}
		if !closed {
			continue
		}
		select {
		case s.bars <- bar:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) reconnect(ctx context.Context) (*websocket.Conn, bool) {
	delay := s.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false
		}
		conn, err := s.dial(ctx)
		if err == nil {
			return conn, true
		}
		s.logger.Warn("Reconnect failed", zap.Int("attempt", attempt), zap.Duration("retry_after", delay), zap.Error(err))
		if delay *= 2; delay > s.MaxBackoff {
			delay = s.MaxBackoff
		}
	}
}

// Next blocks until the next closed kline arrives.
func (s *Stream) Next(ctx context.Context) (market.Bar, error) {
	select {
	case bar, ok := <-s.bars:
		if !ok {
			return market.Bar{}, io.EOF
		}
		return bar, nil
	case <-ctx.Done():
		return market.Bar{}, ctx.Err()
	}
}

// Close stops the reader and waits for it to exit.
func (s *Stream) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

var errNotKline = errors.New("not a kline event")

// ParseKline decodes a raw or combined-stream kline event. closed reports
// whether the candle is final.
func ParseKline(raw []byte) (bar market.Bar, closed bool, err error) {
	if !gjson.ValidBytes(raw) {
		return market.Bar{}, false, fmt.Errorf("%w: invalid json", errNotKline)
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.Exists() {
		root = data
	}
	k := root.Get("k")
	if root.Get("e").String() != "kline" || !k.Exists() {
		return market.Bar{}, false, errNotKline
	}

	fields := []string{"o", "h", "l", "c", "v"}
	values := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		values[i], err = decimal.NewFromString(k.Get(f).String())
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("kline field %s: %w", f, err)
		}
	}
	return market.Bar{
		Symbol:    k.Get("s").String(),
		Timeframe: k.Get("i").String(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Time:      time.UnixMilli(k.Get("t").Int()).UTC(),
	}, k.Get("x").Bool(), nil
}
