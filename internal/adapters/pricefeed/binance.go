package pricefeed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"levercore/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

// Feed implements ports.PriceFeed backed by the Binance futures
// mark-price stream. Each watched pair has its own websocket with a
// reconnect loop; GetPrice and IsFresh only ever touch the local cache.
type Feed struct {
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	mu     sync.RWMutex
	quotes map[string]ports.Quote

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration specific to the Binance price feed adapter.
type Config struct {
	Logger               ports.Logger
	UseTestnet           bool
	ReconnectDelay       time.Duration // Base delay between reconnect attempts
	MaxReconnectAttempts int           // Max attempts before a stream gives up
}

// New creates a Binance-backed price feed.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for price feed")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	futures.UseTestnet = cfg.UseTestnet
	return &Feed{
		logger:               cfg.Logger,
		reconnectDelay:       cfg.ReconnectDelay,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		quotes:               make(map[string]ports.Quote),
	}, nil
}

// Watch starts a mark-price stream per pair. It returns once the
// streams are launched; quotes appear in the cache as events arrive.
func (f *Feed) Watch(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return fmt.Errorf("at least one pair is required")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	for _, pair := range pairs {
		f.wg.Add(1)
		go f.stream(streamCtx, pair)
	}
	return nil
}

// Stop tears down all streams and waits for them to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// stream maintains one pair's websocket, reconnecting with a backed-off
// delay until the context is cancelled or attempts run out.
func (f *Feed) stream(ctx context.Context, pair string) {
	defer f.wg.Done()
	op := "pricefeed.stream"

	handler := func(event *futures.WsMarkPriceEvent) {
		price, err := strconv.ParseFloat(event.MarkPrice, 64)
		if err != nil {
			f.logger.Error(ctx, err, op+": failed to parse mark price", map[string]interface{}{"pair": pair, "raw": event.MarkPrice})
			return
		}
		f.update(pair, price, time.UnixMilli(event.Time))
	}
	errHandler := func(err error) {
		f.logger.Warn(ctx, op+": stream error", map[string]interface{}{"pair": pair, "error": err.Error()})
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		doneCh, stopCh, err := futures.WsMarkPriceServe(pair, handler, errHandler)
		if err != nil {
			attempt++
			if attempt > f.maxReconnectAttempts {
				f.logger.Error(ctx, err, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{"pair": pair, "maxAttempts": f.maxReconnectAttempts})
				return
			}
			delay := f.reconnectDelay * time.Duration(1<<uint(attempt-1))
			f.logger.Warn(ctx, op+": connect failed, retrying", map[string]interface{}{"pair": pair, "attempt": attempt, "delay": delay.String()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		f.logger.Info(ctx, op+": mark price stream connected", map[string]interface{}{"pair": pair})

		select {
		case <-ctx.Done():
			close(stopCh)
			<-doneCh
			return
		case <-doneCh:
			// Connection dropped; loop and reconnect.
			f.logger.Warn(ctx, op+": stream disconnected, reconnecting", map[string]interface{}{"pair": pair})
		}
	}
}

// update stores a new quote for a pair.
func (f *Feed) update(pair string, price float64, at time.Time) {
	f.mu.Lock()
	f.quotes[pair] = ports.Quote{Pair: pair, Price: price, UpdatedAt: at}
	f.mu.Unlock()
}

// GetPrice returns the latest cached quote for a pair, or nil when no
// price has been observed yet.
func (f *Feed) GetPrice(ctx context.Context, pair string) (*ports.Quote, error) {
	f.mu.RLock()
	q, ok := f.quotes[pair]
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	out := q
	return &out, nil
}

// IsFresh reports whether the cached quote is younger than maxAge.
func (f *Feed) IsFresh(pair string, maxAge time.Duration) bool {
	f.mu.RLock()
	q, ok := f.quotes[pair]
	f.mu.RUnlock()
	if !ok {
		return false
	}
	return time.Since(q.UpdatedAt) <= maxAge
}
