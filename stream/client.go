package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

// Client is the per-venue entry point: it resolves symbols to subscriptions
// and keeps one Connection per venue URL.
type Client struct {
	api     domain.ProviderStreamAPI
	syncAPI domain.ProviderSyncAPI
	catalog *domain.MarketCatalog
	dialer  Dialer
	opts    Options

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewClient(
	api domain.ProviderStreamAPI,
	syncAPI domain.ProviderSyncAPI,
	catalog *domain.MarketCatalog,
	dialer Dialer,
	opts Options,
) *Client {
	return &Client{
		api:     api,
		syncAPI: syncAPI,
		catalog: catalog,
		dialer:  dialer,
		opts:    opts,
		conns:   make(map[string]*Connection),
	}
}

func (c *Client) Provider() string { return c.api.Provider() }

func (c *Client) Market(symbol string) (*domain.Market, error) {
	return c.catalog.Market(symbol)
}

// WatchOrderBook waits for the next update of symbol's book and returns the
// best limit levels per side. The first call subscribes and starts syncing.
func (c *Client) WatchOrderBook(ctx context.Context, symbol string, limit int) (*domain.OrderBookSnapshot, error) {
	sub, conn, err := c.subscription(ctx, domain.ChannelOrderBook, symbol, limit)
	if err != nil {
		return nil, err
	}
	snapshot, err := conn.WatchOrderBook(ctx, sub)
	if err != nil {
		return nil, err
	}
	return domain.LimitSnapshot(snapshot, limit), nil
}

func (c *Client) WatchTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Trade, error) {
	sub, conn, err := c.subscription(ctx, domain.ChannelTrades, symbol, 0)
	if err != nil {
		return nil, err
	}
	trades, err := conn.WatchTrades(ctx, sub)
	if err != nil {
		return nil, err
	}
	return domain.FilterSinceLimit(trades, since, limit), nil
}

func (c *Client) WatchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	sub, conn, err := c.subscription(ctx, domain.ChannelTicker, symbol, 0)
	if err != nil {
		return nil, err
	}
	return conn.WatchTicker(ctx, sub)
}

// LocalOrderBook returns the already synced book of symbol, or ErrOrderBookNotFound.
func (c *Client) LocalOrderBook(ctx context.Context, symbol string, limit int) (*domain.OrderBookSnapshot, error) {
	sub, err := c.resolve(domain.ChannelOrderBook, symbol, limit)
	if err != nil {
		return nil, err
	}
	conn, ok := c.existing(sub)
	if !ok {
		return nil, domain.ErrOrderBookNotFound
	}
	return conn.LocalOrderBook(ctx, sub.Symbol, limit)
}

// Unwatch drops the subscription of channel/symbol. Connections left without
// subscriptions are closed.
func (c *Client) Unwatch(ctx context.Context, channel domain.Channel, symbol string, limit int) error {
	sub, err := c.resolve(channel, symbol, limit)
	if err != nil {
		return err
	}
	conn, ok := c.existing(sub)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoSubscription, sub.Topic)
	}

	if err := conn.Unwatch(ctx, sub.Topic); err != nil {
		return err
	}

	if conn.Subscriptions() == 0 {
		c.mu.Lock()
		delete(c.conns, conn.URL())
		c.mu.Unlock()
		return conn.Close()
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*Connection)
	c.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) resolve(channel domain.Channel, symbol string, limit int) (*domain.Subscription, error) {
	market, err := c.catalog.Market(symbol)
	if err != nil {
		return nil, err
	}
	return c.api.Subscription(channel, market, limit)
}

func (c *Client) existing(sub *domain.Subscription) (*Connection, bool) {
	url, err := c.api.URL(sub)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[url]
	return conn, ok
}

func (c *Client) subscription(ctx context.Context, channel domain.Channel, symbol string, limit int) (*domain.Subscription, *Connection, error) {
	sub, err := c.resolve(channel, symbol, limit)
	if err != nil {
		return nil, nil, err
	}
	url, err := c.api.URL(sub)
	if err != nil {
		return nil, nil, err
	}

	if conn, ok := c.live(url); ok {
		return sub, conn, nil
	}

	// dialing is a network round trip, other URLs must not wait on it
	conn, err := Dial(ctx, url, c.dialer, c.api, c.syncAPI, c.opts)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	if current, ok := c.conns[url]; ok && !closed(current) {
		// lost the race against a concurrent dial of the same URL
		c.mu.Unlock()
		_ = conn.Close()
		return sub, current, nil
	}
	c.conns[url] = conn
	c.mu.Unlock()
	return sub, conn, nil
}

// live returns the open connection of url, forgetting it when it has died.
func (c *Client) live(url string) (*Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[url]
	if !ok {
		return nil, false
	}
	if closed(conn) {
		delete(c.conns, url)
		return nil, false
	}
	return conn, true
}

func closed(conn *Connection) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}
