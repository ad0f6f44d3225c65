package domain

import "context"

// ProviderSyncAPI fetches order book snapshots out of band (REST).
type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, market *Market, limit int) (*OrderBookSnapshot, error)
}

// ProviderStreamAPI describes a venue's streaming protocol. It does no I/O.
type ProviderStreamAPI interface {
	Provider() string
	Decoder() VendorDecoder
	Validator() DepthUpdateValidator
	DefaultMarket(symbol *MarketSymbol) *Market
	// Subscription returns ErrNotImplemented for channels the venue does not support.
	Subscription(channel Channel, market *Market, limit int) (*Subscription, error)
	// URL of the connection carrying sub. Subscriptions with the same URL share a connection.
	URL(sub *Subscription) (string, error)
	// SubscribeFrame returns nil when subscribing is implied by the URL.
	SubscribeFrame(sub *Subscription) ([]byte, error)
	UnsubscribeFrame(sub *Subscription) ([]byte, error)
	AckFrame(ackID string) ([]byte, error)
}
