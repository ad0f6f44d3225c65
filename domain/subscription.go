package domain

type Channel int

const (
	ChannelOrderBook Channel = iota + 1
	ChannelTicker
	ChannelTrades
	ChannelOHLCV
	ChannelBalance
)

func (c Channel) String() string {
	switch c {
	case ChannelOrderBook:
		return "orderbook"
	case ChannelTicker:
		return "ticker"
	case ChannelTrades:
		return "trades"
	case ChannelOHLCV:
		return "ohlcv"
	case ChannelBalance:
		return "balance"
	}
	return "unknown"
}

func ParseChannel(s string) (Channel, error) {
	for c := ChannelOrderBook; c <= ChannelBalance; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, ErrUnknownChannel
}

type BookOptions struct {
	// Levels are keyed by exchange-assigned id rather than by price.
	Indexed bool
	// The feed delivers its own snapshot frame; no REST fetch is scheduled.
	StreamSnapshot bool
}

// Subscription is one logical feed on a connection, identified by Topic (the routing key).
type Subscription struct {
	Channel   Channel
	Symbol    string
	MarketID  string
	Topic     string
	Limit     int
	RequestID string
	Book      BookOptions
}
