package domain

// VendorDecoder turns one raw inbound frame into domain messages. Frames of
// unknown shape come back as UnrecognizedMessage; only unparseable bytes
// produce an error wrapping ErrDecode.
type VendorDecoder interface {
	Decode(raw []byte) (*DecodedFrame, error)
}

type DecodedFrame struct {
	// Non-empty when the venue expects the frame to be acknowledged.
	AckID    string
	Messages []DecodedMessage
}

// DecodedMessage is one of *DeltaMessage, *SnapshotMessage, *TradeMessage,
// *TickerMessage, *ErrorMessage or *UnrecognizedMessage.
type DecodedMessage interface {
	// RoutingKey is empty when the protocol leaves it implicit.
	RoutingKey() string
	decodedMessage()
}

type DeltaMessage struct {
	Key    string
	Update *OrderBookUpdate
}

type SnapshotMessage struct {
	Key      string
	Snapshot *OrderBookSnapshot
}

type TradeMessage struct {
	Key    string
	Trades []Trade
}

type TickerMessage struct {
	Key    string
	Ticker Ticker
}

type ErrorMessage struct {
	Key       string
	RequestID string
	Err       error
}

type UnrecognizedMessage struct {
	Raw []byte
}

func (m *DeltaMessage) RoutingKey() string        { return m.Key }
func (m *SnapshotMessage) RoutingKey() string     { return m.Key }
func (m *TradeMessage) RoutingKey() string        { return m.Key }
func (m *TickerMessage) RoutingKey() string       { return m.Key }
func (m *ErrorMessage) RoutingKey() string        { return m.Key }
func (m *UnrecognizedMessage) RoutingKey() string { return "" }

func (*DeltaMessage) decodedMessage()        {}
func (*SnapshotMessage) decodedMessage()     {}
func (*TradeMessage) decodedMessage()        {}
func (*TickerMessage) decodedMessage()       {}
func (*ErrorMessage) decodedMessage()        {}
func (*UnrecognizedMessage) decodedMessage() {}

// Frame is a convenience constructor for single-message frames.
func Frame(ackID string, messages ...DecodedMessage) *DecodedFrame {
	return &DecodedFrame{AckID: ackID, Messages: messages}
}
