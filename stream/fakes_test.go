package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

const testTimeout = 2 * time.Second

type fakeDecoder struct {
	mu     sync.Mutex
	frames map[string]*domain.DecodedFrame
}

func (d *fakeDecoder) set(raw string, frame *domain.DecodedFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames[raw] = frame
}

func (d *fakeDecoder) Decode(raw []byte) (*domain.DecodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	frame, ok := d.frames[string(raw)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrDecode, raw)
	}
	return frame, nil
}

type fakeAPI struct {
	decoder        *fakeDecoder
	validator      domain.DepthUpdateValidator
	streamSnapshot bool
	unsupported    map[domain.Channel]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		decoder:     &fakeDecoder{frames: make(map[string]*domain.DecodedFrame)},
		validator:   domain.MonotonicValidator{},
		unsupported: make(map[domain.Channel]bool),
	}
}

func (a *fakeAPI) Provider() string                         { return "fake" }
func (a *fakeAPI) Decoder() domain.VendorDecoder            { return a.decoder }
func (a *fakeAPI) Validator() domain.DepthUpdateValidator   { return a.validator }
func (a *fakeAPI) URL(*domain.Subscription) (string, error) { return "ws://fake", nil }

func (a *fakeAPI) DefaultMarket(ms *domain.MarketSymbol) *domain.Market {
	return &domain.Market{ID: ms.Join("")}
}

func (a *fakeAPI) Subscription(channel domain.Channel, market *domain.Market, limit int) (*domain.Subscription, error) {
	if a.unsupported[channel] {
		return nil, domain.ErrNotImplemented
	}
	return &domain.Subscription{
		Channel:   channel,
		Symbol:    market.Symbol,
		MarketID:  market.ID,
		Topic:     channel.String() + ":" + market.ID,
		Limit:     limit,
		RequestID: "req-" + market.ID,
		Book:      domain.BookOptions{StreamSnapshot: a.streamSnapshot, Indexed: a.streamSnapshot},
	}, nil
}

func (a *fakeAPI) SubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	return []byte("sub:" + sub.Topic), nil
}

func (a *fakeAPI) UnsubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	return []byte("unsub:" + sub.Topic), nil
}

func (a *fakeAPI) AckFrame(id string) ([]byte, error) {
	return []byte("ack:" + id), nil
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, string(payload))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) count(prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.sent {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDialer struct {
	mu        sync.Mutex
	transport *fakeTransport
	onFrame   func([]byte)
	dials     int
}

func (d *fakeDialer) Dial(_ context.Context, _ string, onFrame func([]byte)) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.transport = &fakeTransport{}
	d.onFrame = onFrame
	return d.transport, nil
}

func (d *fakeDialer) push(raw string) {
	d.mu.Lock()
	onFrame := d.onFrame
	d.mu.Unlock()
	onFrame([]byte(raw))
}

func (d *fakeDialer) current() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport
}

type fetchResult struct {
	snapshot *domain.OrderBookSnapshot
	err      error
}

// fakeSyncAPI blocks every fetch until the test hands it a result.
type fakeSyncAPI struct {
	mu        sync.Mutex
	calls     int
	limits    []int
	started   chan string
	results   chan fetchResult
	cancelled chan struct{}
}

func newFakeSyncAPI() *fakeSyncAPI {
	return &fakeSyncAPI{
		started:   make(chan string, 16),
		results:   make(chan fetchResult, 16),
		cancelled: make(chan struct{}, 16),
	}
}

func (s *fakeSyncAPI) OrderBookSnapshot(ctx context.Context, market *domain.Market, limit int) (*domain.OrderBookSnapshot, error) {
	s.mu.Lock()
	s.calls++
	s.limits = append(s.limits, limit)
	s.mu.Unlock()

	s.started <- market.Symbol

	select {
	case r := <-s.results:
		return r.snapshot, r.err
	case <-ctx.Done():
		s.cancelled <- struct{}{}
		return nil, ctx.Err()
	}
}

func (s *fakeSyncAPI) requestedLimits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.limits...)
}

// instantSyncAPI answers every fetch at once.
type instantSyncAPI struct {
	snapshot *domain.OrderBookSnapshot
	err      error
}

func (s instantSyncAPI) OrderBookSnapshot(context.Context, *domain.Market, int) (*domain.OrderBookSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.snapshot
	return &out, nil
}

func (s *fakeSyncAPI) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func testCatalog(api domain.ProviderStreamAPI) *domain.MarketCatalog {
	return domain.NewMarketCatalog(api.DefaultMarket, nil)
}

func snapshotAt(nonce int64) *domain.OrderBookSnapshot {
	levels, _ := domain.ParsePriceLevels([][]string{{"100", "1"}})
	asks, _ := domain.ParsePriceLevels([][]string{{"101", "2"}})
	return &domain.OrderBookSnapshot{Nonce: nonce, Bids: levels, Asks: asks}
}

func deltaFrame(key string, nonce int64, bids ...domain.LevelUpdate) *domain.DecodedFrame {
	return domain.Frame("", &domain.DeltaMessage{
		Key:    key,
		Update: &domain.OrderBookUpdate{Nonce: nonce, Bids: bids},
	})
}
