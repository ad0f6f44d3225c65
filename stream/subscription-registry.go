package stream

import (
	"sync"

	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

// SubscriptionRegistry maps routing keys to the subscriptions of one
// connection and to the waiters pending on them.
type SubscriptionRegistry struct {
	mu      sync.Mutex
	subs    map[string]*domain.Subscription
	order   []string
	waiters map[string]*Waiter
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs:    make(map[string]*domain.Subscription),
		waiters: make(map[string]*Waiter),
	}
}

// Subscribe registers sub under its topic. When the topic is already
// registered the existing subscription is returned with created == false.
func (r *SubscriptionRegistry) Subscribe(sub *domain.Subscription) (registered *domain.Subscription, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subs[sub.Topic]; ok {
		return existing, false
	}
	r.subs[sub.Topic] = sub
	r.order = append(r.order, sub.Topic)
	return sub, true
}

func (r *SubscriptionRegistry) Unsubscribe(topic string) (*domain.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[topic]
	if !ok {
		return nil, false
	}
	delete(r.subs, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sub, true
}

func (r *SubscriptionRegistry) Lookup(topic string) (*domain.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[topic]
	return sub, ok
}

func (r *SubscriptionRegistry) ByRequestID(id string) (*domain.Subscription, bool) {
	if id == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if sub.RequestID == id {
			return sub, true
		}
	}
	return nil, false
}

// Fallback returns the only subscription of the connection. Frames without
// a routing key can only be attributed safely on single-subscription
// connections; with more than one it refuses to guess.
func (r *SubscriptionRegistry) Fallback() (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch len(r.order) {
	case 0:
		return nil, domain.ErrNoSubscription
	case 1:
		return r.subs[r.order[0]], nil
	}
	return nil, domain.ErrAmbiguousRoute
}

// Feeds reports whether any subscription still feeds channel of symbol.
func (r *SubscriptionRegistry) Feeds(channel domain.Channel, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if sub.Channel == channel && sub.Symbol == symbol {
			return true
		}
	}
	return false
}

func (r *SubscriptionRegistry) Subscriptions() []*domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Subscription, 0, len(r.order))
	for _, topic := range r.order {
		out = append(out, r.subs[topic])
	}
	return out
}

func (r *SubscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subs)
}

// Waiter returns the pending waiter of topic, creating it if needed.
func (r *SubscriptionRegistry) Waiter(topic string) *Waiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.waiters[topic]
	if !ok {
		w = newWaiter()
		r.waiters[topic] = w
	}
	return w
}

func (r *SubscriptionRegistry) Resolve(topic string, v interface{}) bool {
	w := r.take(topic)
	if w == nil {
		return false
	}
	return w.resolve(v)
}

func (r *SubscriptionRegistry) Reject(topic string, err error) bool {
	w := r.take(topic)
	if w == nil {
		return false
	}
	return w.reject(err)
}

func (r *SubscriptionRegistry) RejectAll(err error) int {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*Waiter)
	r.mu.Unlock()

	n := 0
	for _, w := range waiters {
		if w.reject(err) {
			n++
		}
	}
	return n
}

func (r *SubscriptionRegistry) take(topic string) *Waiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.waiters[topic]
	if !ok {
		return nil
	}
	delete(r.waiters, topic)
	return w
}
