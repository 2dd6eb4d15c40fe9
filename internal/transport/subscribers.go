package transport

import (
	"sync"

	"ksession/internal/wire"
)

// subscriberSet fans inbound traffic out to every subscription, in
// subscription order.
type subscriberSet struct {
	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	set       *subscriberSet
	onMessage func(*wire.Message)
	onError   func(error)
	once      sync.Once
}

func (s *subscriberSet) add(onMessage func(*wire.Message), onError func(error)) *subscription {
	sub := &subscription{set: s, onMessage: onMessage, onError: onError}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

func (s *subscriberSet) snapshot() []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

func (s *subscriberSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// deliver reports whether anyone received msg.
func (s *subscriberSet) deliver(msg *wire.Message) bool {
	subs := s.snapshot()
	for _, sub := range subs {
		if sub.onMessage != nil {
			sub.onMessage(msg)
		}
	}
	return len(subs) > 0
}

func (s *subscriberSet) fail(err error) {
	for _, sub := range s.snapshot() {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Unsubscribe removes the subscription.  Safe to call more than once.
func (sub *subscription) Unsubscribe() {
	sub.once.Do(func() {
		s := sub.set
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, x := range s.subs {
			if x == sub {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				break
			}
		}
	})
}
