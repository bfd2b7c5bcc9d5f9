// Package publish distributes measurement frames from the acquisition
// goroutine to consumers. The Bus never blocks the publisher: a subscriber
// whose channel is full misses the frame.
package publish

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/tofcam/internal/tof/frames"
)

var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// BusStats is a snapshot of bus counters.
type BusStats struct {
	Published   uint64                     `json:"published"`
	Sent        uint64                     `json:"sent"`
	Dropped     uint64                     `json:"dropped"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

type subscriber struct {
	ch      chan<- frames.Frame
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus fans frames out to subscriber channels.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	published atomic.Uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- frames.Frame) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subs[id]; ok {
		return ErrSubscriberExists
	}
	b.subs[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes the subscriber registered under id.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subs[id]; !ok {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	return nil
}

// Publish offers f to every subscriber without blocking. Frames published
// after Close are discarded.
func (b *Bus) Publish(f frames.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		select {
		case s.ch <- f:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := BusStats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subs)),
	}
	for id, s := range b.subs {
		ss := SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		st.Sent += ss.Sent
		st.Dropped += ss.Dropped
		st.Subscribers[id] = ss
	}
	return st
}

// Close detaches all subscribers. Their channels are left open; closing
// them is up to the owner.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subs = make(map[string]*subscriber)
	return nil
}
