package memory

import (
	"context"
	"sync"

	"experiment-test-service/internal/domain"
)

// Broadcaster fans session events out to in-process subscribers of a config version.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]map[chan domain.SessionEvent]struct{}
	buffer      int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subscribers: make(map[int]map[chan domain.SessionEvent]struct{}),
		buffer:      buffer,
	}
}

// Publish never blocks: a full subscriber loses its oldest pending event.
func (b *Broadcaster) Publish(_ context.Context, ev domain.SessionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[ev.ConfigVersion] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
	return nil
}

func (b *Broadcaster) Subscribe(_ context.Context, version int) (<-chan domain.SessionEvent, func(), error) {
	ch := make(chan domain.SessionEvent, b.buffer)

	b.mu.Lock()
	if b.subscribers[version] == nil {
		b.subscribers[version] = make(map[chan domain.SessionEvent]struct{})
	}
	b.subscribers[version][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subscribers[version]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subscribers, version)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel, nil
}
