package manager

import "sync"

// MemoryPublisher stores events in-memory for tests and the event feed.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// FanoutPublisher forwards each event to every subscriber channel without
// blocking; slow subscribers drop events rather than stall the manager.
type FanoutPublisher struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewFanoutPublisher() *FanoutPublisher {
	return &FanoutPublisher{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a buffered event channel. The returned func removes
// and closes it.
func (p *FanoutPublisher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
}

func (p *FanoutPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
