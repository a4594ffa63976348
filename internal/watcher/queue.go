package watcher

import (
	"context"
	"sync"
)

// pipe is an unbounded FIFO of raw events. push never blocks, so backends and
// rename timers can hand events over without waiting for the translator.
type pipe struct {
	mu     sync.Mutex
	items  []rawEvent
	ready  chan struct{}
	closed bool
}

func newPipe() *pipe {
	return &pipe{ready: make(chan struct{}, 1)}
}

func (p *pipe) push(ev rawEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.items = append(p.items, ev)
	p.mu.Unlock()
	p.wake()
}

// pop blocks until an event is available. It returns false once the pipe is
// closed and drained, or when ctx is done.
func (p *pipe) pop(ctx context.Context) (rawEvent, bool) {
	for {
		p.mu.Lock()
		if len(p.items) > 0 {
			ev := p.items[0]
			p.items[0] = rawEvent{}
			p.items = p.items[1:]
			p.mu.Unlock()
			return ev, true
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return rawEvent{}, false
		}

		select {
		case <-p.ready:
		case <-ctx.Done():
			return rawEvent{}, false
		}
	}
}

func (p *pipe) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wake()
}

func (p *pipe) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *pipe) wake() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}
