package events

import (
	"sync"
	"sync/atomic"

	"syncqueue/internal/models"
)

// Listener receives sync outcomes. It must return quickly; delivery is synchronous.
type Listener func(event *models.SyncEvent)

type subscription struct {
	id       uint64
	listener Listener
}

// Publisher fans the latest sync outcome out to long-lived listeners.
type Publisher struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	deliverMu sync.Mutex
	live      atomic.Pointer[models.SyncEvent]

	onPublish func(kind string)
}

// NewPublisher constructs an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// OnPublish installs a hook invoked once per delivered event, used for metrics.
func (p *Publisher) OnPublish(fn func(kind string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPublish = fn
}

// Subscribe registers a listener. The returned func detaches it.
func (p *Publisher) Subscribe(listener Listener) (cancel func()) {
	if listener == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, listener: listener})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return
		}
	}
}

// Publish sets the live event, hands every listener its own copy in
// registration order, then clears the live event. A nil event or an empty
// listener set is a no-op.
func (p *Publisher) Publish(event *models.SyncEvent) {
	if event == nil {
		return
	}

	p.mu.RLock()
	subs := append([]subscription(nil), p.subs...)
	hook := p.onPublish
	p.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.live.Store(event)
	for _, s := range subs {
		s.listener(event.Clone())
	}
	p.live.Store(nil)

	if hook != nil {
		hook(event.Kind())
	}
}

// Live returns the event currently being delivered, or nil.
func (p *Publisher) Live() *models.SyncEvent {
	return p.live.Load().Clone()
}

// Subscribers returns the number of registered listeners.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
