package remote

import (
	"encoding/json"
	"sync"
)

// broadcaster fans every accepted event out to all attached
// subscriptions. Delivery is per-subscriber FIFO and publish never
// blocks: each subscription buffers up to its backlog limit and drops
// its oldest queued events past that, flagging the gap to the consumer.
type broadcaster struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	backlog int
	closed  bool
}

func newBroadcaster(backlog int) *broadcaster {
	if backlog <= 0 {
		backlog = defaultEventBacklog
	}
	return &broadcaster{
		subs:    make(map[uint64]*Subscription),
		backlog: backlog,
	}
}

func (b *broadcaster) subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrNotConnected
	}

	b.nextID++
	s := &Subscription{
		id:    b.nextID,
		owner: b,
		limit: b.backlog,
		ch:    make(chan Event),
		done:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	b.subs[s.id] = s

	go s.pump()

	return s, nil
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.offer(ev)
	}
}

// closeAll detaches every subscription with an end-of-stream signal and
// rejects future subscribe calls. Called once, at connection teardown.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (b *broadcaster) detach(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one independent consumer of the event stream. Events
// arrive on the channel returned by Events in publish order; the channel
// closes (without an error value) when the subscription detaches or the
// connection tears down.
type Subscription struct {
	id    uint64
	owner *broadcaster

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	dropped uint64
	closed  bool

	ch       chan Event
	done     chan struct{}
	shutOnce sync.Once
	limit    int
}

// Events returns the delivery channel. A consumer that falls more than
// the backlog limit behind loses its oldest undelivered events and
// receives a single EventTypeGap event describing the loss before
// delivery resumes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Idempotent; pending undelivered
// events are discarded and the delivery channel closes.
func (s *Subscription) Close() {
	s.owner.detach(s.id)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.shutOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Signal()
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) offer(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if len(s.queue) >= s.limit {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *Subscription) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		dropped := s.dropped
		s.dropped = 0
		s.mu.Unlock()

		if dropped > 0 {
			if !s.deliver(gapEvent(dropped)) {
				return
			}
		}
		if !s.deliver(ev) {
			return
		}
	}
}

func (s *Subscription) deliver(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}

func gapEvent(dropped uint64) Event {
	data, _ := json.Marshal(GapInfo{DroppedEvents: dropped})
	return Event{Type: EventTypeGap, Data: data}
}
