package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscriber receives serialized frames on C until it is unsubscribed or
// dropped for falling behind, at which point C is closed.
type Subscriber struct {
	ID uint64
	C  <-chan []byte

	c    chan []byte
	once sync.Once
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.c) })
}

type Broadcaster struct {
	log    *slog.Logger
	buffer int
	nextID atomic.Uint64

	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	closed bool
}

func NewBroadcaster(buffer int, log *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		log:    log,
		buffer: buffer,
		subs:   map[uint64]*Subscriber{},
	}
}

// Subscribe registers a new subscriber. After Close it returns a
// subscriber whose channel is already closed.
func (b *Broadcaster) Subscribe() *Subscriber {
	c := make(chan []byte, b.buffer)
	sub := &Subscriber{
		ID: b.nextID.Add(1),
		C:  c,
		c:  c,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subs[sub.ID] = sub
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("subscriber joined", "subscriber", sub.ID, "total", n)
	return sub
}

// Unsubscribe removes sub and closes its channel. It is idempotent.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub.ID]
	delete(b.subs, sub.ID)
	n := len(b.subs)
	b.mu.Unlock()

	sub.close()
	if ok {
		b.log.Debug("subscriber left", "subscriber", sub.ID, "total", n)
	}
}

// Publish queues msg as a message frame for every subscriber. It never
// blocks: a subscriber whose queue is full is dropped.
func (b *Broadcaster) Publish(msg Message) {
	payload, err := json.Marshal(outFrame{Type: FrameMessage, Data: msg})
	if err != nil {
		b.log.Error("encode message frame", "id", msg.ID, "error", err)
		return
	}

	var slow []*Subscriber
	b.mu.Lock()
	for id, sub := range b.subs {
		select {
		case sub.c <- payload:
		default:
			delete(b.subs, id)
			slow = append(slow, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range slow {
		sub.close()
		b.log.Warn("subscriber dropped, queue full", "subscriber", sub.ID)
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Closed reports whether Close has been called.
func (b *Broadcaster) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close drops every subscriber and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[uint64]*Subscriber{}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
