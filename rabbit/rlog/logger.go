package rlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("rlog: publish queue full")
	ErrClosed    = errors.New("rlog: publisher closed")
)

type record struct {
	body []byte
	key  string
}

// AsyncPublisher hands records to pub from a single goroutine so logging
// never waits on the broker. Records are dropped when the queue is full.
type AsyncPublisher struct {
	pub     Publisher
	queue   chan record
	done    chan struct{}
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewAsyncPublisher(pub Publisher, size int) *AsyncPublisher {
	if size <= 0 {
		size = 1024
	}
	a := &AsyncPublisher{
		pub:     pub,
		queue:   make(chan record, size),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for r := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		_ = a.pub.Publish(ctx, r.body, r.key)
		cancel()
	}
}

// Publish copies body and queues it.
func (a *AsyncPublisher) Publish(_ context.Context, body []byte, key string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	b := make([]byte, len(body))
	copy(b, body)
	select {
	case a.queue <- record{body: b, key: key}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue. Later calls to Publish return ErrClosed.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("rlog: level %q: %w", s, err)
	}
	return l, nil
}

// New builds a logger for format "json" or "indent". pub is only used by
// the json format and may be nil.
func New(w io.Writer, format, level string, pub Publisher) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := slog.HandlerOptions{Level: l}

	switch format {
	case "indent":
		return slog.New(NewIndentHandler(w, opts)), nil
	case "json", "":
		return slog.New(NewJSONHandler(w, pub, opts)), nil
	default:
		return nil, fmt.Errorf("rlog: unknown format %q", format)
	}
}
