package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Archive is the durable, day partitioned record of accepted messages.
// Days are UTC midnights.
type Archive interface {
	Append(day time.Time, msg Message) error
	ReadDay(day time.Time) ([]Message, error)
	ReadRecentDays(today time.Time, n int) ([]Message, error)
}

// Hook is called for every accepted message while the window lock is held.
// It must not block.
type Hook func(Message)

type StoreOptions struct {
	Cap    int
	Limits Limits
	Now    func() time.Time
	Logger *slog.Logger
}

// Store owns the in-memory window of recent messages. A message enters the
// window only after the archive has accepted it.
type Store struct {
	archive Archive
	cap     int
	limits  Limits
	now     func() time.Time
	log     *slog.Logger

	// writeMu serializes build, persist and insert. mu guards the window
	// and hooks so snapshots never wait on disk I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	window  []Message
	hooks   []Hook
}

func NewStore(archive Archive, opts StoreOptions) *Store {
	if opts.Cap <= 0 {
		opts.Cap = 1500
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		archive: archive,
		cap:     opts.Cap,
		limits:  opts.Limits,
		now:     opts.Now,
		log:     opts.Logger,
		window:  []Message{},
	}
}

// Load replaces the window with the last Cap messages of the recent days.
// Days that could not be read count as empty; the window is installed
// anyway and the returned error describes what was skipped.
func (s *Store) Load(days int) error {
	if days <= 0 {
		days = 1
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msgs, err := s.archive.ReadRecentDays(DayOf(s.now()), days)
	msgs = s.trim(msgs)

	s.mu.Lock()
	s.window = msgs
	s.mu.Unlock()

	s.log.Info("history loaded", "days", days, "messages", len(msgs))
	if err != nil {
		return fmt.Errorf("chat: load history: %w", err)
	}
	return nil
}

// OnAccept registers a hook for accepted messages.
func (s *Store) OnAccept(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Append builds a message, persists it to the day log and only then adds it
// to the window and runs the hooks.
func (s *Store) Append(nick, text string) (Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	msg, err := NewMessage(nick, text, now, s.limits)
	if err != nil {
		return Message{}, err
	}

	day := DayOf(now)
	if err := s.archive.Append(day, msg); err != nil {
		s.log.Error("persist message", "day", DayKey(day), "id", msg.ID, "error", err)
		return Message{}, &PersistenceError{Day: DayKey(day), Err: err}
	}

	s.mu.Lock()
	s.window = s.trim(append(s.window, msg))
	for _, h := range s.hooks {
		h(msg)
	}
	s.mu.Unlock()

	return msg, nil
}

// Snapshot returns a copy of the window in arrival order.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Join takes a snapshot and subscribes to b in one step, so a message
// accepted concurrently is seen either in the snapshot or on the
// subscription, never both.
func (s *Store) Join(b *Broadcaster) ([]Message, *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), b.Subscribe()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.window)
}

func (s *Store) snapshot() []Message {
	out := make([]Message, len(s.window))
	copy(out, s.window)
	return out
}

func (s *Store) trim(msgs []Message) []Message {
	if len(msgs) <= s.cap {
		return msgs
	}
	// copy so the evicted prefix is not pinned by the backing array
	return append([]Message(nil), lo.Slice(msgs, len(msgs)-s.cap, len(msgs))...)
}

// DayOf returns the UTC midnight of the day t falls on.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats a day as YYYY-MM-DD.
func DayKey(day time.Time) string {
	return day.UTC().Format(time.DateOnly)
}
