package daylog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	c "github.com/ostafen/clover/v2"
	"github.com/ostafen/clover/v2/document"
	"github.com/ostafen/clover/v2/query"
	badgerstore "github.com/ostafen/clover/v2/store/badger"

	"github.com/odit-bit/relay/chat"
)

// CloverLog keeps every day in its own collection. Records carry a seq
// field holding their position in the day so reads return arrival order.
type CloverLog struct {
	db  *c.DB
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenCloverLog opens a badger backed clover database in dir. An empty dir
// keeps everything in memory.
func OpenCloverLog(dir string, log *slog.Logger) (*CloverLog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	str, err := badgerstore.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("daylog: open badger %s: %w", dir, err)
	}
	db, err := c.OpenWithStore(str)
	if err != nil {
		return nil, fmt.Errorf("daylog: open clover: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &CloverLog{db: db, log: log}, nil
}

// CollectionForDay maps a day to its collection name.
func (l *CloverLog) CollectionForDay(day time.Time) string {
	return "messages-" + chat.DayKey(day)
}

func (l *CloverLog) Append(day time.Time, msg Message) error {
	name := l.CollectionForDay(day)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	ok, err := l.db.HasCollection(name)
	if err != nil {
		return fmt.Errorf("daylog: lookup %s: %w", name, err)
	}
	if !ok {
		if err := l.db.CreateCollection(name); err != nil {
			return fmt.Errorf("daylog: create %s: %w", name, err)
		}
	}

	seq, err := l.db.Count(query.NewQuery(name))
	if err != nil {
		return fmt.Errorf("daylog: count %s: %w", name, err)
	}

	doc := document.NewDocument()
	doc.Set("seq", seq)
	doc.Set("id", msg.ID)
	doc.Set("nick", msg.Nick)
	doc.Set("text", msg.Text)
	doc.Set("ts", msg.TS.UTC().Format(time.RFC3339Nano))
	if _, err := l.db.InsertOne(name, doc); err != nil {
		return fmt.Errorf("daylog: insert %s: %w", name, err)
	}
	return nil
}

func (l *CloverLog) ReadDay(day time.Time) ([]Message, error) {
	name := l.CollectionForDay(day)
	key := chat.DayKey(day)

	ok, err := l.db.HasCollection(name)
	if err != nil {
		return nil, &LoadError{Day: key, Path: name, Err: err}
	}
	if !ok {
		return nil, nil
	}

	docs, err := l.db.FindAll(query.NewQuery(name).Sort(query.SortOption{Field: "seq", Direction: 1}))
	if err != nil {
		return nil, &LoadError{Day: key, Path: name, Err: err}
	}

	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := decodeDoc(doc)
		if err != nil {
			l.log.Warn("skip malformed record", "collection", name, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeDoc(doc *document.Document) (Message, error) {
	var fields [4]string
	for i, name := range []string{"id", "nick", "text", "ts"} {
		v, ok := doc.Get(name).(string)
		if !ok {
			return Message{}, fmt.Errorf("field %q is not a string", name)
		}
		fields[i] = v
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[3])
	if err != nil {
		return Message{}, err
	}
	return Message{ID: fields[0], Nick: fields[1], Text: fields[2], TS: ts}, nil
}

func (l *CloverLog) ReadRecentDays(today time.Time, n int) ([]Message, error) {
	return readRecent(l, today, n)
}

// Close closes the database once. Appends after Close fail with ErrClosed.
func (l *CloverLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
