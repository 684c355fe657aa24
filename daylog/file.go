package daylog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/odit-bit/relay/chat"
)

// FileLog writes one JSON record per line to <root>/YYYY-MM-DD.txt.
// The file of the current day stays open between appends.
type FileLog struct {
	root  string
	fsync bool
	log   *slog.Logger

	mu     sync.Mutex
	cur    *os.File
	curKey string
	closed bool

	syncFile func(*os.File) error
}

func OpenFileLog(root string, fsync bool, log *slog.Logger) (*FileLog, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("daylog: create %s: %w", root, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileLog{root: root, fsync: fsync, log: log, syncFile: (*os.File).Sync}, nil
}

// PathForDay maps a day to its file. Distinct days never share a file.
func (l *FileLog) PathForDay(day time.Time) string {
	return filepath.Join(l.root, chat.DayKey(day)+".txt")
}

// Append adds msg as one line to the day file. If the write or the sync
// fails the file is truncated back to its previous size, so a failed
// append leaves no record and earlier records stay intact.
func (l *FileLog) Append(day time.Time, msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("daylog: encode %s: %w", msg.ID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	f, err := l.fileFor(day)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("daylog: stat %s: %w", f.Name(), err)
	}

	if _, err := f.Write(line); err != nil {
		l.rollback(f, info.Size())
		return fmt.Errorf("daylog: write %s: %w", f.Name(), err)
	}

	if l.fsync {
		if err := l.syncFile(f); err != nil {
			l.rollback(f, info.Size())
			return fmt.Errorf("daylog: sync %s: %w", f.Name(), err)
		}
	}
	return nil
}

func (l *FileLog) rollback(f *os.File, size int64) {
	if err := f.Truncate(size); err != nil {
		l.log.Error("roll back partial record", "path", f.Name(), "error", err)
	}
}

func (l *FileLog) fileFor(day time.Time) (*os.File, error) {
	key := chat.DayKey(day)
	if l.cur != nil && l.curKey == key {
		return l.cur, nil
	}
	if l.cur != nil {
		if err := l.cur.Close(); err != nil {
			l.log.Warn("close day file", "day", l.curKey, "error", err)
		}
		l.cur, l.curKey = nil, ""
	}

	path := l.PathForDay(day)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daylog: open %s: %w", path, err)
	}
	l.cur, l.curKey = f, key
	return f, nil
}

// ReadDay returns the well formed records of the day in file order. A
// missing file is an empty day; malformed lines are skipped.
func (l *FileLog) ReadDay(day time.Time) ([]Message, error) {
	path := l.PathForDay(day)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &LoadError{Day: chat.DayKey(day), Path: path, Err: err}
	}
	defer f.Close()

	msgs, err := l.decode(f, path)
	if err != nil {
		return nil, &LoadError{Day: chat.DayKey(day), Path: path, Err: err}
	}
	return msgs, nil
}

func (l *FileLog) decode(r io.Reader, path string) ([]Message, error) {
	var msgs []Message
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var msg Message
			if jerr := json.Unmarshal(line, &msg); jerr != nil {
				l.log.Warn("skip malformed record", "path", path, "line", lineNo, "error", jerr)
			} else {
				msgs = append(msgs, msg)
			}
		}
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (l *FileLog) ReadRecentDays(today time.Time, n int) ([]Message, error) {
	return readRecent(l, today, n)
}

// Close releases the open day file. Appends after Close fail with
// ErrClosed; reads keep working.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.cur == nil {
		return nil
	}
	err := l.cur.Close()
	l.cur, l.curKey = nil, ""
	return err
}
