// Package daylog stores accepted chat messages partitioned by UTC day.
//
// Two backends are provided: FileLog keeps one newline delimited JSON file
// per day, CloverLog keeps one clover collection per day on badger. Day
// files are never compacted or removed; retention is left to the operator.
package daylog

import (
	"errors"
	"fmt"
	"time"

	"github.com/odit-bit/relay/chat"
)

var (
	_ chat.Archive = (*FileLog)(nil)
	_ chat.Archive = (*CloverLog)(nil)
)

// ErrClosed is returned by Append once the log has been closed.
var ErrClosed = errors.New("daylog: log closed")

// LoadError reports a day that exists but could not be read.
type LoadError struct {
	Day  string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("daylog: load %s (%s): %v", e.Day, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RecentDays returns today and the n-1 days before it, oldest first.
func RecentDays(today time.Time, n int) []time.Time {
	today = chat.DayOf(today)
	days := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}

type dayReader interface {
	ReadDay(day time.Time) ([]Message, error)
}

// Message is an alias kept local so backends read naturally.
type Message = chat.Message

// readRecent concatenates the recent days in chronological order. A day
// that fails to load counts as empty and its error is joined into the
// result.
func readRecent(r dayReader, today time.Time, n int) ([]Message, error) {
	var (
		all  []Message
		errs []error
	)
	for _, day := range RecentDays(today, n) {
		msgs, err := r.ReadDay(day)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, msgs...)
	}
	return all, errors.Join(errs...)
}
