package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/segmentio/ksuid"
)

var ErrEmptyText = errors.New("chat: text cannot be empty")

// Message is immutable once accepted by the Store.
type Message struct {
	ID   string    `json:"id"`
	Nick string    `json:"nick"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

type Limits struct {
	MaxNick     int
	MaxText     int
	DefaultNick string
}

func DefaultLimits() Limits {
	return Limits{
		MaxNick:     32,
		MaxText:     2000,
		DefaultNick: "anonymous",
	}
}

// NewMessage replaces invalid UTF-8 with U+FFFD, truncates nick and text to
// the limits, substitutes the default nick and stamps the message with an id
// and the given time in UTC. The result encodes to JSON and back unchanged.
func NewMessage(nick, text string, now time.Time, lim Limits) (Message, error) {
	nick = strings.ToValidUTF8(nick, string(utf8.RuneError))
	text = truncate(strings.ToValidUTF8(text, string(utf8.RuneError)), lim.MaxText)
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}

	nick = strings.TrimSpace(truncate(nick, lim.MaxNick))
	if nick == "" {
		nick = lim.DefaultNick
	}

	id, err := ksuid.NewRandomWithTime(now)
	if err != nil {
		return Message{}, fmt.Errorf("chat: message id: %w", err)
	}

	return Message{
		ID:   id.String(),
		Nick: nick,
		Text: text,
		TS:   now.UTC(),
	}, nil
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// PersistenceError reports a message that could not be written to its day log.
type PersistenceError struct {
	Day string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: persist message for %s: %v", e.Day, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// wire frames

const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameError   = "error"
)

type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorData struct {
	Reason string `json:"reason"`
}

// inFrame is what clients send.
type inFrame struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
	Text string `json:"text"`
}
