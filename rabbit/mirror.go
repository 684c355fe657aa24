package rabbit

import (
	"context"
	"log/slog"
	"time"
)

const MessageKey = "chat.message"

type publisher interface {
	Publish(ctx context.Context, body []byte, key string) error
}

// Mirror forwards every broadcast frame to an exchange. Publish failures
// are logged and the frame is dropped; chat delivery never waits on it.
type Mirror struct {
	pub     publisher
	log     *slog.Logger
	timeout time.Duration
}

func NewMirror(pub publisher, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{pub: pub, log: log, timeout: 5 * time.Second}
}

func (m *Mirror) Forward(ctx context.Context, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			pctx, cancel := context.WithTimeout(ctx, m.timeout)
			err := m.pub.Publish(pctx, frame, MessageKey)
			cancel()
			if err != nil {
				m.log.Warn("mirror frame dropped", "error", err)
			}
		}
	}
}
