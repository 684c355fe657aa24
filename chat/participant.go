package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize int64 = 16 << 10
)

// PARTICIPANT

// Participant is one websocket connection. The write loop sends the
// history frame first, then drains the subscriber queue.
type Participant struct {
	conn    *websocket.Conn
	store   *Store
	hub     *Broadcaster
	sub     *Subscriber
	history []Message
	direct  chan []byte
	limiter *rate.Limiter
	log     *slog.Logger
}

func newParticipant(conn *websocket.Conn, store *Store, hub *Broadcaster, limiter *rate.Limiter, log *slog.Logger) *Participant {
	history, sub := store.Join(hub)
	return &Participant{
		conn:    conn,
		store:   store,
		hub:     hub,
		sub:     sub,
		history: history,
		direct:  make(chan []byte, 8),
		limiter: limiter,
		log:     log.With("remote", conn.RemoteAddr().String(), "subscriber", sub.ID),
	}
}

// Serve runs the write loop in the background and the read loop until the
// connection ends.
func (p *Participant) Serve() {
	go p.WriteLoop()
	p.ReadLoop()
}

// read frames from conn and hand them to the store
func (p *Participant) ReadLoop() {
	defer func() {
		p.hub.Unsubscribe(p.sub)
		p.log.Info("participant leave")
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, b, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.log.Warn("read", "error", err)
			}
			return
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.log.Warn("rate limit exceeded, frame dropped")
			continue
		}
		p.handle(b)
	}
}

func (p *Participant) handle(b []byte) {
	var in inFrame
	if err := json.Unmarshal(b, &in); err != nil || in.Type != FrameMessage {
		return
	}

	if _, err := p.store.Append(in.Nick, in.Text); err != nil {
		reason := "message could not be saved"
		if errors.Is(err, ErrEmptyText) {
			reason = "message text is empty"
		}
		p.reply(FrameError, errorData{Reason: reason})
	}
}

// reply queues a frame for this participant only.
func (p *Participant) reply(typ string, data any) {
	payload, err := json.Marshal(outFrame{Type: typ, Data: data})
	if err != nil {
		p.log.Error("encode frame", "type", typ, "error", err)
		return
	}
	select {
	case p.direct <- payload:
	default:
		p.log.Warn("reply dropped", "type", typ)
	}
}

// write history, then broadcast frames, into conn
func (p *Participant) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	history, err := json.Marshal(outFrame{Type: FrameHistory, Data: p.history})
	p.history = nil
	if err != nil {
		p.log.Error("encode history", "error", err)
		return
	}
	if err := p.write(websocket.TextMessage, history); err != nil {
		return
	}

	for {
		select {
		case msg, ok := <-p.sub.C:
			if !ok {
				p.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.write(websocket.TextMessage, msg); err != nil {
				return
			}

		case msg := <-p.direct:
			if err := p.write(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Participant) write(typ int, b []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(typ, b); err != nil {
		p.log.Debug("write", "error", err)
		return err
	}
	return nil
}
