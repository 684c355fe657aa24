package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type HandlerOptions struct {
	// AllowedOrigins lists origins allowed to open a websocket. Empty or
	// containing "*" allows every origin.
	AllowedOrigins []string
	RateBurst      int
	RateInterval   time.Duration
}

type Handler struct {
	store    *Store
	hub      *Broadcaster
	opts     HandlerOptions
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(store *Store, hub *Broadcaster, opts HandlerOptions, log *slog.Logger) *Handler {
	h := &Handler{
		store: store,
		hub:   hub,
		opts:  opts,
		log:   log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register mounts the websocket and rest endpoints on r.
func (h *Handler) Register(r chi.Router) {
	//websocket upgrade
	r.Get("/ws", h.handleConnect)

	//rest-http
	r.Get("/messages", h.handleMessages)
	r.Post("/send", h.handleSend)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an http error
		h.log.Warn("websocket upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}

	var limiter *rate.Limiter
	if h.opts.RateBurst > 0 && h.opts.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(h.opts.RateInterval), h.opts.RateBurst)
	}

	p := newParticipant(conn, h.store, h.hub, limiter, h.log)
	p.log.Info("participant join")
	go p.Serve()
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

type sendRequest struct {
	Nick string `json:"nick"`
	Text string `json:"text"`
}

type sendResponse struct {
	OK      bool     `json:"ok"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameSize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: "invalid payload"})
		return
	}

	msg, err := h.store.Append(req.Nick, req.Text)
	switch {
	case errors.Is(err, ErrEmptyText):
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, sendResponse{Error: "failed to send message"})
	default:
		writeJSON(w, http.StatusOK, sendResponse{OK: true, Message: &msg})
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
