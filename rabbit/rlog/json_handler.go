// Package rlog provides slog handlers for the relay. Records go to a writer
// and, optionally, to a Publisher keyed by level name.
package rlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/odit-bit/relay/rabbit/rlog/internal/bpool"
)

var _ slog.Handler = (*JSONHandler)(nil)

type Publisher interface {
	Publish(ctx context.Context, body []byte, key string) error
}

type JSONHandler struct {
	// slog handler
	groups []groupAttr
	opts   slog.HandlerOptions
	mu     *sync.Mutex
	out    io.Writer
	pub    Publisher
}

// NewJSONHandler writes one JSON object per line to w. Either w or pub may
// be nil, not both.
func NewJSONHandler(w io.Writer, pub Publisher, opts slog.HandlerOptions) *JSONHandler {
	if w == nil && pub == nil {
		w = io.Discard
	}
	h := JSONHandler{
		opts: opts,
		mu:   &sync.Mutex{},
		out:  w,
		pub:  pub,
	}

	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return &h
}

// Enabled implements slog.Handler.
func (h *JSONHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.opts.Level.Level()
}

type groupAttr struct {
	name       string
	attributes []slog.Attr
}

func (h *JSONHandler) withGroupAttr(g groupAttr) slog.Handler {
	h2 := *h
	h2.groups = make([]groupAttr, len(h.groups)+1)
	copy(h2.groups, h.groups)
	h2.groups[len(h2.groups)-1] = g
	return &h2
}

// WithAttrs implements slog.Handler.
func (h *JSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.withGroupAttr(groupAttr{attributes: attrs})
}

// WithGroup implements slog.Handler.
func (h *JSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.withGroupAttr(groupAttr{name: name})
}

// Handle implements slog.Handler.
func (h *JSONHandler) Handle(ctx context.Context, rec slog.Record) error {
	state := getJsonBuilder()
	defer state.free()
	state.open()

	// TIME
	if !rec.Time.IsZero() {
		state.appendKey(slog.TimeKey)
		state.appendTime(rec.Time.Round(0))
	}

	// LEVEL
	state.appendAttr(slog.String(slog.LevelKey, rec.Level.String()))

	// SOURCE
	if h.opts.AddSource && rec.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{rec.PC})
		f, _ := fs.Next()
		state.appendAttr(slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", f.File, f.Line)))
	}

	// MESSAGE
	state.appendAttr(slog.String(slog.MessageKey, rec.Message))

	// groups without any attribute below them are left out
	groups := h.groups
	if rec.NumAttrs() == 0 {
		for len(groups) > 0 && groups[len(groups)-1].name != "" {
			groups = groups[:len(groups)-1]
		}
	}

	opened := 0
	for _, g := range groups {
		if g.name != "" {
			state.appendKey(g.name)
			state.open()
			opened++
			continue
		}
		for _, a := range g.attributes {
			state.appendAttr(a)
		}
	}

	// ATTR
	rec.Attrs(func(a slog.Attr) bool {
		state.appendAttr(a)
		return true
	})

	for ; opened > 0; opened-- {
		state.close()
	}
	state.close()
	state.buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	msg := state.buf.Bytes()
	if h.out != nil {
		if _, err := h.out.Write(msg); err != nil {
			return err
		}
	}
	// a full or closed broker queue never hides the local line
	if h.pub != nil {
		return h.pub.Publish(ctx, msg, rec.Level.String())
	}
	return nil
}

type jsonBuilder struct {
	buf   *bpool.Buffer
	comma bool
}

func getJsonBuilder() *jsonBuilder {
	return &jsonBuilder{
		buf: bpool.Get(),
	}
}

func (jb *jsonBuilder) free() {
	jb.buf.Release()
}

func (jb *jsonBuilder) open() {
	jb.buf.WriteByte('{')
	jb.comma = false
}

func (jb *jsonBuilder) close() {
	jb.buf.WriteByte('}')
	jb.comma = true
}

func (jb *jsonBuilder) appendAttr(a slog.Attr) {
	// Resolve the Attr's value before doing anything else.
	a.Value = a.Value.Resolve()
	// Ignore empty Attrs.
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return
		}
		// inline groups without a key
		if a.Key == "" {
			for _, ga := range attrs {
				jb.appendAttr(ga)
			}
			return
		}
		jb.appendKey(a.Key)
		jb.open()
		for _, ga := range attrs {
			jb.appendAttr(ga)
		}
		jb.close()
		return
	}

	// KEY
	jb.appendKey(a.Key)

	//VALUE
	switch a.Value.Kind() {
	case slog.KindString:
		jb.appendString(a.Value.String())

	case slog.KindTime:
		jb.appendTime(a.Value.Time())

	case slog.KindInt64:
		jb.buf.AppendInt(a.Value.Int64())

	case slog.KindUint64:
		jb.buf.AppendUint(a.Value.Uint64())

	case slog.KindFloat64:
		jb.buf.AppendFloat(a.Value.Float64())

	case slog.KindBool:
		jb.buf.AppendBool(a.Value.Bool())

	case slog.KindDuration:
		// Do what json.Marshal does.
		jb.buf.AppendInt(int64(a.Value.Duration()))

	default:
		e := a.Value.Any()
		_, isMarshaler := e.(json.Marshaler)
		if err, ok := e.(error); ok && !isMarshaler {
			jb.appendString(err.Error())
		} else {
			jb.appendJSON(e)
		}
	}
	jb.comma = true
}

func (jb *jsonBuilder) appendTime(a time.Time) {
	jb.buf.WriteByte('"')
	jb.buf.AppendTime(a, time.RFC3339Nano)
	jb.buf.WriteByte('"')
	jb.comma = true
}

func (jb *jsonBuilder) appendKey(key string) {
	if jb.comma {
		jb.buf.WriteByte(',')
	}
	jb.appendString(key)
	jb.buf.WriteByte(':')
	jb.comma = false
}

func (jb *jsonBuilder) appendString(v string) {
	jb.appendJSON(v)
}

func (jb *jsonBuilder) appendJSON(v any) {
	var bb bytes.Buffer
	enc := json.NewEncoder(&bb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		jb.buf.WriteString(`"!ERROR:` + strconv.Quote(err.Error())[1:])
		return
	}
	bs := bb.Bytes()
	jb.buf.Write(bs[:len(bs)-1]) // remove final newline
}
