package rlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/odit-bit/relay/rabbit/rlog/internal/bpool"
)

const indentWidth = 4

var _ slog.Handler = (*IndentHandler)(nil)

// IndentHandler writes records as indented key: value lines separated by
// "---". Meant for reading logs in a terminal.
type IndentHandler struct {
	opts slog.HandlerOptions
	mu   *sync.Mutex
	out  io.Writer

	// lines rendered by WithAttrs and WithGroup, and the depth they end at
	prefix []byte
	depth  int
}

func NewIndentHandler(w io.Writer, opts slog.HandlerOptions) *IndentHandler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &IndentHandler{opts: opts, mu: &sync.Mutex{}, out: w}
}

// Enabled implements slog.Handler.
func (h *IndentHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *IndentHandler) Handle(_ context.Context, rec slog.Record) error {
	w := lineWriter{buf: bpool.Get()}
	defer w.buf.Release()

	if !rec.Time.IsZero() {
		w.attr(slog.Time(slog.TimeKey, rec.Time))
	}
	w.attr(slog.Any(slog.LevelKey, rec.Level))
	if h.opts.AddSource && rec.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{rec.PC}).Next()
		w.attr(slog.String(slog.SourceKey, f.File+":"+strconv.Itoa(f.Line)))
	}
	w.attr(slog.String(slog.MessageKey, rec.Message))

	w.buf.Write(h.prefix)
	w.depth = h.depth
	rec.Attrs(func(a slog.Attr) bool {
		w.attr(a)
		return true
	})
	w.buf.WriteString("---\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(w.buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *IndentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	w := lineWriter{buf: bpool.Get(), depth: h.depth}
	defer w.buf.Release()
	for _, a := range attrs {
		w.attr(a)
	}
	return h.extend(w.buf.Bytes(), h.depth)
}

// WithGroup implements slog.Handler.
func (h *IndentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	w := lineWriter{buf: bpool.Get(), depth: h.depth}
	defer w.buf.Release()
	w.header(name)
	return h.extend(w.buf.Bytes(), h.depth+1)
}

func (h *IndentHandler) extend(lines []byte, depth int) *IndentHandler {
	h2 := *h
	h2.prefix = append(append(make([]byte, 0, len(h.prefix)+len(lines)), h.prefix...), lines...)
	h2.depth = depth
	return &h2
}

// lineWriter renders attrs one per line, indented by group depth.
type lineWriter struct {
	buf   *bpool.Buffer
	depth int
}

func (w *lineWriter) header(key string) {
	w.buf.Indent(w.depth * indentWidth)
	w.buf.WriteString(key)
	w.buf.WriteString(":\n")
}

func (w *lineWriter) attr(a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	v := a.Value
	if v.Kind() == slog.KindGroup {
		attrs := v.Group()
		if len(attrs) == 0 {
			return
		}
		// a group without a key is inlined
		if a.Key != "" {
			w.header(a.Key)
			w.depth++
			defer func() { w.depth-- }()
		}
		for _, ga := range attrs {
			w.attr(ga)
		}
		return
	}

	w.buf.Indent(w.depth * indentWidth)
	w.buf.WriteString(a.Key)
	w.buf.WriteString(": ")
	switch v.Kind() {
	case slog.KindString:
		w.buf.AppendQuoted(v.String())
	case slog.KindTime:
		w.buf.AppendTime(v.Time(), time.RFC3339Nano)
	case slog.KindInt64:
		w.buf.AppendInt(v.Int64())
	case slog.KindUint64:
		w.buf.AppendUint(v.Uint64())
	case slog.KindFloat64:
		w.buf.AppendFloat(v.Float64())
	case slog.KindBool:
		w.buf.AppendBool(v.Bool())
	case slog.KindDuration:
		w.buf.WriteString(v.Duration().String())
	default:
		fmt.Fprint(w.buf, v.Any())
	}
	w.buf.WriteByte('\n')
}
