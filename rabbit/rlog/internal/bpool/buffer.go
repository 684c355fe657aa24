// Package bpool pools the byte buffers log records are rendered into.
package bpool

import (
	"strconv"
	"sync"
	"time"
)

const (
	initialSize = 1 << 10
	maxPooled   = 16 << 10
)

// Buffer collects one rendered record. Get one with Get and hand it back
// with Release once its bytes have been written out.
type Buffer struct {
	bs []byte
}

var pool = sync.Pool{
	New: func() any {
		return &Buffer{bs: make([]byte, 0, initialSize)}
	},
}

func Get() *Buffer {
	return pool.Get().(*Buffer)
}

// Release empties b and returns it to the pool. Buffers that grew past
// maxPooled are left to the garbage collector. b must not be used after.
func (b *Buffer) Release() {
	if cap(b.bs) > maxPooled {
		return
	}
	b.bs = b.bs[:0]
	pool.Put(b)
}

// Bytes is valid until Release.
func (b *Buffer) Bytes() []byte { return b.bs }

func (b *Buffer) Len() int { return len(b.bs) }

func (b *Buffer) WriteByte(c byte) error {
	b.bs = append(b.bs, c)
	return nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.bs = append(b.bs, p...)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) (int, error) {
	b.bs = append(b.bs, s...)
	return len(s), nil
}

// Indent appends n spaces.
func (b *Buffer) Indent(n int) {
	for ; n > 0; n-- {
		b.bs = append(b.bs, ' ')
	}
}

func (b *Buffer) AppendInt(v int64) { b.bs = strconv.AppendInt(b.bs, v, 10) }
func (b *Buffer) AppendUint(v uint64) { b.bs = strconv.AppendUint(b.bs, v, 10) }
func (b *Buffer) AppendBool(v bool) { b.bs = strconv.AppendBool(b.bs, v) }
func (b *Buffer) AppendQuoted(s string) { b.bs = strconv.AppendQuote(b.bs, s) }

func (b *Buffer) AppendFloat(v float64) {
	b.bs = strconv.AppendFloat(b.bs, v, 'g', -1, 64)
}

// AppendTime formats t with layout, without the monotonic reading.
func (b *Buffer) AppendTime(t time.Time, layout string) {
	b.bs = t.Round(0).AppendFormat(b.bs, layout)
}
