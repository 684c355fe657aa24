package rlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mu   sync.Mutex
	logs [][]byte
	keys []string
}

// Publish implements rlog.Publisher.
func (p *mockPublisher) Publish(_ context.Context, body []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := make([]byte, len(body))
	copy(b, body)
	p.logs = append(p.logs, b)
	p.keys = append(p.keys, key)
	return nil
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.logs)
}

type attr struct {
	Key      string        `json:"key"`
	Number   int           `json:"number"`
	Duration time.Duration `json:"duration"`
	Date     time.Time     `json:"date"`
}

type Lmsg struct {
	Msg  string `json:"msg"`
	Attr attr   `json:"attr"`
}

func Test_json(t *testing.T) {
	pub := mockPublisher{}

	now := time.Now()
	date, err := time.Parse(time.RFC3339Nano, now.Round(0).Format(time.RFC3339Nano))
	if err != nil {
		t.Fatal(err)
	}

	expected := Lmsg{
		Msg: "message",
		Attr: attr{
			Key:      "value",
			Number:   12345,
			Duration: 325 * time.Second,
			Date:     date,
		},
	}

	h := NewJSONHandler(nil, &pub, slog.HandlerOptions{})
	logger := slog.New(h)
	logger.Info(expected.Msg, "attr", expected.Attr)

	require.Len(t, pub.logs, 1)
	assert.Equal(t, []string{"INFO"}, pub.keys)

	actual := Lmsg{}
	if err := json.Unmarshal(pub.logs[0], &actual); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, expected, actual)
}

func Test_json_escapes_strings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewJSONHandler(&buf, nil, slog.HandlerOptions{}))

	text := "line one\nline \"two\"\t<b>"
	logger.Warn(text, "nick", `a"b`)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, text, out["msg"])
	assert.Equal(t, `a"b`, out["nick"])
	assert.Equal(t, "WARN", out["level"])
}

func Test_json_groups_and_attrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewJSONHandler(&buf, nil, slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.With("module", "chat").WithGroup("store").Debug("loaded", "days", 3, "ok", true)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "chat", out["module"])
	assert.Equal(t, map[string]any{"days": float64(3), "ok": true}, out["store"])
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
}

func Test_json_drops_empty_trailing_group(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewJSONHandler(&buf, nil, slog.HandlerOptions{}))

	logger.WithGroup("empty").Info("plain")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	_, ok := out["empty"]
	assert.False(t, ok)
}

func Test_json_level_filter(t *testing.T) {
	pub := mockPublisher{}
	logger := slog.New(NewJSONHandler(nil, &pub, slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("hidden")
	logger.Error("shown", "error", assert.AnError)

	require.Len(t, pub.logs, 1)
	assert.Equal(t, []string{"ERROR"}, pub.keys)
	assert.Contains(t, string(pub.logs[0]), assert.AnError.Error())
}

func Test_indent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewIndentHandler(&buf, slog.HandlerOptions{}))

	logger.With("module", "chat").WithGroup("req").Info("join", "remote", "1.2.3.4")

	out := buf.String()
	assert.Contains(t, out, `msg: "join"`)
	assert.Contains(t, out, `module: "chat"`)
	assert.Contains(t, out, "req:\n    remote: \"1.2.3.4\"\n")
	assert.True(t, strings.HasSuffix(out, "---\n"))
}

func Test_indent_nested_groups_and_kinds(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewIndentHandler(&buf, slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.WithGroup("chat").With("subscriber", uint64(7)).Debug("dropped",
		slog.Group("queue", "size", 256, "full", true),
		"wait", 1500*time.Millisecond,
		"error", assert.AnError,
	)

	out := buf.String()
	assert.Contains(t, out, "level: DEBUG\n")
	assert.Contains(t, out, "chat:\n    subscriber: 7\n")
	assert.Contains(t, out, "    queue:\n        size: 256\n        full: true\n")
	assert.Contains(t, out, "    wait: 1.5s\n")
	assert.Contains(t, out, "    error: "+assert.AnError.Error()+"\n")
}

func Test_indent_handlers_do_not_share_prefix(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewIndentHandler(&buf, slog.HandlerOptions{})).With("module", "chat")

	base.With("a", 1).Info("first")
	base.With("b", 2).Info("second")

	records := strings.Split(strings.TrimSuffix(buf.String(), "---\n"), "---\n")
	require.Len(t, records, 2)
	assert.Contains(t, records[0], "a: 1\n")
	assert.NotContains(t, records[1], "a: 1")
	assert.Contains(t, records[1], "b: 2\n")
}

func Test_async_publisher(t *testing.T) {
	pub := mockPublisher{}
	async := NewAsyncPublisher(&pub, 16)

	logger := slog.New(NewJSONHandler(nil, async, slog.HandlerOptions{}))
	for i := 0; i < 5; i++ {
		logger.Info("tick", "n", i)
	}
	require.NoError(t, async.Close())

	assert.Equal(t, 5, pub.count())
}

type blockingPublisher struct {
	release chan struct{}
}

func (p *blockingPublisher) Publish(context.Context, []byte, string) error {
	<-p.release
	return nil
}

func Test_async_publisher_drops_when_full(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	async := NewAsyncPublisher(pub, 1)

	var errs int
	for i := 0; i < 10; i++ {
		if err := async.Publish(context.Background(), []byte("x"), "INFO"); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			errs++
		}
	}
	close(pub.release)
	require.NoError(t, async.Close())

	assert.GreaterOrEqual(t, errs, 8)
}

func Test_new(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "json", "debug", nil)
	require.NoError(t, err)
	logger.Debug("visible")
	assert.Contains(t, buf.String(), `"msg":"visible"`)

	_, err = New(&buf, "xml", "info", nil)
	assert.Error(t, err)

	_, err = New(&buf, "json", "loud", nil)
	assert.Error(t, err)

	l, err := ParseLevel("Warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}

func Test_async_publisher_after_close(t *testing.T) {
	async := NewAsyncPublisher(&mockPublisher{}, 4)
	require.NoError(t, async.Close())
	require.NoError(t, async.Close())

	err := async.Publish(context.Background(), []byte("late"), "INFO")
	assert.ErrorIs(t, err, ErrClosed)

	var buf bytes.Buffer
	logger := slog.New(NewJSONHandler(&buf, async, slog.HandlerOptions{}))
	logger.Info("still local")
	assert.Contains(t, buf.String(), "still local")
}
