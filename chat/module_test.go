package chat

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odit-bit/relay/internal/config"
)

type fakeMono struct {
	cfg config.Config
	mux *chi.Mux
}

func (m *fakeMono) Config() config.Config { return m.cfg }
func (m *fakeMono) Logger() *slog.Logger { return discard }
func (m *fakeMono) Mux() chi.Router { return m.mux }

type recordingForwarder struct {
	mu     sync.Mutex
	frames []string
	done   chan struct{}
}

func (f *recordingForwarder) Forward(ctx context.Context, frames <-chan []byte) error {
	defer close(f.done)
	for frame := range frames {
		f.mu.Lock()
		f.frames = append(f.frames, string(frame))
		f.mu.Unlock()
	}
	return nil
}

func (f *recordingForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type closingArchive struct {
	*memArchive
	closed bool
}

func (a *closingArchive) Close() error {
	a.closed = true
	return nil
}

func Test_Module_start_and_stop(t *testing.T) {
	cfg, err := config.FromEnviron()
	require.NoError(t, err)
	cfg.MaxStoredMemory = 2

	archive := &closingArchive{memArchive: newMemArchive()}
	for _, text := range []string{"a", "b", "c"} {
		msg, err := NewMessage("ann", text, time.Now(), DefaultLimits())
		require.NoError(t, err)
		require.NoError(t, archive.Append(DayOf(msg.TS), msg))
	}

	fwd := &recordingForwarder{done: make(chan struct{})}
	mod := &Module{Archive: archive, Forwarders: []Forwarder{fwd}}
	mono := &fakeMono{cfg: cfg, mux: chi.NewRouter()}
	require.NoError(t, mod.Start(context.Background(), mono))

	assert.Equal(t, []string{"b", "c"}, texts(mod.Store().Snapshot()))

	srv := httptest.NewServer(mono.mux)
	defer srv.Close()

	res, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(`{"nick":"bob","text":"mirrored"}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	assert.Eventually(t, func() bool { return fwd.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mod.Stop(context.Background()))
	<-fwd.done
	assert.True(t, archive.closed)
	assert.Zero(t, mod.Broadcaster().Len())
}

func Test_Module_needs_an_archive(t *testing.T) {
	mod := &Module{}
	err := mod.Start(context.Background(), &fakeMono{mux: chi.NewRouter()})
	assert.Error(t, err)
}

// stallingForwarder blocks on every frame until release is closed.
type stallingForwarder struct {
	release chan struct{}

	mu     sync.Mutex
	frames []string
}

func (f *stallingForwarder) Forward(ctx context.Context, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			select {
			case <-f.release:
			case <-ctx.Done():
				return nil
			}
			f.mu.Lock()
			f.frames = append(f.frames, string(frame))
			f.mu.Unlock()
		}
	}
}

func (f *stallingForwarder) saw(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, frame := range f.frames {
		if strings.Contains(frame, text) {
			return true
		}
	}
	return false
}

func Test_Module_forwarder_resubscribes_after_falling_behind(t *testing.T) {
	cfg, err := config.FromEnviron()
	require.NoError(t, err)
	cfg.SubscriberBuffer = 2

	fwd := &stallingForwarder{release: make(chan struct{})}
	mod := &Module{Archive: newMemArchive(), Forwarders: []Forwarder{fwd}}
	require.NoError(t, mod.Start(context.Background(), &fakeMono{cfg: cfg, mux: chi.NewRouter()}))
	defer mod.Stop(context.Background())

	hub := mod.Broadcaster()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 6; i++ {
		_, err := mod.Store().Append("ann", "backlog")
		require.NoError(t, err)
	}
	// one frame held by the stalled forwarder, two queued, then dropped
	require.Zero(t, hub.Len())

	close(fwd.release)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = mod.Store().Append("ann", "after the backlog")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return fwd.saw("after the backlog") }, 2*time.Second, 10*time.Millisecond)
}

func Test_Module_stop_ends_forwarders(t *testing.T) {
	cfg, err := config.FromEnviron()
	require.NoError(t, err)

	fwd := &recordingForwarder{done: make(chan struct{})}
	mod := &Module{Archive: newMemArchive(), Forwarders: []Forwarder{fwd}}
	require.NoError(t, mod.Start(context.Background(), &fakeMono{cfg: cfg, mux: chi.NewRouter()}))

	require.NoError(t, mod.Stop(context.Background()))
	select {
	case <-fwd.done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder still running after stop")
	}
	assert.True(t, mod.Broadcaster().Closed())
}
