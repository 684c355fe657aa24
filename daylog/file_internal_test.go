package daylog

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odit-bit/relay/chat"
)

func Test_FileLog_sync_failure_leaves_no_record(t *testing.T) {
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	l, err := OpenFileLog(t.TempDir(), true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer l.Close()

	kept, err := chat.NewMessage("ann", "kept", day, chat.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, l.Append(day, kept))

	errSync := errors.New("input/output error")
	l.syncFile = func(*os.File) error { return errSync }

	lost, err := chat.NewMessage("ann", "not durable", day, chat.DefaultLimits())
	require.NoError(t, err)
	assert.ErrorIs(t, l.Append(day, lost), errSync)

	got, err := l.ReadDay(day)
	require.NoError(t, err)
	assert.Equal(t, []chat.Message{kept}, got)

	// the next successful append lands right after the kept record
	l.syncFile = (*os.File).Sync
	next, err := chat.NewMessage("ann", "next", day, chat.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, l.Append(day, next))

	got, err = l.ReadDay(day)
	require.NoError(t, err)
	assert.Equal(t, []chat.Message{kept, next}, got)
}
