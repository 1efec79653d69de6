package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// socketPath stays well under the unix socket path limit.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "nh")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func serve(t *testing.T, handler Handler) string {
	t.Helper()

	path := socketPath(t)
	srv, err := Listen(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, handler) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return path
}

func TestRoundTrip(t *testing.T) {
	path := serve(t, func(_ context.Context, msg ControlMessage) Reply {
		switch msg.Cmd {
		case CmdStatus:
			return Ok("", map[string]string{"state": "listening"})
		case CmdStop:
			return Ok("stopping", nil)
		default:
			return Fail("unknown command %q", msg.Cmd)
		}
	})

	r, err := SendCommand(path, CmdStatus)
	require.NoError(t, err)
	assert.True(t, r.OK)
	var data map[string]string
	require.NoError(t, json.Unmarshal(r.Data, &data))
	assert.Equal(t, "listening", data["state"])

	r, err = SendCommand(path, CmdStop)
	require.NoError(t, err)
	assert.Equal(t, Reply{OK: true, Message: "stopping"}, r)

	r, err = SendCommand(path, "dance")
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, `unknown command "dance"`, r.Message)
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv, err := Listen(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.Serve(ctx, func(context.Context, ControlMessage) Reply { return Reply{} }))
}

func TestSendWithoutDaemon(t *testing.T) {
	_, err := SendCommand(socketPath(t), CmdStatus)
	assert.Error(t, err)
}

func TestListenLeavesLiveSocketAlone(t *testing.T) {
	path := serve(t, func(context.Context, ControlMessage) Reply {
		return Ok("alive", nil)
	})

	_, err := Listen(path)
	assert.ErrorIs(t, err, ErrInUse)

	r, err := SendCommand(path, CmdStatus)
	require.NoError(t, err)
	assert.Equal(t, "alive", r.Message)
}
