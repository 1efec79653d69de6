// Package ipc is the daemon's control surface: one JSON request and one
// JSON reply per connection over a unix socket.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	SocketPath = "/tmp/neurahome.sock"

	CmdStop      = "stop"
	CmdReconnect = "reconnect"
	CmdStatus    = "status"

	ioTimeout = 5 * time.Second
)

var ErrInUse = errors.New("control socket in use")

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func Fail(format string, args ...any) Reply {
	return Reply{Message: fmt.Sprintf(format, args...)}
}

// Ok builds a successful reply; data, when not nil, is marshalled into Data.
func Ok(msg string, data any) Reply {
	r := Reply{OK: true, Message: msg}
	if data == nil {
		return r
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail("encode reply: %v", err)
	}
	r.Data = raw
	return r
}

type Handler func(ctx context.Context, msg ControlMessage) Reply

type Server struct {
	ln   net.Listener
	path string
	wg   sync.WaitGroup
}

// Listen binds the socket, replacing a stale one left by a previous run. A
// socket somebody still answers on is left alone.
func Listen(path string) (*Server, error) {
	if path == "" {
		path = SocketPath
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrInUse, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{ln: ln, path: path}, nil
}

func (s *Server) Path() string { return s.path }

// Serve answers requests until ctx is done, then removes the socket and
// waits for in-flight handlers.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer s.wg.Wait()
	defer s.ln.Close()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Failed to accept control connection", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handleConn(ctx, conn, handler)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		return
	}
	log.Debug("Control message", "cmd", msg.Cmd)

	reply := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Failed to reply", "cmd", msg.Cmd, "err", err)
	}
}

func SendCommand(path, cmd string) (Reply, error) {
	if path == "" {
		path = SocketPath
	}
	conn, err := net.DialTimeout("unix", path, ioTimeout)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, fmt.Errorf("send %s: %w", cmd, err)
	}

	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return r, nil
}
