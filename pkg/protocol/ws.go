package protocol

import (
	"context"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

type WebSocket struct {
	conn         *ws.Conn
	url          string
	writeTimeout time.Duration
}

func DialWebSocket(ctx context.Context, dialer *ws.Dialer, url string, writeTimeout time.Duration) (*WebSocket, error) {
	log.Debug("Dialing websocket", "url", url)

	if dialer == nil {
		dialer = ws.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &WebSocket{
		conn:         conn,
		url:          url,
		writeTimeout: writeTimeout,
	}, nil
}

func (web *WebSocket) Write(payload []byte) error {
	log.Debug("Write ws", "msg", string(payload))
	if web.writeTimeout > 0 {
		_ = web.conn.SetWriteDeadline(time.Now().Add(web.writeTimeout))
	}
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

// read waits for the next frame. The returned state is Open while the
// connection lives, Closed after the peer hung up cleanly and Failed on any
// other error.
func (web *WebSocket) read() ([]byte, State, error) {
	_, msg, err := web.conn.ReadMessage()
	switch {
	case err == nil:
		log.Debug("Read ws", "msg", string(msg))
		return msg, Open, nil
	case IsPeerClose(err):
		return nil, Closed, err
	default:
		return nil, Failed, err
	}
}

// Close says goodbye to the peer and drops the connection. A blocked read
// then reports Failed.
func (web *WebSocket) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = web.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), deadline)
	return web.conn.Close()
}

// IsPeerClose reports whether err is the peer ending the session on purpose.
func IsPeerClose(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
