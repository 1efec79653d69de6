package proxy

import (
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectClient(t *testing.T) {
	c, err := NewHTTPClient("", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Nil(t, c.Transport)
}

// socks5 is a no-auth, CONNECT-only SOCKS5 server good enough for one test.
func socks5(t *testing.T) (addr string, dialed chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	dialed = make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSocks(conn, dialed)
		}
	}()
	return ln.Addr().String(), dialed
}

func serveSocks(conn net.Conn, dialed chan<- string) {
	defer conn.Close()

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, hdr[1])); err != nil {
		return
	}
	conn.Write([]byte{5, 0})

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil || req[3] != 1 {
		return
	}
	ip := make([]byte, 6)
	if _, err := io.ReadFull(conn, ip); err != nil {
		return
	}
	target := net.JoinHostPort(net.IP(ip[:4]).String(), strconv.Itoa(int(binary.BigEndian.Uint16(ip[4:]))))
	dialed <- target

	up, err := net.Dial("tcp", target)
	if err != nil {
		conn.Write([]byte{5, 1, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer up.Close()
	conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})

	go io.Copy(up, conn)
	io.Copy(conn, up)
}

func TestSocksClientRoutesThroughProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	addr, dialed := socks5(t)
	c, err := NewHTTPClient(addr, 5*time.Second)
	require.NoError(t, err)

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "ok", string(body))
	assert.Equal(t, srv.Listener.Addr().String(), <-dialed)
	c.CloseIdleConnections()
}
