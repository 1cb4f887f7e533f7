// Package devserver is a loopback chat server speaking the roomchat wire protocol.
// It backs integration tests and local runs of the client.
package devserver

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn abstracts one client connection so the hub can be tested without a socket.
type Conn interface {
	// Read returns the next text message. Control frames are handled internally.
	Read() ([]byte, error)

	// Write sends one text message.
	Write(data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

const closeWriteTimeout = time.Second

// wsConn wraps an upgraded net.Conn using gobwas/ws framing.
// writeMu keeps data frames and the close frame from interleaving.
type wsConn struct {
	conn       net.Conn
	remoteAddr string
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

func newWSConn(conn net.Conn, remoteAddr string) *wsConn {
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	return &wsConn{conn: conn, remoteAddr: remoteAddr}
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return nil, err
		}
		if op == ws.OpText {
			return data, nil
		}
	}
}

func (c *wsConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// Bounds a write in progress so the close frame is not stuck behind it.
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))

		c.writeMu.Lock()
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
		c.writeMu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.remoteAddr
}
