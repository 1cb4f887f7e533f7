package devserver_test

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/omochice/roomchat/internal/devserver"
	"github.com/omochice/roomchat/pkg/protocol"
)

// mockConn is a mock implementation of devserver.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	writtenMu  sync.Mutex
	written    [][]byte
	writeErr   error
	closeOnce  sync.Once
	closed     chan struct{}
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read() ([]byte, error) {
	select {
	case <-m.closed:
		return nil, io.EOF
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() [][]byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.written
}

// Compile-time check that mockConn implements devserver.Conn
var _ devserver.Conn = (*mockConn)(nil)

// received is a decoded server frame.
type received struct {
	Action  protocol.Action   `json:"action"`
	Message string            `json:"message"`
	Target  *protocol.RoomRef `json:"target"`
	Sender  *protocol.User    `json:"sender"`
}

// drain returns every frame currently queued for c without blocking.
func drain(t *testing.T, c *devserver.Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data, ok := <-c.Outgoing:
			if !ok {
				return out
			}
			var f received
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("queued frame %q is not JSON: %v", data, err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}
