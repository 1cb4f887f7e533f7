package devserver

import (
	"github.com/rs/zerolog"
)

// readPump feeds frames from the connection into the hub until the connection fails,
// then unregisters the client.
func readPump(h *Hub, c *Client, log zerolog.Logger) {
	defer h.Unregister(c)

	for {
		data, err := c.Conn.Read()
		if err != nil {
			log.Debug().Err(err).Str("user", c.User.Name).Msg("read loop finished")
			return
		}
		h.Handle(c, data)
	}
}

// writePump drains the outgoing queue. Frames already queued when a write starts are
// attached to the same WebSocket message, separated by newlines.
func writePump(c *Client, log zerolog.Logger) {
	defer c.Conn.Close()

	for data := range c.Outgoing {
		buf := append([]byte(nil), data...)

		n := len(c.Outgoing)
		for i := 0; i < n; i++ {
			next, ok := <-c.Outgoing
			if !ok {
				break
			}
			buf = append(buf, '\n')
			buf = append(buf, next...)
		}

		if err := c.Conn.Write(buf); err != nil {
			log.Warn().Err(err).Str("user", c.User.Name).Msg("failed to write to client")
			return
		}
	}
}
