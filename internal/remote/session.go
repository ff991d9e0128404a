package remote

import (
	"context"

	"nhooyr.io/websocket"
)

// session is one live websocket plus the goroutine that reads from it. The
// reader runs for the whole life of the socket so that a request timing out
// does not cancel a Read (which would close the socket).
type session struct {
	conn   *websocket.Conn
	inbox  chan []byte
	stop   chan struct{}
	closed chan struct{}
	err    error
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:   conn,
		inbox:  make(chan []byte, 8),
		stop:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// readLoop forwards inbound messages until the socket fails or the session is
// stopped. onClose is invoked once when the socket fails on its own.
func (s *session) readLoop(onClose func(*session, error)) {
	defer close(s.closed)
	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			s.err = err
			select {
			case <-s.stop:
			default:
				onClose(s, err)
			}
			return
		}
		select {
		case s.inbox <- data:
		case <-s.stop:
			return
		}
	}
}

// drainStale drops messages left over from requests that gave up waiting.
func (s *session) drainStale() int {
	n := 0
	for {
		select {
		case <-s.inbox:
			n++
		default:
			return n
		}
	}
}

func (s *session) close() error {
	close(s.stop)
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	<-s.closed
	return err
}
