package ws

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestConnection(netConn net.Conn) *Connection {
	return newConnection(netConn, "peer-1", zerolog.New(io.Discard), connectionOptions{
		sendBufferSize: 4,
		writeTimeout:   time.Second,
	}, nil)
}

// A disconnect racing in-flight room traffic must never take the process
// down: sends concurrent with Close fail with an error instead.
func TestSendTextDuringCloseDoesNotPanic(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newTestConnection(server)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = c.SendText([]byte("frame"))
		}
	}()

	time.Sleep(time.Millisecond)
	c.Close()
	<-done

	if err := c.SendText([]byte("late")); err == nil {
		t.Fatalf("send after close succeeded")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newTestConnection(server)
	c.Close()
	c.Close()

	select {
	case <-c.Context().Done():
	default:
		t.Fatalf("context not cancelled by close")
	}
}
