package chat

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/andy6609/Multithreading-chat-server/internal/protocol"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatalf("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

// activeSession registers a logged-in session and returns it with the peer
// end of its connection.
func activeSession(t *testing.T, reg *Registry, name string) (*Session, net.Conn) {
	t.Helper()
	srv, cli := tcpPair(t)
	s := reg.Add(srv)
	if name != "" {
		if err := reg.Claim(s, name); err != nil {
			t.Fatalf("claim %s: %v", name, err)
		}
	}
	s.setState(StateActive)
	return s, cli
}

// readMsg reads one server message from conn within d.
func readMsg(t *testing.T, conn net.Conn, d time.Duration) any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	defer conn.SetReadDeadline(time.Time{})
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

// expectSilence fails if conn delivers anything within d.
func expectSilence(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	defer conn.SetReadDeadline(time.Time{})
	msg, err := protocol.ReadMessage(conn)
	if err == nil {
		t.Fatalf("expected no message, got %+v", msg)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}
