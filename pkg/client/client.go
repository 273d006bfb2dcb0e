// Package client is a minimal Go client for the chat server's binary
// protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andy6609/Multithreading-chat-server/internal/protocol"
)

// ErrLoginRejected is returned by Login when the server answers with a code
// other than success.
var ErrLoginRejected = errors.New("login rejected")

type Client struct {
	conn       net.Conn
	writeMu    sync.Mutex
	serverName string
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Login sends a login request and waits for the response. A rejection is
// reported as ErrLoginRejected together with the server's code.
func (c *Client) Login(name string) (protocol.LoginCode, error) {
	if err := c.write(func() error { return protocol.EncodeLoginRequest(c.conn, name) }); err != nil {
		return protocol.LoginError, err
	}
	h, err := protocol.ReadHeader(c.conn)
	if err != nil {
		return protocol.LoginError, err
	}
	if h.Type != protocol.TypeLoginResponse {
		return protocol.LoginError, fmt.Errorf("%w: %s", protocol.ErrUnexpectedType, h.Type)
	}
	resp, err := protocol.DecodeLoginResponse(c.conn, h)
	if err != nil {
		return protocol.LoginError, err
	}
	c.serverName = resp.ServerName
	if resp.Code != protocol.LoginSuccess {
		return resp.Code, fmt.Errorf("%w: %s", ErrLoginRejected, resp.Code)
	}
	return resp.Code, nil
}

// ServerName is the name announced in the last login response.
func (c *Client) ServerName() string { return c.serverName }

// Send transmits one chat line or command.
func (c *Client) Send(text string) error {
	return c.write(func() error { return protocol.EncodeClientText(c.conn, text) })
}

// Next blocks for the next server message: a protocol.ChatRelay,
// protocol.UserAdded, protocol.UserRemoved or protocol.LoginResponse.
func (c *Client) Next() (any, error) {
	return protocol.ReadMessage(c.conn)
}

// NextWithin is Next bounded by a read deadline.
func (c *Client) NextWithin(d time.Duration) (any, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return nil, err
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	return c.Next()
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn()
}
