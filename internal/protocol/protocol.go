// Package protocol implements the binary wire format spoken between chat
// clients and the server.
//
// Every frame is a 3 byte header (type, big-endian body length) followed by
// a type specific body. All byte order conversion happens in this package.
package protocol

import (
	"errors"
	"fmt"
)

const (
	MagicRequest  uint32 = 0x0badf00d
	MagicResponse uint32 = 0xc001c001
	Version       uint8  = 0
)

const (
	HeaderSize = 3

	// NameFieldSize is the fixed width of the sender field in a chat relay.
	NameFieldSize = 32
	// MaxNameLen is the longest name carried on the wire.
	MaxNameLen = NameFieldSize - 1
	MaxTextLen = 512

	loginRequestFixed  = 4 + 1
	loginResponseFixed = 4 + 1
	chatRelayFixed     = 8 + NameFieldSize
	userAddedFixed     = 8
	userRemovedFixed   = 8 + 1

	maxLoginRequestBody = loginRequestFixed + NameFieldSize
)

type MessageType uint8

const (
	TypeLoginRequest MessageType = iota
	TypeLoginResponse
	TypeClientToServer
	TypeServerToClient
	TypeUserAdded
	TypeUserRemoved
)

func (t MessageType) String() string {
	switch t {
	case TypeLoginRequest:
		return "login_request"
	case TypeLoginResponse:
		return "login_response"
	case TypeClientToServer:
		return "client_to_server"
	case TypeServerToClient:
		return "server_to_client"
	case TypeUserAdded:
		return "user_added"
	case TypeUserRemoved:
		return "user_removed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// LoginCode is the result carried in a login response.
type LoginCode uint8

const (
	LoginSuccess         LoginCode = 0
	LoginNameTaken       LoginCode = 1
	LoginNameInvalid     LoginCode = 2
	LoginVersionMismatch LoginCode = 3
	LoginError           LoginCode = 255
)

func (c LoginCode) String() string {
	switch c {
	case LoginSuccess:
		return "success"
	case LoginNameTaken:
		return "name_taken"
	case LoginNameInvalid:
		return "name_invalid"
	case LoginVersionMismatch:
		return "version_mismatch"
	case LoginError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// RemoveCode tells peers why a user left.
type RemoveCode uint8

const (
	RemoveLeft   RemoveCode = 0
	RemoveKicked RemoveCode = 1
	RemoveError  RemoveCode = 2
)

func (c RemoveCode) String() string {
	switch c {
	case RemoveLeft:
		return "left"
	case RemoveKicked:
		return "kicked"
	case RemoveError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

type Header struct {
	Type   MessageType
	Length uint16
}

type LoginRequest struct {
	Magic   uint32
	Version uint8
	Name    string
}

type LoginResponse struct {
	Magic      uint32
	Code       LoginCode
	ServerName string
}

// ChatRelay is a server-to-client text message. An empty Sender marks a
// system message.
type ChatRelay struct {
	Timestamp uint64
	Sender    string
	Text      string
}

type UserAdded struct {
	Timestamp uint64
	Name      string
}

type UserRemoved struct {
	Timestamp uint64
	Code      RemoveCode
	Name      string
}

var (
	// ErrTransportClosed reports that the peer closed the stream, possibly
	// in the middle of a frame.
	ErrTransportClosed = errors.New("transport closed")
	ErrMalformed       = errors.New("malformed message")
	ErrBadMagic        = errors.New("bad magic")
	ErrVersionMismatch = errors.New("protocol version mismatch")
	ErrUnexpectedType  = errors.New("unexpected message type")
)

// TransportError wraps an I/O failure other than an orderly close.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "transport " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
