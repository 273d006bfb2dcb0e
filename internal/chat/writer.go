package chat

import (
	"io"
	"time"

	"github.com/andy6609/Multithreading-chat-server/internal/protocol"
)

// write serializes one frame onto the session's connection. Frames from the
// broadcaster and from unicast notices never interleave. A positive timeout
// bounds how long a slow peer can stall the caller.
func (s *Session) write(timeout time.Duration, encode func(io.Writer) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}
	return encode(s.conn)
}

func (s *Session) sendLoginResponse(timeout time.Duration, code protocol.LoginCode, serverName string) error {
	return s.write(timeout, func(w io.Writer) error {
		return protocol.EncodeLoginResponse(w, code, serverName)
	})
}

func (s *Session) sendUserAdded(timeout time.Duration, name string, ts uint64) error {
	return s.write(timeout, func(w io.Writer) error {
		return protocol.EncodeUserAdded(w, protocol.UserAdded{Timestamp: ts, Name: name})
	})
}

// sendNotice delivers a system message to this session only.
func (s *Session) sendNotice(timeout time.Duration, text string) error {
	return s.write(timeout, func(w io.Writer) error {
		return protocol.EncodeChatRelay(w, protocol.ChatRelay{
			Timestamp: unixSeconds(time.Now()),
			Text:      text,
		})
	})
}
