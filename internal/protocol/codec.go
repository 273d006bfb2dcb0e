package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// ReadHeader reads exactly one frame header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if err := readFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:   MessageType(buf[0]),
		Length: binary.BigEndian.Uint16(buf[1:]),
	}, nil
}

// ReadBody reads the body announced by h. A declared length larger than
// limit is clamped before reading; the excess is consumed and thrown away
// so the next header starts at the right offset.
func ReadBody(r io.Reader, h Header, limit int) ([]byte, error) {
	n := int(h.Length)
	excess := 0
	if n > limit {
		excess = n - limit
		n = limit
	}
	body := make([]byte, n)
	if err := readFull(r, body); err != nil {
		return nil, err
	}
	if excess > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(excess)); err != nil {
			return nil, classify("read", err)
		}
	}
	return body, nil
}

// DecodeLoginRequest reads a login request body. The returned request is
// populated as far as it could be parsed; magic and version are checked
// before the name is trusted.
func DecodeLoginRequest(r io.Reader, h Header) (LoginRequest, error) {
	body, err := ReadBody(r, h, maxLoginRequestBody)
	if err != nil {
		return LoginRequest{}, err
	}
	if len(body) < loginRequestFixed {
		return LoginRequest{}, fmt.Errorf("%w: login request body of %d bytes", ErrMalformed, len(body))
	}

	req := LoginRequest{
		Magic:   binary.BigEndian.Uint32(body[0:4]),
		Version: body[4],
	}
	if req.Magic != MagicRequest {
		return req, fmt.Errorf("%w: %#08x", ErrBadMagic, req.Magic)
	}
	if req.Version != Version {
		return req, fmt.Errorf("%w: got %d", ErrVersionMismatch, req.Version)
	}
	req.Name = cString(body[loginRequestFixed:], MaxNameLen)
	return req, nil
}

// DecodeClientText reads the raw text of a client-to-server message.
func DecodeClientText(r io.Reader, h Header) (string, error) {
	body, err := ReadBody(r, h, MaxTextLen)
	if err != nil {
		return "", err
	}
	return cString(body, MaxTextLen), nil
}

func DecodeLoginResponse(r io.Reader, h Header) (LoginResponse, error) {
	body, err := ReadBody(r, h, loginResponseFixed+MaxNameLen)
	if err != nil {
		return LoginResponse{}, err
	}
	if len(body) < loginResponseFixed {
		return LoginResponse{}, fmt.Errorf("%w: login response body of %d bytes", ErrMalformed, len(body))
	}
	resp := LoginResponse{
		Magic:      binary.BigEndian.Uint32(body[0:4]),
		Code:       LoginCode(body[4]),
		ServerName: cString(body[loginResponseFixed:], MaxNameLen),
	}
	if resp.Magic != MagicResponse {
		return resp, fmt.Errorf("%w: %#08x", ErrBadMagic, resp.Magic)
	}
	return resp, nil
}

func DecodeChatRelay(r io.Reader, h Header) (ChatRelay, error) {
	body, err := ReadBody(r, h, chatRelayFixed+MaxTextLen)
	if err != nil {
		return ChatRelay{}, err
	}
	if len(body) < chatRelayFixed {
		return ChatRelay{}, fmt.Errorf("%w: chat relay body of %d bytes", ErrMalformed, len(body))
	}
	return ChatRelay{
		Timestamp: binary.BigEndian.Uint64(body[0:8]),
		Sender:    cString(body[8:chatRelayFixed], MaxNameLen),
		Text:      cString(body[chatRelayFixed:], MaxTextLen),
	}, nil
}

func DecodeUserAdded(r io.Reader, h Header) (UserAdded, error) {
	body, err := ReadBody(r, h, userAddedFixed+MaxNameLen)
	if err != nil {
		return UserAdded{}, err
	}
	if len(body) < userAddedFixed {
		return UserAdded{}, fmt.Errorf("%w: user added body of %d bytes", ErrMalformed, len(body))
	}
	return UserAdded{
		Timestamp: binary.BigEndian.Uint64(body[0:8]),
		Name:      cString(body[userAddedFixed:], MaxNameLen),
	}, nil
}

func DecodeUserRemoved(r io.Reader, h Header) (UserRemoved, error) {
	body, err := ReadBody(r, h, userRemovedFixed+MaxNameLen)
	if err != nil {
		return UserRemoved{}, err
	}
	if len(body) < userRemovedFixed {
		return UserRemoved{}, fmt.Errorf("%w: user removed body of %d bytes", ErrMalformed, len(body))
	}
	return UserRemoved{
		Timestamp: binary.BigEndian.Uint64(body[0:8]),
		Code:      RemoveCode(body[8]),
		Name:      cString(body[userRemovedFixed:], MaxNameLen),
	}, nil
}

// ReadMessage reads one server-to-client frame and decodes its body. The
// returned value is one of LoginResponse, ChatRelay, UserAdded or
// UserRemoved.
func ReadMessage(r io.Reader) (any, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case TypeLoginResponse:
		return DecodeLoginResponse(r, h)
	case TypeServerToClient:
		return DecodeChatRelay(r, h)
	case TypeUserAdded:
		return DecodeUserAdded(r, h)
	case TypeUserRemoved:
		return DecodeUserRemoved(r, h)
	default:
		if _, err := ReadBody(r, h, int(h.Length)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, h.Type)
	}
}

func EncodeLoginRequest(w io.Writer, name string) error {
	name = truncate(name, MaxNameLen)
	var b bytes.Buffer
	b.Grow(HeaderSize + loginRequestFixed + len(name))
	putHeader(&b, TypeLoginRequest, loginRequestFixed+len(name))
	putUint32(&b, MagicRequest)
	b.WriteByte(Version)
	b.WriteString(name)
	return writeFrame(w, b.Bytes())
}

func EncodeClientText(w io.Writer, text string) error {
	text = truncate(text, MaxTextLen)
	var b bytes.Buffer
	b.Grow(HeaderSize + len(text))
	putHeader(&b, TypeClientToServer, len(text))
	b.WriteString(text)
	return writeFrame(w, b.Bytes())
}

func EncodeLoginResponse(w io.Writer, code LoginCode, serverName string) error {
	serverName = truncate(serverName, MaxNameLen)
	var b bytes.Buffer
	b.Grow(HeaderSize + loginResponseFixed + len(serverName))
	putHeader(&b, TypeLoginResponse, loginResponseFixed+len(serverName))
	putUint32(&b, MagicResponse)
	b.WriteByte(byte(code))
	b.WriteString(serverName)
	return writeFrame(w, b.Bytes())
}

// EncodeChatRelay writes a server-to-client message. The sender field is
// always sent at its full width, zero padded.
func EncodeChatRelay(w io.Writer, m ChatRelay) error {
	sender := truncate(m.Sender, MaxNameLen)
	text := truncate(m.Text, MaxTextLen)

	var b bytes.Buffer
	b.Grow(HeaderSize + chatRelayFixed + len(text))
	putHeader(&b, TypeServerToClient, chatRelayFixed+len(text))
	putUint64(&b, m.Timestamp)
	var field [NameFieldSize]byte
	copy(field[:], sender)
	b.Write(field[:])
	b.WriteString(text)
	return writeFrame(w, b.Bytes())
}

func EncodeUserAdded(w io.Writer, m UserAdded) error {
	name := truncate(m.Name, MaxNameLen)
	var b bytes.Buffer
	b.Grow(HeaderSize + userAddedFixed + len(name))
	putHeader(&b, TypeUserAdded, userAddedFixed+len(name))
	putUint64(&b, m.Timestamp)
	b.WriteString(name)
	return writeFrame(w, b.Bytes())
}

func EncodeUserRemoved(w io.Writer, m UserRemoved) error {
	name := truncate(m.Name, MaxNameLen)
	var b bytes.Buffer
	b.Grow(HeaderSize + userRemovedFixed + len(name))
	putHeader(&b, TypeUserRemoved, userRemovedFixed+len(name))
	putUint64(&b, m.Timestamp)
	b.WriteByte(byte(m.Code))
	b.WriteString(name)
	return writeFrame(w, b.Bytes())
}

func putHeader(b *bytes.Buffer, t MessageType, length int) {
	b.WriteByte(byte(t))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(length))
	b.Write(l[:])
}

func putUint32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func putUint64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func writeFrame(w io.Writer, frame []byte) error {
	for len(frame) > 0 {
		n, err := w.Write(frame)
		if err != nil {
			return classify("write", err)
		}
		frame = frame[n:]
	}
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return classify("read", err)
	}
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %s: %w", ErrTransportClosed, op, err)
	}
	return &TransportError{Op: op, Err: err}
}

// truncate cuts s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// cString interprets b as a possibly NUL terminated string of at most n bytes.
func cString(b []byte, n int) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
