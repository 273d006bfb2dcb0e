package chat

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/andy6609/Multithreading-chat-server/internal/protocol"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server side of one client connection. The connection is
// owned by the session until Close; Close is safe to call from any goroutine
// and any number of times.
type Session struct {
	id     uuid.UUID
	conn   net.Conn
	remote string

	mu   sync.RWMutex
	name string

	state  atomic.Int32
	reason atomic.Uint32

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	limiter *rate.Limiter
}

func newSession(conn net.Conn) *Session {
	s := &Session{
		id:   uuid.New(),
		conn: conn,
	}
	if conn != nil && conn.RemoteAddr() != nil {
		s.remote = conn.RemoteAddr().String()
	}
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) RemoteAddr() string { return s.remote }

// Name returns the claimed display name, empty until login succeeded.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Reason is the departure code reported when the session goes away.
func (s *Session) Reason() protocol.RemoveCode { return protocol.RemoveCode(s.reason.Load()) }

// markError records a communication error unless a kick was recorded first.
func (s *Session) markError() {
	s.reason.CompareAndSwap(uint32(protocol.RemoveLeft), uint32(protocol.RemoveError))
}

// Kick tags the session as kicked and closes its transport. The session's
// own read loop observes the closed connection and runs teardown.
func (s *Session) Kick() {
	s.reason.Store(uint32(protocol.RemoveKicked))
	_ = s.Close()
}

// Close closes the transport exactly once. A blocked Read on the connection
// returns with net.ErrClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}

// EventKind tags the internal broadcast union.
type EventKind int

const (
	EventChat EventKind = iota
	EventUserJoined
	EventUserLeft
)

func (k EventKind) String() string {
	switch k {
	case EventChat:
		return "chat"
	case EventUserJoined:
		return "user_joined"
	case EventUserLeft:
		return "user_left"
	default:
		return "unknown"
	}
}

// Event is one item on the broadcast queue.
type Event struct {
	Kind      EventKind
	Sender    string // chat only; empty marks a system message
	Text      string
	Name      string // joined/left subject
	Code      protocol.RemoveCode
	Subject   uuid.UUID // session the event is about; never receives a user-left
	Timestamp time.Time
}

// Administrative events are delivered even while the gate is paused.
func (e Event) Administrative() bool {
	switch e.Kind {
	case EventUserJoined, EventUserLeft:
		return true
	case EventChat:
		return e.Sender == ""
	default:
		return false
	}
}

func (e Event) label() string {
	if e.Kind == EventChat && e.Sender == "" {
		return "system"
	}
	return e.Kind.String()
}

func (e Event) encode(w io.Writer) error {
	ts := unixSeconds(e.Timestamp)
	switch e.Kind {
	case EventChat:
		return protocol.EncodeChatRelay(w, protocol.ChatRelay{Timestamp: ts, Sender: e.Sender, Text: e.Text})
	case EventUserJoined:
		return protocol.EncodeUserAdded(w, protocol.UserAdded{Timestamp: ts, Name: e.Name})
	case EventUserLeft:
		return protocol.EncodeUserRemoved(w, protocol.UserRemoved{Timestamp: ts, Code: e.Code, Name: e.Name})
	default:
		return errors.New("unknown event kind")
	}
}

func unixSeconds(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

var (
	ErrNameTaken   = errors.New("name taken")
	ErrNameInvalid = errors.New("name invalid")
	// ErrSessionGone is returned when operating on a session that is no
	// longer registered.
	ErrSessionGone = errors.New("session not registered")
	// ErrDropped reports that the broadcast queue stayed full for the whole
	// submit timeout and the event was discarded.
	ErrDropped      = errors.New("broadcast queue full, event dropped")
	ErrServerClosed = errors.New("server closed")
)
