package chat

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

type node struct {
	session    *Session
	prev, next uuid.UUID
}

// Registry is the set of live sessions in insertion order. Sessions live in
// an arena keyed by id; each node records the ids of its neighbours so
// removal is O(1). One mutex serializes every operation, including the
// whole of Iterate.
type Registry struct {
	mu         sync.Mutex
	nodes      map[uuid.UUID]*node
	head, tail uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[uuid.UUID]*node)}
}

// Add registers a new unnamed session for conn and appends it.
func (r *Registry) Add(conn net.Conn) *Session {
	s := newSession(conn)

	r.mu.Lock()
	n := &node{session: s, prev: r.tail}
	if r.tail == uuid.Nil {
		r.head = s.id
	} else {
		r.nodes[r.tail].next = s.id
	}
	r.tail = s.id
	r.nodes[s.id] = n
	r.mu.Unlock()

	ConnectedSessions.Inc()
	return s
}

// Remove unlinks s and closes its transport. It reports whether this call
// did the removal; nil or already removed sessions are a no-op.
func (r *Registry) Remove(s *Session) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	n, ok := r.nodes[s.id]
	if ok {
		if n.prev == uuid.Nil {
			r.head = n.next
		} else {
			r.nodes[n.prev].next = n.next
		}
		if n.next == uuid.Nil {
			r.tail = n.prev
		} else {
			r.nodes[n.next].prev = n.prev
		}
		delete(r.nodes, s.id)
	}
	r.mu.Unlock()

	_ = s.Close()
	if !ok {
		return false
	}
	ConnectedSessions.Dec()
	if s.Name() != "" {
		LoggedInUsers.Dec()
	}
	return true
}

// Find returns the session holding name. Unnamed sessions never match.
func (r *Registry) Find(name string) (*Session, bool) {
	if name == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := r.head; id != uuid.Nil; id = r.nodes[id].next {
		if s := r.nodes[id].session; s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Claim commits name for s if no other live session holds it.
func (r *Registry) Claim(s *Session, name string) error {
	if name == "" {
		return ErrNameInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[s.id]; !ok {
		return ErrSessionGone
	}
	for id := r.head; id != uuid.Nil; id = r.nodes[id].next {
		if other := r.nodes[id].session; other != s && other.Name() == name {
			return ErrNameTaken
		}
	}
	if s.Name() == "" {
		LoggedInUsers.Inc()
	}
	s.setName(name)
	return nil
}

// Iterate calls visit for every live session with the lock held. visit must
// not block: registry mutation and other iterations wait for it.
func (r *Registry) Iterate(visit func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := r.head; id != uuid.Nil; id = r.nodes[id].next {
		visit(r.nodes[id].session)
	}
}

// Sessions returns a snapshot of the live sessions in insertion order.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	r.Iterate(func(s *Session) { out = append(out, s) })
	return out
}

// Names returns the claimed names in insertion order.
func (r *Registry) Names() []string {
	var out []string
	r.Iterate(func(s *Session) {
		if name := s.Name(); name != "" {
			out = append(out, name)
		}
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
