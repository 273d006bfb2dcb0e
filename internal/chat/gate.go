package chat

import "sync"

type GateResult int

const (
	GateOK GateResult = iota
	GateAlreadyPaused
	GateNotPaused
)

// Gate holds ordinary broadcasts while paused. It is a checkpoint: the
// consumer looks at it before fanning an ordinary event out and never holds
// it during the fan-out.
type Gate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{} // closed while running
}

func NewGate() *Gate {
	open := make(chan struct{})
	close(open)
	return &Gate{open: open}
}

func (g *Gate) Pause() GateResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return GateAlreadyPaused
	}
	g.paused = true
	g.open = make(chan struct{})
	BroadcastPaused.Set(1)
	return GateOK
}

func (g *Gate) Resume() GateResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return GateNotPaused
	}
	g.paused = false
	close(g.open)
	BroadcastPaused.Set(0)
	return GateOK
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Open returns a channel that is closed while the gate is running, or will
// be closed by the next Resume.
func (g *Gate) Open() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}
