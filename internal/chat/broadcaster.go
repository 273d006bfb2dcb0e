package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BroadcasterOptions struct {
	QueueCapacity int
	SubmitTimeout time.Duration
	WriteTimeout  time.Duration
}

// Broadcaster is the single consumer that fans queued events out to every
// registered session. Producers talk to it only through Submit.
type Broadcaster struct {
	reg    *Registry
	gate   *Gate
	queue  chan Event
	// slots holds one token per ordinary event that is queued or parked, so
	// a pause never lets more than QueueCapacity of them pile up.
	slots  chan struct{}
	opts   BroadcasterOptions
	logger zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewBroadcaster(reg *Registry, opts BroadcasterOptions, logger zerolog.Logger) *Broadcaster {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 10
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = time.Second
	}
	return &Broadcaster{
		reg:    reg,
		gate:   NewGate(),
		queue:  make(chan Event, opts.QueueCapacity),
		slots:  make(chan struct{}, opts.QueueCapacity),
		opts:   opts,
		logger: logger.With().Str("component", "broadcaster").Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Submit enqueues ev, waiting up to the submit timeout for room. Ordinary
// events count against the queue capacity until they are delivered, also
// while the gate holds them. It returns ErrDropped if no room was found in
// time and ErrServerClosed after Stop.
func (b *Broadcaster) Submit(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return ErrServerClosed
	default:
	}

	timer := time.NewTimer(b.opts.SubmitTimeout)
	defer timer.Stop()

	ordinary := !ev.Administrative()
	if ordinary {
		select {
		case b.slots <- struct{}{}:
		case <-timer.C:
			return b.dropped(ev)
		case <-b.stopCh:
			return ErrServerClosed
		}
	}

	select {
	case b.queue <- ev:
		return nil
	case <-timer.C:
		if ordinary {
			b.release()
		}
		return b.dropped(ev)
	case <-b.stopCh:
		if ordinary {
			b.release()
		}
		return ErrServerClosed
	}
}

func (b *Broadcaster) dropped(ev Event) error {
	DroppedEvents.WithLabelValues(ev.label()).Inc()
	b.logger.Warn().Str("kind", ev.label()).Str("sender", ev.Sender).Msg("broadcast queue full, event dropped")
	return ErrDropped
}

// release returns the capacity token of one ordinary event.
func (b *Broadcaster) release() { <-b.slots }

func (b *Broadcaster) Pause() GateResult { return b.gate.Pause() }

func (b *Broadcaster) Resume() GateResult { return b.gate.Resume() }

func (b *Broadcaster) Paused() bool { return b.gate.Paused() }

// Stop signals the Run loop to exit.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Wait blocks until the Run loop has completely finished.
func (b *Broadcaster) Wait() {
	<-b.doneCh
}

// Run is the consumer loop. It never stops reading the queue, so
// administrative events are fanned out as soon as they arrive. Ordinary
// events pass the gate; while it is paused they are parked in arrival order
// and keep their capacity token until the resume delivers them.
func (b *Broadcaster) Run() {
	defer close(b.doneCh)
	b.logger.Debug().Int("capacity", cap(b.queue)).Msg("broadcaster started")

	var held []Event
	for {
		if len(held) > 0 && !b.gate.Paused() {
			for _, ev := range held {
				b.deliver(ev)
				b.release()
			}
			held = held[:0]
			continue
		}

		var resumed <-chan struct{}
		if len(held) > 0 {
			resumed = b.gate.Open()
		}

		select {
		case ev := <-b.queue:
			switch {
			case ev.Administrative():
				b.deliver(ev)
			case len(held) > 0 || b.gate.Paused():
				held = append(held, ev)
			default:
				b.deliver(ev)
				b.release()
			}
		case <-resumed:
		case <-b.stopCh:
			b.drain(held)
			return
		}
	}
}

// drain delivers what is still pending at shutdown. Ordinary events are
// discarded if the gate is paused.
func (b *Broadcaster) drain(held []Event) {
	paused := b.gate.Paused()
	for _, ev := range held {
		if !paused {
			b.deliver(ev)
		}
		b.release()
	}
	for {
		select {
		case ev := <-b.queue:
			if ev.Administrative() {
				b.deliver(ev)
				continue
			}
			if !paused {
				b.deliver(ev)
			}
			b.release()
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(ev Event) {
	start := time.Now()
	label := ev.label()

	// Pick recipients under the registry lock, write after releasing it.
	var recipients []*Session
	b.reg.Iterate(func(s *Session) {
		if wants(s, ev) {
			recipients = append(recipients, s)
		}
	})

	failed := 0
	for _, s := range recipients {
		if err := s.write(b.opts.WriteTimeout, ev.encode); err != nil {
			failed++
			DeliveryFailures.Inc()
			b.logger.Debug().Err(err).Str("session", s.ID().String()).Str("kind", label).Msg("delivery failed")
		}
	}

	EventsTotal.WithLabelValues(label).Inc()
	FanoutDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	b.logger.Trace().Str("kind", label).Int("recipients", len(recipients)).Int("failed", failed).Msg("event delivered")
}

// wants reports whether s should receive ev. Unnamed sessions, and named
// ones whose login response is not out yet, receive nothing. A session never
// hears about its own removal.
func wants(s *Session, ev Event) bool {
	name := s.Name()
	if name == "" || s.State() != StateActive {
		return false
	}
	if ev.Kind == EventUserLeft {
		if s.ID() == ev.Subject {
			return false
		}
		if ev.Subject == uuid.Nil && name == ev.Name {
			return false
		}
	}
	return true
}
