package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andy6609/Multithreading-chat-server/internal/config"
)

type Server struct {
	cfg     config.Config
	logger  zerolog.Logger
	reg     *Registry
	bc      *Broadcaster
	handler *Handler

	mu         sync.Mutex
	listener   net.Listener
	closed     bool
	sessions   sync.WaitGroup
	acceptDone chan struct{}
}

func NewServer(cfg config.Config, logger zerolog.Logger) *Server {
	reg := NewRegistry()
	bc := NewBroadcaster(reg, BroadcasterOptions{
		QueueCapacity: cfg.QueueCapacity,
		SubmitTimeout: cfg.SubmitTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}, logger)
	handler := NewHandler(reg, bc, HandlerOptions{
		ServerName:    cfg.ServerName,
		AdminName:     cfg.AdminName,
		WriteTimeout:  cfg.WriteTimeout,
		RatePerSecond: cfg.RateLimit.PerSecond,
		RateBurst:     cfg.RateLimit.Burst,
	}, logger)

	return &Server{
		cfg:        cfg,
		logger:     logger,
		reg:        reg,
		bc:         bc,
		handler:    handler,
		acceptDone: make(chan struct{}),
	}
}

func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) Broadcaster() *Broadcaster { return s.bc }

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.bc.Run()
	go s.acceptLoop(ln)

	s.logger.Info().Str("addr", ln.Addr().String()).Str("admin", s.cfg.AdminName).Msg("server started")
	return nil
}

// Addr is the bound listen address; nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, disconnects every session, waits for their
// teardown and then stops the broadcaster.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	s.logger.Info().Msg("shutting down")

	if ln != nil {
		_ = ln.Close()
		<-s.acceptDone
	}

	for _, sess := range s.reg.Sessions() {
		_ = sess.Close()
	}
	s.sessions.Wait()

	s.bc.Stop()
	if ln != nil {
		s.bc.Wait()
	}

	s.logger.Info().Msg("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Error().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		sess := s.reg.Add(conn)
		s.logger.Debug().Str("remote", sess.RemoteAddr()).Str("session", sess.ID().String()).Msg("client connected")

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.reg.Remove(sess)
			continue
		}
		s.sessions.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.sessions.Done()
			s.handler.Serve(sess)
		}()
	}
}
