package chat

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/andy6609/Multithreading-chat-server/internal/protocol"
)

const commandPrefix = '/'

const (
	msgPermissionDenied = "Permission denied!"
	msgPaused           = "Server paused."
	msgResumed          = "Server resumed."
	msgAlreadyPaused    = "Error: Server already paused."
	msgNotPaused        = "Error: Server not paused."
	msgUserNotFound     = "User not found."
	msgKickUsage        = "Usage: /kick <name>"
	msgUnknownCommand   = "Unknown command."
	msgQueueFull        = "Error: Server is busy (Queue full). Message dropped."
	msgRateLimited      = "Error: Rate limit exceeded. Message dropped."
)

type HandlerOptions struct {
	ServerName   string
	AdminName    string
	WriteTimeout time.Duration
	// RatePerSecond limits chat messages per session; zero disables it.
	RatePerSecond float64
	RateBurst     int
}

// Handler runs the per-connection state machine: login, chat loop, admin
// commands and teardown.
type Handler struct {
	reg    *Registry
	bc     *Broadcaster
	opts   HandlerOptions
	logger zerolog.Logger
}

func NewHandler(reg *Registry, bc *Broadcaster, opts HandlerOptions, logger zerolog.Logger) *Handler {
	if opts.AdminName == "" {
		opts.AdminName = "Admin"
	}
	return &Handler{reg: reg, bc: bc, opts: opts, logger: logger}
}

// Serve drives s until its connection ends. It always tears the session
// down before returning.
func (h *Handler) Serve(s *Session) {
	log := h.logger.With().Str("session", s.ID().String()).Str("remote", s.RemoteAddr()).Logger()
	defer h.teardown(s, &log)

	s.setState(StateAuthenticating)
	if !h.authenticate(s, &log) {
		return
	}
	h.chatLoop(s, log)
}

func (h *Handler) authenticate(s *Session, log *zerolog.Logger) bool {
	hdr, err := protocol.ReadHeader(s.conn)
	if err != nil {
		h.readFailed(s, *log, err)
		return false
	}
	if hdr.Type != protocol.TypeLoginRequest {
		log.Warn().Stringer("type", hdr.Type).Msg("expected login request")
		// Consume the body so the close is not turned into a reset that
		// discards the response.
		if _, err := protocol.ReadBody(s.conn, hdr, int(hdr.Length)); err != nil {
			h.readFailed(s, *log, err)
			return false
		}
		h.reject(s, *log, protocol.LoginError)
		return false
	}

	req, err := protocol.DecodeLoginRequest(s.conn, hdr)
	var code protocol.LoginCode
	switch {
	case err == nil:
		code = h.claim(s, req.Name)
	case errors.Is(err, protocol.ErrVersionMismatch):
		code = protocol.LoginVersionMismatch
	case errors.Is(err, protocol.ErrBadMagic), errors.Is(err, protocol.ErrMalformed):
		code = protocol.LoginError
	default:
		h.readFailed(s, *log, err)
		return false
	}
	if code != protocol.LoginSuccess {
		log.Info().Err(err).Str("name", req.Name).Stringer("code", code).Msg("login rejected")
		h.reject(s, *log, code)
		return false
	}

	*log = log.With().Str("name", s.Name()).Logger()
	LoginsTotal.WithLabelValues(code.String()).Inc()
	if err := s.sendLoginResponse(h.opts.WriteTimeout, code, h.opts.ServerName); err != nil {
		log.Debug().Err(err).Msg("login response failed")
		s.markError()
		return false
	}
	// Broadcasts reach the session only from here on, so nothing can
	// overtake the login response.
	s.setState(StateActive)
	log.Info().Msg("user logged in")

	if h.opts.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(h.opts.RatePerSecond), h.opts.RateBurst)
	}

	// Tell the newcomer who is already here, then announce the newcomer to
	// everyone through the queue.
	var present []string
	h.reg.Iterate(func(other *Session) {
		if other == s {
			return
		}
		if name := other.Name(); name != "" {
			present = append(present, name)
		}
	})
	for _, name := range present {
		if err := s.sendUserAdded(h.opts.WriteTimeout, name, 0); err != nil {
			log.Debug().Err(err).Msg("member list write failed")
			s.markError()
			return false
		}
	}

	if err := h.bc.Submit(Event{Kind: EventUserJoined, Name: s.Name(), Subject: s.ID()}); err != nil {
		log.Warn().Err(err).Msg("join announcement not queued")
	}
	return true
}

// claim validates name and commits it in the registry.
func (h *Handler) claim(s *Session, name string) protocol.LoginCode {
	if !ValidName(name) {
		return protocol.LoginNameInvalid
	}
	switch err := h.reg.Claim(s, name); {
	case err == nil:
		return protocol.LoginSuccess
	case errors.Is(err, ErrNameTaken):
		return protocol.LoginNameTaken
	case errors.Is(err, ErrNameInvalid):
		return protocol.LoginNameInvalid
	default:
		return protocol.LoginError
	}
}

func (h *Handler) reject(s *Session, log zerolog.Logger, code protocol.LoginCode) {
	LoginsTotal.WithLabelValues(code.String()).Inc()
	if err := s.sendLoginResponse(h.opts.WriteTimeout, code, h.opts.ServerName); err != nil {
		log.Debug().Err(err).Msg("login response failed")
	}
}

// ValidName reports whether name may be claimed: non-empty printable ASCII
// without quote or backtick characters.
func ValidName(name string) bool {
	if name == "" || len(name) > protocol.MaxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 32 || c > 126 || c == '"' || c == '\'' || c == '`' {
			return false
		}
	}
	return true
}

func (h *Handler) chatLoop(s *Session, log zerolog.Logger) {
	for {
		hdr, err := protocol.ReadHeader(s.conn)
		if err != nil {
			h.readFailed(s, log, err)
			return
		}
		if hdr.Type != protocol.TypeClientToServer {
			log.Debug().Stringer("type", hdr.Type).Msg("ignoring unexpected message")
			if _, err := protocol.ReadBody(s.conn, hdr, int(hdr.Length)); err != nil {
				h.readFailed(s, log, err)
				return
			}
			continue
		}

		text, err := protocol.DecodeClientText(s.conn, hdr)
		if err != nil {
			h.readFailed(s, log, err)
			return
		}
		switch {
		case text == "":
			continue
		case text[0] == commandPrefix:
			h.command(s, log, text)
		default:
			h.relay(s, log, text)
		}
	}
}

func (h *Handler) relay(s *Session, log zerolog.Logger, text string) {
	if s.limiter != nil && !s.limiter.Allow() {
		log.Debug().Msg("chat message rate limited")
		h.notice(s, log, msgRateLimited)
		return
	}
	err := h.bc.Submit(Event{Kind: EventChat, Sender: s.Name(), Text: text})
	if errors.Is(err, ErrDropped) {
		h.notice(s, log, msgQueueFull)
	} else if err != nil {
		log.Debug().Err(err).Msg("chat message not queued")
	}
}

func (h *Handler) command(s *Session, log zerolog.Logger, text string) {
	if s.Name() != h.opts.AdminName {
		log.Info().Str("command", text).Msg("command from non-admin refused")
		h.notice(s, log, msgPermissionDenied)
		return
	}

	// Only the separator after the command is stripped; names may carry
	// leading or trailing spaces of their own.
	cmd, arg, _ := strings.Cut(text, " ")
	switch cmd {
	case "/pause":
		if h.bc.Pause() != GateOK {
			h.notice(s, log, msgAlreadyPaused)
			return
		}
		log.Info().Msg("broadcast paused")
		h.announce(s, log, msgPaused)
	case "/resume":
		if h.bc.Resume() != GateOK {
			h.notice(s, log, msgNotPaused)
			return
		}
		log.Info().Msg("broadcast resumed")
		h.announce(s, log, msgResumed)
	case "/kick":
		if arg == "" {
			h.notice(s, log, msgKickUsage)
			return
		}
		victim, ok := h.reg.Find(arg)
		if !ok {
			h.notice(s, log, msgUserNotFound)
			return
		}
		log.Info().Str("target", arg).Msg("kicking user")
		victim.Kick()
	default:
		h.notice(s, log, msgUnknownCommand)
	}
}

// announce queues a system message for everyone.
func (h *Handler) announce(s *Session, log zerolog.Logger, text string) {
	if err := h.bc.Submit(Event{Kind: EventChat, Text: text}); errors.Is(err, ErrDropped) {
		h.notice(s, log, msgQueueFull)
	}
}

func (h *Handler) notice(s *Session, log zerolog.Logger, text string) {
	if err := s.sendNotice(h.opts.WriteTimeout, text); err != nil {
		log.Debug().Err(err).Str("notice", text).Msg("notice write failed")
	}
}

// readFailed records why the read loop stopped. An orderly close by the peer
// keeps the "left" code and a local close (kick, shutdown) keeps whatever was
// recorded before it.
func (h *Handler) readFailed(s *Session, log zerolog.Logger, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("connection closed")
		return
	}
	s.markError()
	log.Info().Err(err).Msg("connection error")
}

func (h *Handler) teardown(s *Session, log *zerolog.Logger) {
	s.setState(StateClosing)
	name := s.Name()
	removed := h.reg.Remove(s)
	s.setState(StateClosed)
	if !removed {
		return
	}

	code := s.Reason()
	log.Info().Stringer("reason", code).Msg("session closed")
	if name == "" {
		return
	}
	ev := Event{Kind: EventUserLeft, Name: name, Code: code, Subject: s.ID()}
	if err := h.bc.Submit(ev); err != nil {
		log.Warn().Err(err).Msg("leave announcement not queued")
	}
}
