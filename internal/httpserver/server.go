// Package httpserver implements the inbound HTTP layer: a raw TCP accept
// loop with one session per connection, each maintaining a bounded FIFO
// response queue so responses are always written in request-arrival order
// even though later requests on the same keep-alive connection may finish
// their handlers before earlier ones.
//
// net/http's Server cannot express this: it reads the next request only
// after the current handler has returned and its response has been fully
// written. Pipelined read-ahead with out-of-order handler completion needs
// direct control of the socket, so this package parses requests with
// http.ReadRequest over a raw net.Conn instead.
package httpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nexroute/backendify/internal/logger"
	"github.com/nexroute/backendify/internal/pipeline"
)

// Options configures the session-level behavior every accepted connection
// gets.
type Options struct {
	Addr              string
	MaxResponseQueue  int
	ReadIdleTimeout   time.Duration
	WriteStuckTimeout time.Duration
}

// Server accepts connections and spawns a session per connection.
type Server struct {
	opts     Options
	pipeline *pipeline.Pipeline
	log      logger.Logger

	listener net.Listener

	mu           sync.Mutex
	sessions     map[*session]struct{}
	shuttingDown bool

	wg sync.WaitGroup
}

// New builds a Server bound to opts.Addr once Start is called.
func New(opts Options, p *pipeline.Pipeline, log logger.Logger) *Server {
	if opts.MaxResponseQueue <= 0 {
		opts.MaxResponseQueue = 32
	}
	if opts.ReadIdleTimeout <= 0 {
		opts.ReadIdleTimeout = 30 * time.Second
	}
	if opts.WriteStuckTimeout <= 0 {
		opts.WriteStuckTimeout = 5 * time.Second
	}
	return &Server{
		opts:     opts,
		pipeline: p,
		log:      log,
		sessions: make(map[*session]struct{}),
	}
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go s.acceptLoop()
	return nil
}

// Addr returns the listener's bound address; only meaningful after Start
// has returned successfully. Useful for tests that bind to ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shuttingDown
			s.mu.Unlock()
			if down {
				return
			}
			s.log.Error("accept failed", logger.Error(err))
			continue
		}

		sess := newSession(conn, s.pipeline, s.log, s.opts, s.untrack)
		s.track(sess)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.serve()
		}()
	}
}

// Stop cancels accept, force-closes every open session so their blocked
// reads/writes unblock, and waits for every session's read loop to exit or
// ctx to expire, whichever comes first. Per-request handler goroutines are
// not waited for.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, sess := range sessions {
		sess.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

// untrack removes sess from the tracking set. The mutex is held only long
// enough to mutate the map; callers must never invoke cancel/close-style
// operations while holding it, since session completion re-enters here.
func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}
