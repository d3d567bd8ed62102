package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexroute/backendify/internal/logger"
	"github.com/nexroute/backendify/internal/pipeline"
)

// responseSlot is one position in a session's FIFO response queue. It is
// created synchronously when a request finishes being read and filled in
// asynchronously once the handler for that request completes, so a slow
// early request never blocks a fast later one from finishing its handler —
// only from being written ahead of turn.
type responseSlot struct {
	ready     bool
	discarded bool
	resp      *pipeline.Response
}

type session struct {
	id       string
	conn     net.Conn
	reader   *bufio.Reader
	pipeline *pipeline.Pipeline
	log      logger.Logger
	opts     Options
	onFinish func(*session)

	mu      sync.Mutex
	queue   []*responseSlot
	writing bool
	closed  bool
}

func newSession(conn net.Conn, p *pipeline.Pipeline, log logger.Logger, opts Options, onFinish func(*session)) *session {
	return &session{
		id:       uuid.NewString(),
		conn:     conn,
		reader:   bufio.NewReader(conn),
		pipeline: p,
		log:      log,
		opts:     opts,
		onFinish: onFinish,
	}
}

// serve reads requests in a loop, dispatching each to a handler goroutine
// without waiting for it to finish, until a read fails (idle timeout, EOF,
// malformed request) or the session is closed for shutdown.
func (s *session) serve() {
	defer s.finish()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadIdleTimeout))

		req, err := http.ReadRequest(s.reader)
		if err != nil {
			return
		}
		receivedAt := time.Now()

		// Drain any request body synchronously, before the next read, so
		// the shared buffered reader is left at the next request's start
		// line regardless of how long the handler takes.
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()

		slot := s.enqueue()
		go s.dispatch(req, receivedAt, slot)
	}
}

func (s *session) dispatch(req *http.Request, receivedAt time.Time, slot *responseSlot) {
	resp := s.handle(req, receivedAt)

	s.mu.Lock()
	discarded := slot.discarded
	if !discarded {
		slot.resp = resp
		slot.ready = true
	}
	s.mu.Unlock()

	if !discarded {
		s.drain()
	}
}

func (s *session) handle(req *http.Request, receivedAt time.Time) *pipeline.Response {
	switch req.URL.Path {
	case "/status":
		return s.pipeline.HandleStatus()
	case "/company":
		return s.pipeline.HandleCompany(context.Background(), receivedAt, req.URL.Query())
	default:
		return &pipeline.Response{StatusCode: 404, ContentType: "text/plain", Body: []byte("Not Found")}
	}
}

// enqueue appends a new pending slot, evicting the oldest queued slot
// (ready or not) when the queue is already at its bound. Only the head is
// ever discarded; later slots are never touched.
func (s *session) enqueue() *responseSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.opts.MaxResponseQueue {
		oldest := s.queue[0]
		oldest.discarded = true
		s.queue = s.queue[1:]
		s.log.Warn("response queue full, dropping oldest pending response",
			logger.String("session", s.id))
	}

	slot := &responseSlot{}
	s.queue = append(s.queue, slot)
	return slot
}

// drain writes every ready response at the head of the queue, in order,
// stopping at the first not-yet-ready slot. A "drop" response occupies its
// slot without producing a write, preserving strict ordering for the
// responses that follow it. At most one goroutine writes at a time.
func (s *session) drain() {
	for {
		s.mu.Lock()
		if s.writing || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		front := s.queue[0]
		if !front.ready {
			s.mu.Unlock()
			return
		}
		s.queue = s.queue[1:]

		if front.resp.Drop {
			s.mu.Unlock()
			continue
		}

		s.writing = true
		s.mu.Unlock()

		ok := s.writeResponse(front.resp)

		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()

		if !ok {
			s.close()
			return
		}
	}
}

func (s *session) writeResponse(resp *pipeline.Response) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteStuckTimeout))

	head := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: keep-alive\r\n\r\n",
		resp.StatusCode, http.StatusText(resp.StatusCode), resp.ContentType, len(resp.Body))

	if _, err := io.WriteString(s.conn, head); err != nil {
		return false
	}
	if _, err := s.conn.Write(resp.Body); err != nil {
		return false
	}
	return true
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.Close()
}

func (s *session) finish() {
	s.close()
	s.onFinish(s)
}
