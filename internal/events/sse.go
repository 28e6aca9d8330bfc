package events

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// ErrStreamClosed is returned by writers after Close or a failed write.
var ErrStreamClosed = errors.New("events: stream closed")

// SSEWriter frames events as text/event-stream. It is driven by a single
// goroutine and is not safe for concurrent use.
type SSEWriter struct {
	out    io.Writer
	flush  http.Flusher
	frame  bytes.Buffer
	nextID uint64
	done   bool
}

// NewSSEWriter streams to out, flushing after every frame.
func NewSSEWriter(out io.Writer, flush http.Flusher) *SSEWriter {
	return &SSEWriter{out: out, flush: flush, nextID: 1}
}

// Send writes ev with a sequential id so clients can tell frames apart.
func (s *SSEWriter) Send(ev Event) error {
	payload, err := encode(ev)
	if err != nil {
		return err
	}
	s.frame.Reset()
	s.frame.WriteString("id: ")
	s.frame.WriteString(strconv.FormatUint(s.nextID, 10))
	s.frame.WriteString("\nevent: ")
	s.frame.WriteString(ev.Type)
	s.frame.WriteString("\ndata: ")
	s.frame.Write(payload)
	s.frame.WriteString("\n\n")
	if err := s.emit(); err != nil {
		return err
	}
	s.nextID++
	return nil
}

// Heartbeat writes a comment line that clients ignore.
func (s *SSEWriter) Heartbeat() error {
	s.frame.Reset()
	s.frame.WriteString(": ping\n\n")
	return s.emit()
}

// Close stops further writes.
func (s *SSEWriter) Close() {
	s.done = true
}

func (s *SSEWriter) emit() error {
	if s.done {
		return ErrStreamClosed
	}
	if _, err := s.out.Write(s.frame.Bytes()); err != nil {
		s.done = true
		return err
	}
	s.flush.Flush()
	return nil
}
