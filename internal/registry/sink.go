package registry

import (
	"sync"

	"github.com/pkg/errors"
)

// Close codes carried by a closed Sink, as defined by RFC 6455.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

var (
	ErrSinkClosed = errors.New("outbound queue closed")
	ErrSinkFull   = errors.New("outbound queue overflow")
)

// FrameKind selects the WebSocket frame type used to write a Frame.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

type Frame struct {
	Kind FrameKind
	Data []byte
}

// TextFrame wraps an encoded message in a text frame.
func TextFrame(data []byte) Frame {
	return Frame{Kind: FrameText, Data: data}
}

// Sink is the bounded outbound queue of one connection. Any number of goroutines
// may Send; exactly one writer drains Frames. A full queue closes the sink so a
// stalled client is disconnected instead of growing memory.
type Sink struct {
	mu          sync.RWMutex
	ch          chan Frame
	closed      bool
	closeCode   int
	closeReason string
}

func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 1
	}
	return &Sink{ch: make(chan Frame, capacity)}
}

// Send enqueues f without blocking.
func (s *Sink) Send(f Frame) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSinkClosed
	}
	select {
	case s.ch <- f:
		s.mu.RUnlock()
		return nil
	default:
	}
	s.mu.RUnlock()

	s.CloseWith(ClosePolicyViolation, "send queue overflow")
	return ErrSinkFull
}

// Frames is drained by the connection writer. It is closed after CloseWith.
func (s *Sink) Frames() <-chan Frame {
	return s.ch
}

// CloseWith closes the queue. Only the first call records the close code and reason.
func (s *Sink) CloseWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	close(s.ch)
}

func (s *Sink) Close() {
	s.CloseWith(CloseNormal, "")
}

func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// CloseReason reports the code and reason recorded by the first CloseWith.
func (s *Sink) CloseReason() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeCode, s.closeReason
}

// Len is the number of frames waiting to be written.
func (s *Sink) Len() int {
	return len(s.ch)
}
