package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardnew/softant/pkg"
)

// DefaultWriteTimeout bounds a single packet write.
const DefaultWriteTimeout = time.Second

// maxQueued bounds the receive queue; the oldest bytes are dropped beyond it.
const maxQueued = 64 * 1024

// Stream implements Driver on top of a Port.
type Stream struct {
	name string
	open OpenFunc

	// WriteTimeout bounds each packet write. Zero selects DefaultWriteTimeout.
	WriteTimeout time.Duration

	mu   sync.Mutex // guards port, ctx and cancel
	port Port

	qmu     sync.Mutex // guards queue, readErr
	queue   []byte
	readErr error
	ready   chan struct{} // signalled when queue grows or readErr is set
	abort   chan struct{} // signalled by Abort

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Driver = (*Stream)(nil)

// NewStream returns a closed Stream that connects through open. The name
// appears in log records.
func NewStream(name string, open OpenFunc) *Stream {
	return &Stream{
		name:    name,
		open:    open,
		readErr: pkg.ErrClosed,
		ready:   make(chan struct{}, 1),
		abort:   make(chan struct{}, 1),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Open connects to the device and starts the reader goroutine.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	port, err := s.open(ctx)
	if err != nil {
		cancel()
		return &pkg.DriverError{Op: "open " + s.name, Err: err}
	}

	s.qmu.Lock()
	s.queue = s.queue[:0]
	s.readErr = nil
	s.qmu.Unlock()
	drain(s.abort)
	drain(s.ready)

	s.port = port
	s.ctx, s.cancel = ctx, cancel

	s.wg.Add(1)
	go s.readLoop(ctx, port)

	pkg.LogInfo(pkg.ComponentDriver, "driver open", "driver", s.name)
	return nil
}

// Close stops the reader goroutine and releases the device.
func (s *Stream) Close() error {
	s.mu.Lock()
	port := s.port
	cancel := s.cancel
	s.port = nil
	s.cancel = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}

	cancel()
	err := port.Close()
	s.wg.Wait()

	s.setReadErr(pkg.ErrClosed)
	pkg.LogInfo(pkg.ComponentDriver, "driver closed", "driver", s.name)
	if err != nil {
		return &pkg.DriverError{Op: "close " + s.name, Err: err}
	}
	return nil
}

// Abort wakes a blocked Read. A Read that is not blocked when Abort is
// called returns pkg.ErrAborted on its next wait.
func (s *Stream) Abort() {
	select {
	case s.abort <- struct{}{}:
	default:
	}
}

// IsOpen reports whether the device is connected.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// =============================================================================
// Data
// =============================================================================

// Read returns up to count queued bytes, waiting at most timeout for the
// first one to arrive.
func (s *Stream) Read(count int, timeout time.Duration) ([]byte, error) {
	if count <= 0 {
		return nil, pkg.ErrInvalidParameter
	}

	var timer *time.Timer
	for {
		s.qmu.Lock()
		if n := len(s.queue); n > 0 {
			if count > n {
				count = n
			}
			out := make([]byte, count)
			copy(out, s.queue)
			s.queue = s.queue[:copy(s.queue, s.queue[count:])]
			s.qmu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return out, nil
		}
		readErr := s.readErr
		s.qmu.Unlock()

		if readErr != nil {
			if timer != nil {
				timer.Stop()
			}
			return nil, &pkg.DriverError{Op: "read " + s.name, Err: readErr}
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-s.ready:
		case <-s.abort:
			timer.Stop()
			return nil, pkg.ErrAborted
		case <-timer.C:
			return nil, pkg.ErrTimeout
		}
	}
}

// Write sends data to the device, split into packets of at most
// PacketSize bytes.
func (s *Stream) Write(data []byte) error {
	s.mu.Lock()
	port, ctx := s.port, s.ctx
	s.mu.Unlock()

	if port == nil {
		return &pkg.DriverError{Op: "write " + s.name, Err: pkg.ErrClosed}
	}

	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	for len(data) > 0 {
		chunk := data
		if len(chunk) > PacketSize {
			chunk = chunk[:PacketSize]
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		n, err := port.WritePacket(wctx, chunk)
		cancel()
		if err != nil {
			return &pkg.DriverError{Op: "write " + s.name, Err: err}
		}
		data = data[n:]
	}
	return nil
}

// =============================================================================
// Reader
// =============================================================================

func (s *Stream) readLoop(ctx context.Context, port Port) {
	defer s.wg.Done()

	var pkt [PacketSize]byte
	for {
		n, err := port.ReadPacket(ctx, pkt[:])
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, pkg.ErrTimeout) {
				continue
			}
			pkg.LogError(pkg.ComponentDriver, "reader stopped", "driver", s.name, "error", err)
			s.setReadErr(err)
			return
		}
		if n == 0 {
			continue
		}

		s.qmu.Lock()
		s.queue = append(s.queue, pkt[:n]...)
		if over := len(s.queue) - maxQueued; over > 0 {
			pkg.LogWarn(pkg.ComponentDriver, "receive queue overflow", "driver", s.name, "dropped", over)
			s.queue = s.queue[:copy(s.queue, s.queue[over:])]
		}
		s.qmu.Unlock()
		signal(s.ready)
	}
}

func (s *Stream) setReadErr(err error) {
	s.qmu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.qmu.Unlock()
	signal(s.ready)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
