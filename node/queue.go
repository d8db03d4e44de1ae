package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

// Queue is a FIFO whose Join blocks until every item put has been marked
// done with TaskDone.
type Queue[T any] struct {
	mu         sync.Mutex
	items      []T
	unfinished int
	ready      chan struct{}
	idle       chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		ready: make(chan struct{}, 1),
		idle:  make(chan struct{}),
	}
	close(q.idle)
	return q
}

// Put appends item and counts it as unfinished.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++
	q.mu.Unlock()
	q.signal()
}

// TryGet pops the oldest item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

// Get pops the oldest item, blocking until one is available or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryGet(); ok {
			return item, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready receives a value after items were put. Consumers that select over
// several queues wait on it and then call TryGet.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// TaskDone marks one item as finished. Calling it more often than Put
// returns pkg.ErrInvalidParameter and leaves the count at zero.
func (q *Queue[T]) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		pkg.LogWarn(pkg.ComponentQueue, "task done without pending item")
		return fmt.Errorf("%w: task done called too many times", pkg.ErrInvalidParameter)
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
	return nil
}

// Join blocks until every item put has been marked done, or ctx is done.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of items waiting to be taken.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished returns the number of items put but not yet marked done.
func (q *Queue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// drain pops every waiting item. The caller owns their TaskDone.
func (q *Queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// =============================================================================
// Queue Manager
// =============================================================================

// Kind names the purpose of a message queue.
type Kind int

// Queue kinds, in the order the Pump services them.
const (
	KindConfig Kind = iota
	KindControl
	KindTx
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindControl:
		return "control"
	case KindTx:
		return "tx"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Writer sends a frame to the device.
type Writer interface {
	Write(data []byte) error
}

// Waiter records a written request until its reply arrives.
type Waiter struct {
	Request *Request

	// Channel is the channel whose private queue supplied the request, or
	// -1 for the device-global queue.
	Channel int

	origin  *Queue[*Request]
	removed bool
}

// QueueManager owns the device-global queue of one kind and the waiters
// for requests written from it or from the channels' queues of that kind.
type QueueManager struct {
	kind   Kind
	queue  *Queue[*Request]
	settle time.Duration

	mu      sync.Mutex
	waiters []*Waiter
}

// NewQueueManager returns a manager for kind. settle is the pause after
// writing a system reset before any further I/O.
func NewQueueManager(kind Kind, settle time.Duration) *QueueManager {
	return &QueueManager{
		kind:   kind,
		queue:  NewQueue[*Request](),
		settle: settle,
	}
}

// Kind returns the manager's kind.
func (m *QueueManager) Kind() Kind { return m.kind }

// Queue returns the device-global queue.
func (m *QueueManager) Queue() *Queue[*Request] { return m.queue }

// Put enqueues r on the device-global queue.
func (m *QueueManager) Put(r *Request) { m.queue.Put(r) }

// SendMessage writes the oldest request on the global queue, or all of
// them when unload is set. It returns the number written. Cancelled
// requests are skipped. A request that cannot be encoded is failed and
// skipped; a write error is returned.
func (m *QueueManager) SendMessage(w Writer, unload bool) (int, error) {
	sent := 0
	for {
		r, ok := m.queue.TryGet()
		if !ok {
			return sent, nil
		}
		ok, err := m.send(w, r, -1, m.queue)
		if err != nil {
			return sent, err
		}
		if !ok {
			continue
		}
		sent++
		if !unload {
			return sent, nil
		}
	}
}

// SendChannelMessages writes at most one request from the private queue of
// this manager's kind on each channel. Waiters are tagged with the channel
// number and complete the channel's queue item.
func (m *QueueManager) SendChannelMessages(w Writer, channels []*Channel) (int, error) {
	sent := 0
	for _, ch := range channels {
		q := ch.queue(m.kind)
		if q == nil {
			continue
		}
		r, ok := q.TryGet()
		if !ok {
			continue
		}
		ok, err := m.send(w, r, ch.Number(), q)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (m *QueueManager) send(w Writer, r *Request, channel int, origin *Queue[*Request]) (bool, error) {
	if r.finished() {
		pkg.LogDebug(pkg.ComponentQueue, "skipping cancelled request", "kind", m.kind, "message", r.Msg)
		origin.TaskDone()
		return false, nil
	}
	frame, err := r.Msg.MarshalBinary()
	if err != nil {
		pkg.LogWarn(pkg.ComponentQueue, "dropping unencodable message", "kind", m.kind, "message", r.Msg, "error", err)
		r.complete(nil, err)
		origin.TaskDone()
		return false, nil
	}
	if err := w.Write(frame); err != nil {
		r.complete(nil, err)
		origin.TaskDone()
		return false, err
	}
	pkg.LogDebug(pkg.ComponentQueue, "sent", "kind", m.kind, "channel", channel, "message", r.Msg)

	if r.expect == expectNone {
		if r.Msg.ID == message.IDSystemReset && m.settle > 0 {
			time.Sleep(m.settle)
		}
		r.complete(nil, nil)
		origin.TaskDone()
		return true, nil
	}

	// The owner is published before the check so that a concurrent
	// Cancel either sees the waiter or is seen here.
	r.owner.Store(m)
	m.mu.Lock()
	if r.finished() {
		m.mu.Unlock()
		origin.TaskDone()
		return true, nil
	}
	m.waiters = append(m.waiters, &Waiter{Request: r, Channel: channel, origin: origin})
	m.mu.Unlock()
	return true, nil
}

// Match returns the oldest pending waiter satisfying pred, or nil.
// Waiters of cancelled requests never match.
func (m *QueueManager) Match(pred func(*Waiter) bool) *Waiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.waiters {
		if !w.Request.finished() && pred(w) {
			return w
		}
	}
	return nil
}

// RemoveTask removes w and marks its origin queue item done. It reports
// whether w was still pending.
func (m *QueueManager) RemoveTask(w *Waiter) bool {
	if !m.detach(w) {
		return false
	}
	w.origin.TaskDone()
	return true
}

// Resolve removes w, completes its request with result and err, then marks
// the origin queue item done. It reports false when w was already
// resolved.
func (m *QueueManager) Resolve(w *Waiter, result any, err error) bool {
	if !m.detach(w) {
		return false
	}
	w.Request.complete(result, err)
	w.origin.TaskDone()
	return true
}

// withdraw removes the waiter of a cancelled request and marks its origin
// queue item done.
func (m *QueueManager) withdraw(r *Request) {
	m.mu.Lock()
	var found *Waiter
	for i, w := range m.waiters {
		if w.Request == r && !w.removed {
			w.removed = true
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			found = w
			break
		}
	}
	m.mu.Unlock()
	if found != nil {
		found.origin.TaskDone()
	}
}

func (m *QueueManager) detach(w *Waiter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.removed {
		return false
	}
	w.removed = true
	for i, x := range m.waiters {
		if x == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	return true
}

// Clear fails every waiter and every request still on the global queue
// with err. It returns the number of requests failed.
func (m *QueueManager) Clear(err error) int {
	n := m.ClearWaiters(err)
	queued := m.queue.drain()
	for _, r := range queued {
		r.complete(nil, err)
		m.queue.TaskDone()
	}
	return n + len(queued)
}

// ClearWaiters fails every waiter with err, leaving requests that have
// not been written yet on their queues.
func (m *QueueManager) ClearWaiters(err error) int {
	m.mu.Lock()
	waiters := m.waiters
	m.waiters = nil
	for _, w := range waiters {
		w.removed = true
	}
	m.mu.Unlock()

	for _, w := range waiters {
		w.Request.complete(nil, err)
		w.origin.TaskDone()
	}
	if len(waiters) > 0 {
		pkg.LogDebug(pkg.ComponentQueue, "cleared waiters", "kind", m.kind, "count", len(waiters), "error", err)
	}
	return len(waiters)
}

// Pending returns the number of outstanding waiters.
func (m *QueueManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
