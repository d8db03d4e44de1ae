package node

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

// Decoder turns a reply message into a result value.
type Decoder func(m message.Message) (any, error)

// expectation describes what resolves a request once it is written.
type expectation int

const (
	// expectNone completes the request as soon as it is written.
	expectNone expectation = iota
	// expectResponse waits for the channel response to the command.
	expectResponse
	// expectReply waits for a message with the requested ID.
	expectReply
	// expectTransfer waits for the RF event ending an acknowledged transfer.
	expectTransfer
)

func (e expectation) String() string {
	switch e {
	case expectNone:
		return "none"
	case expectResponse:
		return "response"
	case expectReply:
		return "reply"
	case expectTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Request is one outbound message and its completion handle. A Request is
// completed exactly once: by the Pump, by a queue being cleared, or by
// its caller giving up.
type Request struct {
	Msg message.Message

	// Reply is the ID of the message answering a query.
	Reply byte

	// Decode converts the reply into the request's result.
	Decode Decoder

	expect expectation

	// owner holds the waiter once the request has been written.
	owner atomic.Pointer[QueueManager]

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

// NewCommand returns a request completed by the device's channel response
// to m. A system reset has no response and completes once written.
func NewCommand(m message.Message) *Request {
	r := newRequest(m, expectResponse)
	if m.ID == message.IDSystemReset {
		r.expect = expectNone
	}
	return r
}

// NewQuery returns a request completed by the message with ID reply,
// decoded with dec. A nil dec yields the reply message itself.
func NewQuery(m message.Message, reply byte, dec Decoder) *Request {
	r := newRequest(m, expectReply)
	r.Reply = reply
	r.Decode = dec
	return r
}

// NewTransfer returns a request for a data message. Acknowledged data
// completes on EVENT_TRANSFER_TX_COMPLETED or fails with pkg.ErrTxFail;
// broadcast data completes once written.
func NewTransfer(m message.Message) *Request {
	e := expectNone
	if m.ID == message.IDAcknowledgedData || m.ID == message.IDBurstData {
		e = expectTransfer
	}
	return newRequest(m, e)
}

func newRequest(m message.Message, e expectation) *Request {
	return &Request{Msg: m, expect: e, done: make(chan struct{})}
}

// Done is closed once the request completes.
func (r *Request) Done() <-chan struct{} { return r.done }

// Result returns the result and error of a completed request. It returns
// nil, nil while the request is pending.
func (r *Request) Result() (any, error) {
	select {
	case <-r.done:
		return r.result, r.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request completes or ctx is done. When ctx ends
// first the request is cancelled with ctx.Err(); a reply that raced the
// deadline still wins.
func (r *Request) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		r.Cancel(ctx.Err())
	}
	return r.result, r.err
}

// Cancel fails a pending request with err. A request still queued is
// skipped when its turn comes; a written one loses its waiter, so a late
// reply cannot resolve it. Cancel reports false if the request had
// already completed.
func (r *Request) Cancel(err error) bool {
	if !r.complete(nil, err) {
		return false
	}
	if m := r.owner.Load(); m != nil {
		m.withdraw(r)
	}
	pkg.LogDebug(pkg.ComponentQueue, "request cancelled", "message", r.Msg, "error", err)
	return true
}

// finished reports whether the request has completed.
func (r *Request) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// complete resolves the request. It reports whether this call was the one
// that resolved it.
func (r *Request) complete(result any, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.result, r.err = result, err
		close(r.done)
		resolved = true
	})
	return resolved
}

// decode converts the reply message into the request's result.
func (r *Request) decode(m message.Message) (any, error) {
	if r.Decode == nil {
		return m, nil
	}
	return r.Decode(m)
}

func (r *Request) String() string {
	return r.Msg.String() + " (" + r.expect.String() + ")"
}

// =============================================================================
// Reply decoders
// =============================================================================

func decodeCapabilities(m message.Message) (any, error) {
	var c message.Capabilities
	err := message.ParseCapabilities(m, &c)
	return c, err
}

func decodeChannelStatus(m message.Message) (any, error) {
	var s message.ChannelStatus
	err := message.ParseChannelStatus(m, &s)
	return s, err
}

func decodeChannelID(m message.Message) (any, error) {
	var id message.ChannelID
	err := message.ParseChannelID(m, &id)
	return id, err
}

func decodeSerialNumber(m message.Message) (any, error) {
	return message.ParseSerialNumber(m)
}

func decodeVersion(m message.Message) (any, error) {
	return message.ParseVersion(m)
}
