package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
)

// DefaultReadTimeout bounds each read so queued sends go out at least
// once per second when the device is quiet.
const DefaultReadTimeout = time.Second

// channelTable gives the Pump read access to the Node's channel slots.
type channelTable interface {
	channel(n int) *Channel
	live() []*Channel
}

// handler processes one inbound message. A returned error is reported
// through the failure callback; a *pkg.DriverError stops the Pump.
type handler func(p *Pump, m message.Message) error

// handlers is the dispatch table keyed by inbound message ID.
var handlers = map[byte]handler{
	message.IDChannelEvent:     (*Pump).handleChannelEvent,
	message.IDCapabilities:     (*Pump).handleReply,
	message.IDChannelStatus:    (*Pump).handleReply,
	message.IDChannelID:        (*Pump).handleReply,
	message.IDSerialNumber:     (*Pump).handleReply,
	message.IDVersion:          (*Pump).handleReply,
	message.IDBroadcastData:    (*Pump).handleData,
	message.IDAcknowledgedData: (*Pump).handleData,
	message.IDBurstData:        (*Pump).handleData,
	message.IDStartup:          (*Pump).handleStartup,
	message.IDSerialError:      (*Pump).handleSerialError,
}

// Pump is the single goroutine that reads from and writes to the driver.
type Pump struct {
	drv         driver.Driver
	config      *QueueManager
	control     *QueueManager
	tx          *QueueManager
	table       channelTable
	filter      *profile.Filter
	readTimeout time.Duration

	onSuccess func(any)
	onFailure func(error)
	onFatal   func(error)

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

type pumpConfig struct {
	drv         driver.Driver
	config      *QueueManager
	control     *QueueManager
	tx          *QueueManager
	table       channelTable
	filter      *profile.Filter
	readTimeout time.Duration
	onSuccess   func(any)
	onFailure   func(error)
	onFatal     func(error)
}

func newPump(cfg pumpConfig) *Pump {
	p := &Pump{
		drv:         cfg.drv,
		config:      cfg.config,
		control:     cfg.control,
		tx:          cfg.tx,
		table:       cfg.table,
		filter:      cfg.filter,
		readTimeout: cfg.readTimeout,
		onSuccess:   cfg.onSuccess,
		onFailure:   cfg.onFailure,
		onFatal:     cfg.onFatal,
	}
	if p.readTimeout <= 0 {
		p.readTimeout = DefaultReadTimeout
	}
	if p.onSuccess == nil {
		p.onSuccess = func(any) {}
	}
	if p.onFailure == nil {
		p.onFailure = func(error) {}
	}
	return p
}

// start runs the loop in a new goroutine.
func (p *Pump) start() error {
	if !p.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	pkg.LogDebug(pkg.ComponentPump, "started")
	return nil
}

// stop ends the loop, interrupting a pending read, and waits for it.
func (p *Pump) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.drv.Abort()
	<-p.done
	pkg.LogDebug(pkg.ComponentPump, "stopped")
}

// Running reports whether the loop is active.
func (p *Pump) Running() bool { return p.running.Load() }

// Err returns the transport error that stopped the Pump, if any.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pump) run(ctx context.Context) {
	defer close(p.done)
	defer p.running.Store(false)

	for ctx.Err() == nil {
		err := p.step()
		if err == nil {
			continue
		}
		if errors.Is(err, pkg.ErrDriver) {
			if ctx.Err() == nil {
				p.fatal(err)
			}
			return
		}
		pkg.LogDebug(pkg.ComponentPump, "message failure", "error", err)
		p.onFailure(err)
	}
}

// step performs one iteration: config unload, one control message, one
// control message per live channel, one tx message, then one read.
func (p *Pump) step() error {
	if _, err := p.config.SendMessage(p.drv, true); err != nil {
		return asDriverError("write", err)
	}
	if _, err := p.control.SendMessage(p.drv, false); err != nil {
		return asDriverError("write", err)
	}
	if _, err := p.control.SendChannelMessages(p.drv, p.table.live()); err != nil {
		return asDriverError("write", err)
	}
	if _, err := p.tx.SendMessage(p.drv, false); err != nil {
		return asDriverError("write", err)
	}

	m, err := message.ReadFrame(p.drv, p.readTimeout)
	if err != nil {
		if errors.Is(err, pkg.ErrTimeout) || errors.Is(err, pkg.ErrAborted) {
			return nil
		}
		return asDriverError("read", err)
	}
	return p.dispatch(m)
}

// dispatch routes m through the handler table.
func (p *Pump) dispatch(m message.Message) error {
	h, ok := handlers[m.ID]
	if !ok {
		pkg.LogDebug(pkg.ComponentPump, "unhandled message", "message", m)
		p.onSuccess(m)
		return nil
	}
	return h(p, m)
}

// fatal fails every outstanding request with err and reports it.
func (p *Pump) fatal(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	pkg.LogError(pkg.ComponentPump, "transport failure, stopping", "error", err)
	p.clear(err)
	if p.onFatal != nil {
		p.onFatal(err)
	}
	p.onFailure(err)
}

func (p *Pump) clear(err error) {
	for _, m := range p.managers() {
		m.Clear(err)
	}
}

func (p *Pump) managers() []*QueueManager {
	return []*QueueManager{p.config, p.control, p.tx}
}

// match returns the oldest waiter satisfying pred across all managers.
func (p *Pump) match(pred func(*Waiter) bool) (*QueueManager, *Waiter) {
	for _, m := range p.managers() {
		if w := m.Match(pred); w != nil {
			return m, w
		}
	}
	return nil, nil
}

// =============================================================================
// Handlers
// =============================================================================

// handleReply resolves the query waiting for m. Channel status and
// channel ID replies also match on channel number.
func (p *Pump) handleReply(m message.Message) error {
	scoped := m.ID == message.IDChannelStatus || m.ID == message.IDChannelID
	mgr, w := p.match(func(w *Waiter) bool {
		r := w.Request
		return r.expect == expectReply && r.Reply == m.ID &&
			(!scoped || r.Msg.Channel() == m.Channel())
	})
	if w == nil {
		pkg.LogDebug(pkg.ComponentPump, "unsolicited reply", "message", m)
		p.onSuccess(m)
		return nil
	}

	result, err := w.Request.decode(m)
	mgr.Resolve(w, result, err)
	if err != nil {
		return err
	}
	p.onSuccess(result)
	return nil
}

func (p *Pump) handleChannelEvent(m message.Message) error {
	var e message.ChannelEvent
	if err := message.ParseChannelEvent(m, &e); err != nil {
		return err
	}
	if e.IsRF() {
		return p.handleRFEvent(e)
	}
	return p.handleResponse(e)
}

// handleResponse resolves the command e answers. A query is answered by
// a response only when the device rejected it.
func (p *Pump) handleResponse(e message.ChannelEvent) error {
	mgr, w := p.match(func(w *Waiter) bool {
		r := w.Request
		return r.Msg.ID == e.MessageID && r.Msg.Channel() == int(e.Channel) &&
			(r.expect == expectResponse || e.Code != pkg.ResponseNoError)
	})

	err := pkg.NewChannelError(int(e.Channel), e.Code)
	var result any = e
	if err == nil && e.Code != pkg.ResponseNoError {
		// Unmapped codes resolve with their name for diagnostics.
		result = e.Code.String()
		p.onSuccess(result)
	}

	if w == nil {
		pkg.LogDebug(pkg.ComponentPump, "unmatched response", "event", e)
		return err
	}
	mgr.Resolve(w, result, err)
	return nil
}

func (p *Pump) handleRFEvent(e message.ChannelEvent) error {
	ch := p.table.channel(int(e.Channel))
	err := pkg.NewChannelError(int(e.Channel), e.Code)

	switch e.Code {
	case pkg.EventTransferTxCompleted, pkg.EventTransferTxFailed:
		mgr, w := p.match(func(w *Waiter) bool {
			return w.Request.expect == expectTransfer && w.Request.Msg.Channel() == int(e.Channel)
		})
		if w != nil {
			mgr.Resolve(w, e, err)
		}

	case pkg.EventRxSearchTimeout:
		if ch != nil {
			ch.onSearchTimeout()
		}
		pkg.LogInfo(pkg.ComponentPump, "search timeout", "channel", e.Channel)

	case pkg.EventChannelClosed:
		if ch != nil {
			ch.onClosed()
		}
	}

	if err != nil {
		return err
	}
	p.onSuccess(e)
	return nil
}

// handleData delivers a data message and signals pairing on the first
// one received by its channel.
func (p *Pump) handleData(m message.Message) error {
	b, err := message.ParseBroadcast(m)
	if err != nil {
		return err
	}
	if p.filter != nil && !p.filter.Allow(b) {
		return nil
	}
	if ch := p.table.channel(int(b.Channel)); ch != nil && ch.onBroadcast() {
		pkg.LogDebug(pkg.ComponentPump, "first message", "channel", b.Channel)
	}
	p.onSuccess(b)
	return nil
}

// handleStartup invalidates control requests in flight before the reset.
func (p *Pump) handleStartup(m message.Message) error {
	s, err := message.ParseStartup(m)
	if err != nil {
		return err
	}
	if n := p.control.ClearWaiters(pkg.ErrReset); n > 0 {
		pkg.LogInfo(pkg.ComponentPump, "reset invalidated requests", "count", n)
	}
	pkg.LogInfo(pkg.ComponentPump, "device started", "reason", s)
	p.onSuccess(s)
	return nil
}

func (p *Pump) handleSerialError(m message.Message) error {
	return message.ParseSerialError(m)
}

func asDriverError(op string, err error) error {
	if errors.Is(err, pkg.ErrDriver) {
		return err
	}
	return &pkg.DriverError{Op: op, Err: err}
}
