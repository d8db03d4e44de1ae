package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
)

// State is the lifecycle state of a Channel.
type State int

// Channel states, in lifecycle order.
const (
	StateConfiguring State = iota
	StateAssigned
	StateOpening
	StateSearching
	StateTracking
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateAssigned:
		return "assigned"
	case StateOpening:
		return "opening"
	case StateSearching:
		return "searching"
	case StateTracking:
		return "tracking"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RequiredConfigOrder is the order in which a channel's configuration
// commands must reach the device. Later commands are rejected when the
// channel is not yet assigned.
var RequiredConfigOrder = []byte{
	message.IDSetNetworkKey,
	message.IDAssignChannel,
	message.IDChannelID,
	message.IDChannelRFFrequency,
	message.IDChannelPeriod,
	message.IDSearchTimeout,
}

// ValidateConfigOrder checks that ids is exactly RequiredConfigOrder.
func ValidateConfigOrder(ids []byte) error {
	if len(ids) != len(RequiredConfigOrder) {
		return fmt.Errorf("%w: %d config messages, want %d",
			pkg.ErrInvalidParameter, len(ids), len(RequiredConfigOrder))
	}
	for i, id := range ids {
		if id != RequiredConfigOrder[i] {
			return fmt.Errorf("%w: config message %d is %s, want %s", pkg.ErrInvalidParameter,
				i, message.IDName(id), message.IDName(RequiredConfigOrder[i]))
		}
	}
	return nil
}

// event is an item on a channel's output queue.
type event int

const (
	eventPaired event = iota
	eventSearchTimeout
)

// closeWait bounds the wait for EVENT_CHANNEL_CLOSED after a close command.
const closeWait = time.Second

// Info is a snapshot of a channel.
type Info struct {
	Number       int    `json:"number"`
	Profile      string `json:"profile"`
	State        string `json:"state"`
	Network      byte   `json:"network"`
	DeviceNumber uint16 `json:"device_number"`
	DeviceType   byte   `json:"device_type"`
	TransType    byte   `json:"trans_type"`
	Period       uint16 `json:"period"`
	Frequency    int    `json:"frequency"`
	Paired       bool   `json:"paired"`
	Messages     uint64 `json:"messages"`
}

// Channel is one logical ANT channel. It is created by Node.OpenChannel
// and removed from the Node when closed, including after a search timeout.
type Channel struct {
	number    int
	network   byte
	key       [message.NetworkKeySize]byte
	profile   profile.Profile
	opTimeout time.Duration

	config  *QueueManager
	tx      *QueueManager
	release func(*Channel)

	mu           sync.RWMutex
	state        State
	deviceNumber uint16
	deviceType   byte
	transType    byte
	status       message.ChannelStatus

	firstMessage atomic.Bool
	timedOut     atomic.Bool
	started      atomic.Bool
	messages     atomic.Uint64

	ctrlQ *Queue[*Request]
	txQ   *Queue[*Request]
	outQ  *Queue[event]

	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closed     chan struct{}
	closedOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

type channelConfig struct {
	number       int
	network      byte
	key          [message.NetworkKeySize]byte
	profile      profile.Profile
	deviceNumber uint16
	opTimeout    time.Duration
	config       *QueueManager
	tx           *QueueManager
	release      func(*Channel)
}

func newChannel(cfg channelConfig) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		number:       cfg.number,
		network:      cfg.network,
		key:          cfg.key,
		profile:      cfg.profile,
		opTimeout:    cfg.opTimeout,
		config:       cfg.config,
		tx:           cfg.tx,
		release:      cfg.release,
		state:        StateConfiguring,
		deviceNumber: cfg.deviceNumber,
		deviceType:   cfg.profile.DeviceType,
		transType:    cfg.profile.TransType,
		ctrlQ:        NewQueue[*Request](),
		txQ:          NewQueue[*Request](),
		outQ:         NewQueue[event](),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

// Number returns the channel number.
func (c *Channel) Number() int { return c.number }

// Profile returns the profile the channel was opened with.
func (c *Channel) Profile() profile.Profile { return c.profile }

// State returns the current state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// FirstMessage reports whether a broadcast has been received since the
// channel was opened.
func (c *Channel) FirstMessage() bool { return c.firstMessage.Load() }

// DeviceNumber returns the paired device number, or the configured one
// (0 for any) before pairing.
func (c *Channel) DeviceNumber() uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceNumber
}

// DeviceType returns the paired or configured device type.
func (c *Channel) DeviceType() byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceType
}

// Status returns the channel status the device reported after pairing.
func (c *Channel) Status() message.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Info returns a snapshot of the channel.
func (c *Channel) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		Number:       c.number,
		Profile:      c.profile.Name,
		State:        c.state.String(),
		Network:      c.network,
		DeviceNumber: c.deviceNumber,
		DeviceType:   c.deviceType,
		TransType:    c.transType,
		Period:       c.profile.Period,
		Frequency:    c.profile.Frequency,
		Paired:       c.firstMessage.Load(),
		Messages:     c.messages.Load(),
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("channel %d (%s, %s)", c.number, c.profile.Name, c.State())
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		pkg.LogDebug(pkg.ComponentChannel, "state", "channel", c.number, "from", prev, "to", s)
	}
}

// queue returns the channel's private queue of kind k.
func (c *Channel) queue(k Kind) *Queue[*Request] {
	switch k {
	case KindControl:
		return c.ctrlQ
	case KindTx:
		return c.txQ
	default:
		return nil
	}
}

// configMessages returns the configuration sequence in RequiredConfigOrder.
func (c *Channel) configMessages() []message.Message {
	n := byte(c.number)
	c.mu.RLock()
	deviceNumber := c.deviceNumber
	c.mu.RUnlock()
	p := c.profile
	return []message.Message{
		message.SetNetworkKey(c.network, c.key),
		message.AssignChannel(n, p.ChannelType, c.network),
		message.SetChannelID(n, deviceNumber, p.DeviceType, p.TransType),
		message.SetRFFrequency(n, p.Frequency),
		message.SetMessagingPeriod(n, p.Period),
		message.SetSearchTimeout(n, p.SearchTimeout),
	}
}

// Configure sends the configuration sequence on the device-global config
// queue and blocks until the queue is joined. It returns the first
// command the device rejected.
func (c *Channel) Configure(ctx context.Context) error {
	c.setState(StateConfiguring)
	msgs := c.configMessages()
	reqs := make([]*Request, len(msgs))
	for i, m := range msgs {
		reqs[i] = NewCommand(m)
		c.config.Put(reqs[i])
	}
	if err := c.config.Queue().Join(ctx); err != nil {
		for _, r := range reqs {
			r.Cancel(err)
		}
		return fmt.Errorf("configure channel %d: %w", c.number, err)
	}
	for _, r := range reqs {
		if _, err := r.Result(); err != nil {
			return fmt.Errorf("configure channel %d: %s: %w", c.number, message.IDName(r.Msg.ID), err)
		}
	}
	c.setState(StateAssigned)
	return nil
}

// Open sends OpenChannel on the channel's control queue and, once the
// device accepts it, starts the lifecycle goroutine. It returns the
// channel number.
func (c *Channel) Open(ctx context.Context) (int, error) {
	c.setState(StateOpening)
	r := NewCommand(message.OpenChannel(byte(c.number)))
	c.ctrlQ.Put(r)
	if _, err := r.Wait(ctx); err != nil {
		c.setState(StateAssigned)
		return -1, fmt.Errorf("open channel %d: %w", c.number, err)
	}
	c.setState(StateSearching)
	c.started.Store(true)
	go c.run()
	pkg.LogInfo(pkg.ComponentChannel, "channel opened", "channel", c.number, "profile", c.profile.Name)
	return c.number, nil
}

// Close closes and unassigns the channel and stops its lifecycle
// goroutine. CloseChannel is skipped when the device already closed the
// channel after a search timeout. Close is safe to call more than once.
func (c *Channel) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.teardown(ctx, !c.timedOut.Load())
	})
	c.cancel()
	if c.started.Load() {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.closeErr
}

// teardown runs at most once per channel, from Close or from the lifecycle
// goroutine after a search timeout.
func (c *Channel) teardown(ctx context.Context, sendClose bool) error {
	c.setState(StateClosing)
	var errs []error

	if sendClose {
		r := NewCommand(message.CloseChannel(byte(c.number)))
		c.ctrlQ.Put(r)
		if _, err := r.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d: %w", c.number, err))
		} else {
			c.waitClosed(ctx)
		}
	}

	r := NewCommand(message.UnassignChannel(byte(c.number)))
	c.config.Put(r)
	if _, err := r.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unassign channel %d: %w", c.number, err))
	}

	c.cancel()
	c.fail(pkg.ErrChannelNotOpen)
	c.setState(StateClosed)
	if c.release != nil {
		c.release(c)
	}
	pkg.LogInfo(pkg.ComponentChannel, "channel closed", "channel", c.number, "search_timeout", !sendClose)
	return errors.Join(errs...)
}

// discard unassigns a channel that failed to configure or open and
// releases its slot.
func (c *Channel) discard(ctx context.Context, cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause
		r := NewCommand(message.UnassignChannel(byte(c.number)))
		c.config.Put(r)
		if _, err := r.Wait(ctx); err != nil {
			pkg.LogDebug(pkg.ComponentChannel, "unassign after failure", "channel", c.number, "error", err)
		}
		c.cancel()
		c.fail(cause)
		c.setState(StateClosed)
		if c.release != nil {
			c.release(c)
		}
	})
}

// abandon stops the channel without device I/O, after a reset or a
// transport failure.
func (c *Channel) abandon(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.cancel()
		c.fail(err)
		c.setState(StateClosed)
	})
}

// fail completes every request still queued on the channel with err.
func (c *Channel) fail(err error) {
	for _, q := range []*Queue[*Request]{c.ctrlQ, c.txQ} {
		for _, r := range q.drain() {
			r.complete(nil, err)
			q.TaskDone()
		}
	}
	for range c.outQ.drain() {
		c.outQ.TaskDone()
	}
}

// waitClosed waits for the device's EVENT_CHANNEL_CLOSED.
func (c *Channel) waitClosed(ctx context.Context) {
	t := time.NewTimer(closeWait)
	defer t.Stop()
	select {
	case <-c.closed:
	case <-ctx.Done():
	case <-t.C:
		pkg.LogWarn(pkg.ComponentChannel, "no channel closed event", "channel", c.number)
	}
}

// =============================================================================
// Pump notifications
// =============================================================================

// onBroadcast records a received data message. The first one after
// opening signals pairing to the lifecycle goroutine.
func (c *Channel) onBroadcast() bool {
	c.messages.Add(1)
	if c.firstMessage.CompareAndSwap(false, true) {
		c.outQ.Put(eventPaired)
		return true
	}
	return false
}

// onSearchTimeout marks the channel as closing and wakes the lifecycle
// goroutine so it tears the channel down.
func (c *Channel) onSearchTimeout() {
	if !c.timedOut.CompareAndSwap(false, true) {
		return
	}
	c.setState(StateClosing)
	c.outQ.Put(eventSearchTimeout)
}

// onClosed records the device's EVENT_CHANNEL_CLOSED.
func (c *Channel) onClosed() {
	c.closedOnce.Do(func() { close(c.closed) })
}

// =============================================================================
// Lifecycle
// =============================================================================

func (c *Channel) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.outQ.Ready():
		case <-c.txQ.Ready():
		}

		for {
			ev, ok := c.outQ.TryGet()
			if !ok {
				break
			}
			c.outQ.TaskDone()
			switch ev {
			case eventPaired:
				c.track()
			case eventSearchTimeout:
				c.closeOnce.Do(func() {
					ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
					defer cancel()
					c.closeErr = c.teardown(ctx, false)
				})
				return
			}
		}

		if c.State() == StateTracking {
			c.forwardTx()
		}
	}
}

// track moves the channel to Tracking and learns the paired device's ID.
func (c *Channel) track() {
	c.setState(StateTracking)

	ctx, cancel := context.WithTimeout(c.ctx, c.opTimeout)
	defer cancel()

	idReq := NewQuery(message.RequestChannelID(byte(c.number)), message.IDChannelID, decodeChannelID)
	c.ctrlQ.Put(idReq)
	if v, err := idReq.Wait(ctx); err == nil {
		id := v.(message.ChannelID)
		c.mu.Lock()
		c.deviceNumber, c.deviceType, c.transType = id.DeviceNumber, id.DeviceType, id.TransType
		c.mu.Unlock()
	} else {
		pkg.LogWarn(pkg.ComponentChannel, "channel id request failed", "channel", c.number, "error", err)
	}

	stReq := NewQuery(message.RequestChannelStatus(byte(c.number)), message.IDChannelStatus, decodeChannelStatus)
	c.ctrlQ.Put(stReq)
	if v, err := stReq.Wait(ctx); err == nil {
		c.mu.Lock()
		c.status = v.(message.ChannelStatus)
		c.mu.Unlock()
	} else {
		pkg.LogWarn(pkg.ComponentChannel, "channel status request failed", "channel", c.number, "error", err)
	}

	pkg.LogInfo(pkg.ComponentChannel, "channel paired", "channel", c.number,
		"device_number", c.DeviceNumber(), "device_type", c.DeviceType())
}

// forwardTx moves pending transmissions to the device-global tx queue.
func (c *Channel) forwardTx() {
	for {
		r, ok := c.txQ.TryGet()
		if !ok {
			return
		}
		if !r.finished() {
			c.tx.Put(r)
		}
		c.txQ.TaskDone()
	}
}
