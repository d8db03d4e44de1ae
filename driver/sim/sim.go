package sim

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

// Defaults for a simulated stick.
const (
	DefaultMaxChannels       = 8
	DefaultMaxNetworks       = 3
	DefaultSerialNumber      = 0x5A4E5441 // "ATNZ"
	DefaultVersion           = "SIM1.00"
	DefaultBroadcastInterval = 50 * time.Millisecond
	DefaultSearchDelay       = 20 * time.Millisecond
	DefaultSearchTimeout     = 200 * time.Millisecond
	DefaultResetDelay        = 5 * time.Millisecond
)

// Sensor is a simulated ANT+ device the stick can pair with.
type Sensor struct {
	DeviceNumber uint16
	DeviceType   byte
	TransType    byte

	// Page returns the payload of the n-th broadcast. Nil sends a counter.
	Page func(n int) [message.PayloadSize]byte

	// TxFailures is the number of acknowledged messages to fail before
	// acknowledging.
	TxFailures int
}

func (s *Sensor) page(n int) [message.PayloadSize]byte {
	if s.Page != nil {
		return s.Page(n)
	}
	var p [message.PayloadSize]byte
	p[0] = byte(n & 0x7F)
	p[7] = byte(n)
	return p
}

type channelState struct {
	assigned    bool
	open        bool
	tracking    bool
	scanning    bool
	channelType byte
	network     byte
	deviceNum   uint16
	deviceType  byte
	transType   byte
	sensor      *Sensor
	txFailures  int
	gen         int
	cancel      context.CancelFunc
}

// Stick is a simulated ANT stick. Its zero value is not usable; call New.
type Stick struct {
	maxChannels   int
	maxNetworks   int
	serial        uint32
	version       string
	interval      time.Duration
	searchDelay   time.Duration
	searchTimeout time.Duration
	resetDelay    time.Duration
	sensors       []Sensor

	mu       sync.Mutex
	channels []channelState
	libFlags byte
	received []message.Message
	pending  []byte
	out      chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Stick.
type Option func(*Stick)

// WithSensor adds a sensor the stick pairs with when a channel's ID matches.
func WithSensor(s Sensor) Option {
	return func(st *Stick) { st.sensors = append(st.sensors, s) }
}

// WithCapabilities sets the channel and network counts reported.
func WithCapabilities(maxChannels, maxNetworks int) Option {
	return func(st *Stick) { st.maxChannels, st.maxNetworks = maxChannels, maxNetworks }
}

// WithSerialNumber sets the reported serial number.
func WithSerialNumber(n uint32) Option {
	return func(st *Stick) { st.serial = n }
}

// WithBroadcastInterval sets the interval between sensor broadcasts.
func WithBroadcastInterval(d time.Duration) Option {
	return func(st *Stick) { st.interval = d }
}

// WithSearch sets the delay before pairing and the time after which an
// unmatched channel reports a search timeout.
func WithSearch(delay, timeout time.Duration) Option {
	return func(st *Stick) { st.searchDelay, st.searchTimeout = delay, timeout }
}

// New returns a stick with default capabilities and no sensors.
func New(opts ...Option) *Stick {
	st := &Stick{
		maxChannels:   DefaultMaxChannels,
		maxNetworks:   DefaultMaxNetworks,
		serial:        DefaultSerialNumber,
		version:       DefaultVersion,
		interval:      DefaultBroadcastInterval,
		searchDelay:   DefaultSearchDelay,
		searchTimeout: DefaultSearchTimeout,
		resetDelay:    DefaultResetDelay,
	}
	for _, opt := range opts {
		opt(st)
	}
	st.channels = make([]channelState, st.maxChannels)
	return st
}

// Open connects to the stick. It satisfies driver.OpenFunc.
func (st *Stick) Open(ctx context.Context) (driver.Port, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.out != nil {
		return nil, pkg.ErrBusy
	}
	st.out = make(chan []byte, 256)
	st.ctx, st.cancel = context.WithCancel(ctx)
	st.pending = nil
	return &port{st: st, out: st.out, ctx: st.ctx}, nil
}

// Received returns the data messages the host has sent, oldest first.
func (st *Stick) Received() []message.Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]message.Message(nil), st.received...)
}

// ChannelOpen reports whether channel n is open on the stick.
func (st *Stick) ChannelOpen(n int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return n >= 0 && n < len(st.channels) && st.channels[n].open
}

// Scanning reports whether channel 0 is in RX scan mode.
func (st *Stick) Scanning() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.channels[0].scanning
}

// ChannelAssigned reports whether channel n is assigned on the stick.
func (st *Stick) ChannelAssigned(n int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return n >= 0 && n < len(st.channels) && st.channels[n].assigned
}

// Unplug drops the connection as if the stick were removed.
func (st *Stick) Unplug() {
	st.mu.Lock()
	cancel := st.cancel
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (st *Stick) close() {
	st.mu.Lock()
	cancel := st.cancel
	st.resetLocked()
	st.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	st.wg.Wait()

	st.mu.Lock()
	st.out = nil
	st.cancel = nil
	st.mu.Unlock()
}

// =============================================================================
// Port
// =============================================================================

type port struct {
	st  *Stick
	out chan []byte
	ctx context.Context // cancelled by Unplug or Close
}

func (p *port) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.ctx.Done():
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, pkg.ErrNoDevice
	case b := <-p.out:
		return copy(buf, b), nil
	}
}

func (p *port) WritePacket(ctx context.Context, data []byte) (int, error) {
	if p.ctx.Err() != nil {
		return 0, pkg.ErrNoDevice
	}
	p.st.receive(data)
	return len(data), nil
}

func (p *port) Close() error {
	p.st.close()
	return nil
}
