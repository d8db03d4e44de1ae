package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
)

// Defaults for Node options.
const (
	DefaultSettleDelay = 600 * time.Millisecond
	DefaultOpTimeout   = 10 * time.Second
)

type options struct {
	networkKey  [message.NetworkKeySize]byte
	network     byte
	settle      time.Duration
	readTimeout time.Duration
	opTimeout   time.Duration
	libConfig   byte
	filter      *profile.Filter
}

// Option configures a Node.
type Option func(*options)

// WithNetworkKey sets the key loaded into network 0 when a channel is
// configured. The default is the ANT+ managed network key.
func WithNetworkKey(key [message.NetworkKeySize]byte) Option {
	return func(o *options) { o.networkKey = key }
}

// WithSettleDelay sets the pause after a system reset.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settle = d }
}

// WithReadTimeout sets the Pump's per-read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithOpTimeout bounds blocking calls whose context has no deadline.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) { o.opTimeout = d }
}

// WithExtendedMessages asks the device to append the extension blocks
// selected by flags (message.LibConfig*) to received data messages.
func WithExtendedMessages(flags byte) Option {
	return func(o *options) { o.libConfig = flags }
}

// WithFilter drops data messages from devices the filter rejects.
func WithFilter(f *profile.Filter) Option {
	return func(o *options) { o.filter = f }
}

// Node is a connected ANT stick and its channels.
type Node struct {
	drv  driver.Driver
	opts options

	mu       sync.RWMutex
	pump     *Pump
	config   *QueueManager
	control  *QueueManager
	tx       *QueueManager
	channels []*Channel
	scanning bool // channel 0 is held by RX scan mode
	caps     message.Capabilities
	serial   uint32
}

// New returns a Node using drv. Call Start to connect.
func New(drv driver.Driver, opts ...Option) *Node {
	o := options{
		networkKey:  message.ANTPlusNetworkKey,
		settle:      DefaultSettleDelay,
		readTimeout: DefaultReadTimeout,
		opTimeout:   DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Node{drv: drv, opts: o}
}

// Start opens the driver, starts the Pump, resets the device and reads
// its capabilities. onSuccess and onFailure are called from the Pump
// goroutine with decoded messages and with errors; either may be nil.
func (n *Node) Start(ctx context.Context, onSuccess func(any), onFailure func(error)) error {
	n.mu.Lock()
	if n.pump != nil && n.pump.Running() {
		n.mu.Unlock()
		return pkg.ErrAlreadyRunning
	}
	if n.pump != nil {
		// A Pump stopped by a transport failure leaves a stale connection.
		n.pump.stop()
		if err := n.drv.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentNode, "close stale driver", "error", err)
		}
	}
	if err := n.drv.Open(); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("open driver: %w", err)
	}
	n.config = NewQueueManager(KindConfig, n.opts.settle)
	n.control = NewQueueManager(KindControl, n.opts.settle)
	n.tx = NewQueueManager(KindTx, n.opts.settle)
	n.channels = nil
	n.scanning = false
	n.pump = newPump(pumpConfig{
		drv:         n.drv,
		config:      n.config,
		control:     n.control,
		tx:          n.tx,
		table:       n,
		filter:      n.opts.filter,
		readTimeout: n.opts.readTimeout,
		onSuccess:   onSuccess,
		onFailure:   onFailure,
		onFatal:     n.onFatal,
	})
	pump := n.pump
	n.mu.Unlock()

	if err := pump.start(); err != nil {
		return err
	}

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	if err := n.handshake(ctx); err != nil {
		n.shutdown(err)
		return err
	}
	pkg.LogInfo(pkg.ComponentNode, "node started",
		"channels", n.caps.MaxChannels, "networks", n.caps.MaxNetworks, "serial", n.serial)
	return nil
}

func (n *Node) handshake(ctx context.Context) error {
	if err := n.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	caps, err := n.GetCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}
	n.mu.Lock()
	n.channels = make([]*Channel, caps.MaxChannels)
	n.mu.Unlock()

	if n.opts.libConfig != 0 {
		if err := n.command(ctx, n.control, message.LibConfig(n.opts.libConfig)); err != nil {
			return fmt.Errorf("extended messages: %w", err)
		}
	}
	if _, err := n.GetSerialNumber(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentNode, "serial number unavailable", "error", err)
	}
	return nil
}

// Stop closes open channels, stops the Pump and closes the driver.
// Channels are closed best effort; failures are logged.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.RLock()
	pump := n.pump
	n.mu.RUnlock()
	if pump == nil {
		return nil
	}

	if pump.Running() {
		ctx, cancel := n.opContext(ctx)
		defer cancel()
		for _, ch := range n.live() {
			if err := ch.Close(ctx); err != nil {
				pkg.LogWarn(pkg.ComponentNode, "close on stop failed", "channel", ch.Number(), "error", err)
			}
		}
		if n.Scanning() {
			if err := n.closeScan(ctx); err != nil {
				pkg.LogWarn(pkg.ComponentNode, "close scan on stop failed", "error", err)
			}
		}
	}
	return n.shutdown(pkg.ErrNotRunning)
}

// shutdown stops the Pump, fails everything outstanding with cause and
// closes the driver.
func (n *Node) shutdown(cause error) error {
	n.mu.Lock()
	pump := n.pump
	n.mu.Unlock()

	pump.stop()
	pump.clear(cause)
	n.abandonAll(cause)

	if err := n.drv.Close(); err != nil {
		return fmt.Errorf("close driver: %w", err)
	}
	pkg.LogInfo(pkg.ComponentNode, "node stopped")
	return nil
}

// onFatal runs on the Pump goroutine after a transport failure. The
// driver is released so the device can be reopened by Start.
func (n *Node) onFatal(err error) {
	n.abandonAll(err)
	if cerr := n.drv.Close(); cerr != nil {
		pkg.LogWarn(pkg.ComponentNode, "close after failure", "error", cerr)
	}
}

func (n *Node) abandonAll(cause error) {
	n.mu.Lock()
	n.scanning = false
	var live []*Channel
	for i, ch := range n.channels {
		if ch != nil {
			live = append(live, ch)
			n.channels[i] = nil
		}
	}
	n.mu.Unlock()
	for _, ch := range live {
		ch.abandon(cause)
	}
}

// IsRunning reports whether the Pump is running.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.pump != nil && n.pump.Running()
}

// Err returns the transport error that stopped the node, if any.
func (n *Node) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.pump == nil {
		return nil
	}
	return n.pump.Err()
}

// Capabilities returns the capabilities read during Start.
func (n *Node) Capabilities() message.Capabilities {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.caps
}

// SerialNumber returns the serial number read during Start.
func (n *Node) SerialNumber() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.serial
}

// =============================================================================
// Device Operations
// =============================================================================

// Reset resets the device. Channels open before the reset are dropped
// and their pending requests fail with pkg.ErrReset.
func (n *Node) Reset(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	ctx, cancel := n.opContext(ctx)
	defer cancel()
	if err := n.command(ctx, n.controlManager(), message.SystemReset()); err != nil {
		return err
	}
	n.abandonAll(pkg.ErrReset)
	return nil
}

// GetCapabilities queries the device's capabilities.
func (n *Node) GetCapabilities(ctx context.Context) (message.Capabilities, error) {
	v, err := n.query(ctx, message.RequestCapabilities(), message.IDCapabilities, decodeCapabilities)
	if err != nil {
		return message.Capabilities{}, err
	}
	caps := v.(message.Capabilities)
	n.mu.Lock()
	n.caps = caps
	n.mu.Unlock()
	return caps, nil
}

// GetSerialNumber queries the device's serial number.
func (n *Node) GetSerialNumber(ctx context.Context) (uint32, error) {
	v, err := n.query(ctx, message.RequestSerialNumber(), message.IDSerialNumber, decodeSerialNumber)
	if err != nil {
		return 0, err
	}
	serial := v.(uint32)
	n.mu.Lock()
	n.serial = serial
	n.mu.Unlock()
	return serial, nil
}

// GetVersion queries the device's firmware version.
func (n *Node) GetVersion(ctx context.Context) (string, error) {
	v, err := n.query(ctx, message.RequestVersion(), message.IDVersion, decodeVersion)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetChannelStatus queries the state of channel num.
func (n *Node) GetChannelStatus(ctx context.Context, num int) (message.ChannelStatus, error) {
	if err := n.checkChannel(num); err != nil {
		return message.ChannelStatus{}, err
	}
	v, err := n.query(ctx, message.RequestChannelStatus(byte(num)), message.IDChannelStatus, decodeChannelStatus)
	if err != nil {
		return message.ChannelStatus{}, err
	}
	return v.(message.ChannelStatus), nil
}

// GetChannelID queries the ID of the device paired on channel num.
func (n *Node) GetChannelID(ctx context.Context, num int) (message.ChannelID, error) {
	if err := n.checkChannel(num); err != nil {
		return message.ChannelID{}, err
	}
	v, err := n.query(ctx, message.RequestChannelID(byte(num)), message.IDChannelID, decodeChannelID)
	if err != nil {
		return message.ChannelID{}, err
	}
	return v.(message.ChannelID), nil
}

// =============================================================================
// Channel Operations
// =============================================================================

// OpenChannel configures and opens channel num for profile p, searching
// for deviceNumber (0 pairs with any device of the profile's type). It
// returns once the device accepted the open command; pairing continues
// in the background.
func (n *Node) OpenChannel(ctx context.Context, num int, p profile.Profile, deviceNumber uint16) (int, error) {
	if err := n.checkRunning(); err != nil {
		return -1, err
	}
	if err := p.Validate(); err != nil {
		return -1, err
	}

	n.mu.Lock()
	if num < 0 || num >= len(n.channels) {
		n.mu.Unlock()
		return -1, fmt.Errorf("%w: %d", pkg.ErrInvalidChannel, num)
	}
	if n.channels[num] != nil || (num == 0 && n.scanning) {
		n.mu.Unlock()
		return -1, fmt.Errorf("%w: %d", pkg.ErrChannelInUse, num)
	}
	ch := newChannel(channelConfig{
		number:       num,
		network:      n.opts.network,
		key:          n.opts.networkKey,
		profile:      p,
		deviceNumber: deviceNumber,
		opTimeout:    n.opts.opTimeout,
		config:       n.config,
		tx:           n.tx,
		release:      n.release,
	})
	n.channels[num] = ch
	n.mu.Unlock()

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	if err := ch.Configure(ctx); err != nil {
		ch.discard(ctx, err)
		return -1, err
	}
	if _, err := ch.Open(ctx); err != nil {
		ch.discard(ctx, err)
		return -1, err
	}
	return num, nil
}

// CloseChannel closes channel num and frees its slot.
func (n *Node) CloseChannel(ctx context.Context, num int) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if err := n.checkChannel(num); err != nil {
		return err
	}
	ctx, cancel := n.opContext(ctx)
	defer cancel()
	ch := n.Channel(num)
	if ch == nil {
		if num == 0 && n.Scanning() {
			return n.closeScan(ctx)
		}
		return fmt.Errorf("%w: %d", pkg.ErrChannelNotOpen, num)
	}
	return ch.Close(ctx)
}

// EnableRxScanMode turns channel 0 into a continuous scanner receiving
// every device on the network. Broadcasts from all devices in range are
// delivered to onSuccess carrying their channel ID. The channel stays
// reserved until CloseChannel(0) or a reset.
func (n *Node) EnableRxScanMode(ctx context.Context, key [message.NetworkKeySize]byte, channelType byte) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	n.mu.Lock()
	if len(n.channels) == 0 {
		n.mu.Unlock()
		return fmt.Errorf("%w: 0", pkg.ErrInvalidChannel)
	}
	if n.channels[0] != nil || n.scanning {
		n.mu.Unlock()
		return fmt.Errorf("%w: 0", pkg.ErrChannelInUse)
	}
	n.scanning = true
	config, control := n.config, n.control
	n.mu.Unlock()

	ctx, cancel := n.opContext(ctx)
	defer cancel()

	steps := []struct {
		mgr *QueueManager
		msg message.Message
	}{
		{config, message.SetNetworkKey(0, key)},
		{config, message.AssignChannel(0, channelType, 0)},
		{config, message.SetChannelID(0, 0, 0, 0)},
		{config, message.SetRFFrequency(0, message.DefaultFrequency)},
		{control, message.LibConfig(n.opts.libConfig | message.LibConfigChannelID)},
		{control, message.OpenRxScanMode()},
	}
	for i, step := range steps {
		if err := n.command(ctx, step.mgr, step.msg); err != nil {
			if i > 1 {
				if uerr := n.command(ctx, control, message.UnassignChannel(0)); uerr != nil {
					pkg.LogWarn(pkg.ComponentNode, "unassign after scan failure", "error", uerr)
				}
			}
			n.mu.Lock()
			n.scanning = false
			n.mu.Unlock()
			return fmt.Errorf("rx scan mode: %v: %w", step.msg, err)
		}
	}
	pkg.LogInfo(pkg.ComponentNode, "rx scan mode enabled", "channelType", channelType)
	return nil
}

// Scanning reports whether channel 0 is in RX scan mode.
func (n *Node) Scanning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scanning
}

func (n *Node) closeScan(ctx context.Context) error {
	control := n.controlManager()
	if err := n.command(ctx, control, message.CloseChannel(0)); err != nil {
		return err
	}
	if err := n.command(ctx, control, message.UnassignChannel(0)); err != nil {
		return err
	}
	n.mu.Lock()
	n.scanning = false
	n.mu.Unlock()
	pkg.LogInfo(pkg.ComponentNode, "rx scan mode closed")
	return nil
}

// SendTx sends data message m on channel num and waits for it to go out.
// Acknowledged data waits for the peer's acknowledgement and fails with
// pkg.ErrTxFail when none arrives. Messages queue until the channel has
// paired. A nil error means success.
func (n *Node) SendTx(ctx context.Context, num int, m message.Message) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	if err := n.checkChannel(num); err != nil {
		return err
	}
	if !message.IsDataID(m.ID) || m.Channel() != num {
		return fmt.Errorf("%w: %v is not a data message for channel %d", pkg.ErrInvalidParameter, m, num)
	}
	ch := n.Channel(num)
	if ch == nil {
		return fmt.Errorf("%w: %d", pkg.ErrChannelNotOpen, num)
	}

	ctx, cancel := n.opContext(ctx)
	defer cancel()
	r := NewTransfer(m)
	ch.txQ.Put(r)
	_, err := r.Wait(ctx)
	return err
}

// SendTxRetry calls SendTx until it succeeds, fails with an error other
// than pkg.ErrTxFail, or attempts sends were made. Attempts <= 0 retries
// until ctx is done.
func (n *Node) SendTxRetry(ctx context.Context, num int, m message.Message, attempts int) error {
	var err error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		if err = n.SendTx(ctx, num, m); !errors.Is(err, pkg.ErrTxFail) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pkg.LogDebug(pkg.ComponentNode, "retrying transmission", "channel", num, "attempt", i+1)
	}
	return err
}

// Channel returns the channel in slot num, or nil.
func (n *Node) Channel(num int) *Channel {
	return n.channel(num)
}

// Channels returns a snapshot of the open channels.
func (n *Node) Channels() []Info {
	live := n.live()
	infos := make([]Info, len(live))
	for i, ch := range live {
		infos[i] = ch.Info()
	}
	return infos
}

// =============================================================================
// Internals
// =============================================================================

func (n *Node) channel(num int) *Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if num < 0 || num >= len(n.channels) {
		return nil
	}
	return n.channels[num]
}

func (n *Node) live() []*Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	live := make([]*Channel, 0, len(n.channels))
	for _, ch := range n.channels {
		if ch != nil {
			live = append(live, ch)
		}
	}
	return live
}

// release clears ch's slot if it still holds ch.
func (n *Node) release(ch *Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if num := ch.Number(); num < len(n.channels) && n.channels[num] == ch {
		n.channels[num] = nil
	}
}

func (n *Node) checkRunning() error {
	if !n.IsRunning() {
		return pkg.ErrNotRunning
	}
	return nil
}

func (n *Node) checkChannel(num int) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if num < 0 || num >= len(n.channels) {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidChannel, num)
	}
	return nil
}

func (n *Node) controlManager() *QueueManager {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.control
}

// opContext applies the operation timeout when ctx has no deadline.
func (n *Node) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || n.opts.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.opts.opTimeout)
}

func (n *Node) command(ctx context.Context, mgr *QueueManager, m message.Message) error {
	r := NewCommand(m)
	mgr.Put(r)
	_, err := r.Wait(ctx)
	return err
}

func (n *Node) query(ctx context.Context, m message.Message, reply byte, dec Decoder) (any, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	ctx, cancel := n.opContext(ctx)
	defer cancel()
	r := NewQuery(m, reply, dec)
	n.controlManager().Put(r)
	return r.Wait(ctx)
}
