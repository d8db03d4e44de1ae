package node

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/driver/sim"
	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
)

var testOptions = []Option{
	WithSettleDelay(20 * time.Millisecond),
	WithReadTimeout(20 * time.Millisecond),
	WithOpTimeout(2 * time.Second),
}

func startNode(t *testing.T, st *sim.Stick, opts ...Option) (*Node, *callbacks) {
	t.Helper()
	n := New(driver.NewStream("sim", st.Open), append(testOptions, opts...)...)
	cb := &callbacks{}
	if err := n.Start(context.Background(), cb.success, cb.failure); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { n.Stop(context.Background()) })
	return n, cb
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (n *Node) pendingWaiters() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.config.Pending() + n.control.Pending() + n.tx.Pending()
}

func TestNode_Start(t *testing.T) {
	st := sim.New(sim.WithCapabilities(8, 3), sim.WithSerialNumber(1234))
	n, cb := startNode(t, st)

	if !n.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	caps := n.Capabilities()
	if caps.MaxChannels != 8 || caps.MaxNetworks != 3 {
		t.Errorf("capabilities = %d/%d, want 8/3", caps.MaxChannels, caps.MaxNetworks)
	}
	if n.SerialNumber() != 1234 {
		t.Errorf("SerialNumber() = %d, want 1234", n.SerialNumber())
	}
	if len(n.Channels()) != 0 {
		t.Errorf("Channels() = %v, want none", n.Channels())
	}

	eventually(t, "startup notification", func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		for _, v := range cb.successes {
			if _, ok := v.(message.Startup); ok {
				return true
			}
		}
		return false
	})

	version, err := n.GetVersion(context.Background())
	if err != nil || version != sim.DefaultVersion {
		t.Errorf("GetVersion() = %q, %v, want %q", version, err, sim.DefaultVersion)
	}

	if err := n.Start(context.Background(), nil, nil); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestNode_OpenCloseHR(t *testing.T) {
	st := sim.New(sim.WithSearch(20*time.Millisecond, 5*time.Second))
	n, _ := startNode(t, st)
	ctx := context.Background()

	num, err := n.OpenChannel(ctx, 0, profile.HR, 0)
	if err != nil || num != 0 {
		t.Fatalf("OpenChannel() = %d, %v, want 0", num, err)
	}
	ch := n.Channel(0)
	if ch == nil {
		t.Fatal("slot 0 empty after open")
	}
	if ch.DeviceType() != 0x78 {
		t.Errorf("DeviceType() = 0x%02X, want 0x78", ch.DeviceType())
	}
	if ch.Profile().Period != 8070 {
		t.Errorf("Period = %d, want 8070", ch.Profile().Period)
	}
	if ch.State() != StateSearching {
		t.Errorf("State() = %v, want searching", ch.State())
	}
	if !st.ChannelOpen(0) {
		t.Error("stick channel 0 not open")
	}

	status, err := n.GetChannelStatus(ctx, 0)
	if err != nil {
		t.Fatalf("GetChannelStatus() = %v", err)
	}
	if status.State != message.StateSearching {
		t.Errorf("status state = %s, want searching", status.StateName())
	}

	if err := n.CloseChannel(ctx, 0); err != nil {
		t.Fatalf("CloseChannel() = %v", err)
	}
	if n.Channel(0) != nil {
		t.Error("slot 0 not empty after close")
	}
	if ch.State() != StateClosed {
		t.Errorf("State() = %v, want closed", ch.State())
	}
	if got := n.pendingWaiters(); got != 0 {
		t.Errorf("pending waiters = %d, want 0", got)
	}
	if st.ChannelAssigned(0) {
		t.Error("stick channel 0 still assigned")
	}

	// The slot can be reused.
	if _, err := n.OpenChannel(ctx, 0, profile.HR, 0); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestNode_SearchTimeoutAutoClose(t *testing.T) {
	st := sim.New(sim.WithSearch(10*time.Millisecond, 50*time.Millisecond))
	n, cb := startNode(t, st)

	if _, err := n.OpenChannel(context.Background(), 1, profile.PWR, 0); err != nil {
		t.Fatalf("OpenChannel() = %v", err)
	}
	ch := n.Channel(1)

	eventually(t, "search timeout failure", func() bool { return cb.failed(pkg.ErrRxSearchTimeout) })
	eventually(t, "slot cleared", func() bool { return n.Channel(1) == nil })

	if ch.State() != StateClosed {
		t.Errorf("State() = %v, want closed", ch.State())
	}
	eventually(t, "channel unassigned", func() bool { return !st.ChannelAssigned(1) })

	var chErr *pkg.ChannelError
	cb.mu.Lock()
	for _, err := range cb.failures {
		if errors.As(err, &chErr) {
			break
		}
	}
	cb.mu.Unlock()
	if chErr == nil || chErr.Channel != 1 {
		t.Errorf("failure = %v, want channel 1 error", chErr)
	}

	if err := n.CloseChannel(context.Background(), 1); !errors.Is(err, pkg.ErrChannelNotOpen) {
		t.Errorf("CloseChannel() after auto-close = %v, want ErrChannelNotOpen", err)
	}
}

func TestNode_PairAndSetGrade(t *testing.T) {
	trainer := sim.Sensor{DeviceNumber: 4321, DeviceType: profile.DeviceTypeFEC, TransType: 5, TxFailures: 2}
	st := sim.New(sim.WithSensor(trainer), sim.WithSearch(10*time.Millisecond, 5*time.Second))
	n, cb := startNode(t, st, WithExtendedMessages(message.LibConfigChannelID))
	ctx := context.Background()

	if _, err := n.OpenChannel(ctx, 0, profile.FEC, 0); err != nil {
		t.Fatalf("OpenChannel() = %v", err)
	}
	ch := n.Channel(0)
	eventually(t, "pairing", func() bool { return ch.FirstMessage() })
	eventually(t, "channel id learned", func() bool { return ch.DeviceNumber() == 4321 })
	if ch.State() != StateTracking {
		t.Errorf("State() = %v, want tracking", ch.State())
	}

	// Two failures, then acknowledged.
	err := n.SendTx(ctx, 0, profile.SetGrade(0, -5))
	if !errors.Is(err, pkg.ErrTxFail) {
		t.Fatalf("SendTx() = %v, want ErrTxFail", err)
	}
	if err := n.SendTxRetry(ctx, 0, profile.SetGrade(0, -5), 3); err != nil {
		t.Fatalf("SendTxRetry() = %v", err)
	}
	if !cb.failed(pkg.ErrTxFail) {
		t.Error("onFailure did not receive ErrTxFail")
	}

	var found bool
	for _, m := range st.Received() {
		if m.ID == message.IDAcknowledgedData && m.Content[1] == profile.PageTrackResistance {
			found = true
			if got := binary.LittleEndian.Uint16(m.Content[6:8]); got != 19500 {
				t.Errorf("grade field = %d, want 19500", got)
			}
		}
	}
	if !found {
		t.Fatal("stick received no track resistance page")
	}

	eventually(t, "broadcasts with channel id", func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		for _, v := range cb.successes {
			if b, ok := v.(*message.Broadcast); ok && b.HasChannelID() && b.DeviceNumber == 4321 {
				return true
			}
		}
		return false
	})

	id, err := n.GetChannelID(ctx, 0)
	if err != nil || id.DeviceNumber != 4321 || id.TransType != 5 {
		t.Errorf("GetChannelID() = %+v, %v", id, err)
	}
}

func TestNode_CallerErrors(t *testing.T) {
	ctx := context.Background()

	idle := New(driver.NewStream("sim", sim.New().Open), testOptions...)
	if _, err := idle.OpenChannel(ctx, 0, profile.HR, 0); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("OpenChannel() before Start = %v, want ErrNotRunning", err)
	}
	if err := idle.Stop(ctx); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}

	st := sim.New(sim.WithCapabilities(4, 1), sim.WithSearch(10*time.Millisecond, 5*time.Second))
	n, _ := startNode(t, st)

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"open out of range", func() error { _, err := n.OpenChannel(ctx, 4, profile.HR, 0); return err }, pkg.ErrInvalidChannel},
		{"open negative", func() error { _, err := n.OpenChannel(ctx, -1, profile.HR, 0); return err }, pkg.ErrInvalidChannel},
		{"open bad profile", func() error { _, err := n.OpenChannel(ctx, 0, profile.Profile{}, 0); return err }, pkg.ErrInvalidParameter},
		{"close not open", func() error { return n.CloseChannel(ctx, 2) }, pkg.ErrChannelNotOpen},
		{"close out of range", func() error { return n.CloseChannel(ctx, 9) }, pkg.ErrInvalidChannel},
		{"tx not open", func() error { return n.SendTx(ctx, 2, message.BroadcastData(2, [8]byte{})) }, pkg.ErrChannelNotOpen},
		{"tx not data", func() error { return n.SendTx(ctx, 2, message.OpenChannel(2)) }, pkg.ErrInvalidParameter},
		{"tx wrong channel", func() error { return n.SendTx(ctx, 2, message.BroadcastData(3, [8]byte{})) }, pkg.ErrInvalidParameter},
		{"status out of range", func() error { _, err := n.GetChannelStatus(ctx, 4); return err }, pkg.ErrInvalidChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("open in use", func(t *testing.T) {
		if _, err := n.OpenChannel(ctx, 1, profile.HR, 0); err != nil {
			t.Fatalf("OpenChannel() = %v", err)
		}
		if _, err := n.OpenChannel(ctx, 1, profile.CD, 0); !errors.Is(err, pkg.ErrChannelInUse) {
			t.Errorf("second OpenChannel() = %v, want ErrChannelInUse", err)
		}
	})
}

func TestNode_ConfigureRejected(t *testing.T) {
	st := sim.New(sim.WithCapabilities(8, 1))
	n, _ := startNode(t, st)
	n.opts.network = 2 // beyond the stick's single network

	_, err := n.OpenChannel(context.Background(), 0, profile.HR, 0)
	if !errors.Is(err, pkg.ErrInvalidNetwork) {
		t.Fatalf("OpenChannel() = %v, want ErrInvalidNetwork", err)
	}
	if n.Channel(0) != nil {
		t.Error("slot 0 kept after failed configure")
	}
}

func TestNode_Stop(t *testing.T) {
	st := sim.New(sim.WithSearch(10*time.Millisecond, 5*time.Second))
	n := New(driver.NewStream("sim", st.Open), testOptions...)
	ctx := context.Background()
	if err := n.Start(ctx, nil, nil); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if _, err := n.OpenChannel(ctx, 3, profile.SPD, 0); err != nil {
		t.Fatalf("OpenChannel() = %v", err)
	}
	ch := n.Channel(3)

	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if n.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if ch.State() != StateClosed {
		t.Errorf("channel State() = %v, want closed", ch.State())
	}
	if _, err := n.GetCapabilities(ctx); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("GetCapabilities() after Stop = %v, want ErrNotRunning", err)
	}

	// Restart on the same stick.
	if err := n.Start(ctx, nil, nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	n.Stop(ctx)
}

func TestNode_Unplug(t *testing.T) {
	st := sim.New(sim.WithSearch(10*time.Millisecond, 5*time.Second))
	n, cb := startNode(t, st)
	if _, err := n.OpenChannel(context.Background(), 0, profile.HR, 0); err != nil {
		t.Fatalf("OpenChannel() = %v", err)
	}
	ch := n.Channel(0)

	st.Unplug()

	eventually(t, "driver failure", func() bool { return cb.failed(pkg.ErrDriver) })
	eventually(t, "pump stopped", func() bool { return !n.IsRunning() })
	if !errors.Is(n.Err(), pkg.ErrDriver) {
		t.Errorf("Err() = %v, want driver error", n.Err())
	}
	if n.Channel(0) != nil {
		t.Error("slot 0 kept after transport failure")
	}
	if ch.State() != StateClosed {
		t.Errorf("State() = %v, want closed", ch.State())
	}
	if err := n.CloseChannel(context.Background(), 0); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("CloseChannel() after unplug = %v, want ErrNotRunning", err)
	}
}

func TestNode_RestartAfterUnplug(t *testing.T) {
	st := sim.New()
	n, cb := startNode(t, st)

	st.Unplug()
	eventually(t, "pump stopped", func() bool { return !n.IsRunning() })
	if !cb.failed(pkg.ErrDriver) {
		t.Fatal("no driver failure reported")
	}

	ctx := context.Background()
	if err := n.Start(ctx, nil, nil); err != nil {
		t.Fatalf("Start() after unplug = %v", err)
	}
	if n.Err() != nil {
		t.Errorf("Err() after restart = %v, want nil", n.Err())
	}
	caps, err := n.GetCapabilities(ctx)
	if err != nil {
		t.Fatalf("GetCapabilities() after restart = %v", err)
	}
	if caps.MaxChannels != sim.DefaultMaxChannels {
		t.Errorf("MaxChannels = %d, want %d", caps.MaxChannels, sim.DefaultMaxChannels)
	}
}

func TestNode_RxScanMode(t *testing.T) {
	st := sim.New(
		sim.WithSensor(sim.Sensor{DeviceNumber: 31337, DeviceType: 0x78, TransType: 1}),
		sim.WithSensor(sim.Sensor{DeviceNumber: 2024, DeviceType: 0x11, TransType: 5}),
		sim.WithSearch(5*time.Millisecond, 5*time.Second),
		sim.WithBroadcastInterval(10*time.Millisecond),
	)
	n, cb := startNode(t, st)
	ctx := context.Background()

	if err := n.EnableRxScanMode(ctx, message.ANTPlusNetworkKey, message.ChannelTypeReceiveOnly); err != nil {
		t.Fatalf("EnableRxScanMode() = %v", err)
	}
	if !n.Scanning() || !st.Scanning() {
		t.Fatalf("Scanning() = %v, stick %v, want both true", n.Scanning(), st.Scanning())
	}

	eventually(t, "broadcasts from both sensors", func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		seen := map[uint16]bool{}
		for _, v := range cb.successes {
			if b, ok := v.(*message.Broadcast); ok && b.Channel == 0 && b.HasChannelID() {
				seen[b.DeviceNumber] = true
			}
		}
		return seen[31337] && seen[2024]
	})

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"scan twice", func() error {
			return n.EnableRxScanMode(ctx, message.ANTPlusNetworkKey, message.ChannelTypeReceiveOnly)
		}, pkg.ErrChannelInUse},
		{"open scan slot", func() error {
			_, err := n.OpenChannel(ctx, 0, profile.HR, 0)
			return err
		}, pkg.ErrChannelInUse},
	}
	for _, tt := range tests {
		if err := tt.call(); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}

	if err := n.CloseChannel(ctx, 0); err != nil {
		t.Fatalf("CloseChannel(0) = %v", err)
	}
	if n.Scanning() || st.ChannelAssigned(0) {
		t.Errorf("after close: Scanning() = %v, assigned = %v", n.Scanning(), st.ChannelAssigned(0))
	}
	if _, err := n.OpenChannel(ctx, 0, profile.HR, 31337); err != nil {
		t.Errorf("OpenChannel(0) after scan = %v", err)
	}
	if n.pendingWaiters() != 0 {
		t.Errorf("pending waiters = %d, want 0", n.pendingWaiters())
	}
}

func TestNode_RxScanModeNotRunning(t *testing.T) {
	n := New(driver.NewStream("sim", sim.New().Open), testOptions...)
	err := n.EnableRxScanMode(context.Background(), message.ANTPlusNetworkKey, message.ChannelTypeReceiveOnly)
	if !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("EnableRxScanMode() before Start = %v, want ErrNotRunning", err)
	}
}
