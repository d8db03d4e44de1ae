package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ardnew/softant/pkg"
)

// ChannelEvent is a channel response (MessageID names the command being
// answered) or an RF event (MessageID == EventIDRF).
type ChannelEvent struct {
	Channel   byte
	MessageID byte
	Code      pkg.EventCode
}

// IsRF reports whether the event reports RF activity rather than
// answering a command.
func (e ChannelEvent) IsRF() bool { return e.MessageID == EventIDRF }

func (e ChannelEvent) String() string {
	if e.IsRF() {
		return fmt.Sprintf("channel %d: %s", e.Channel, e.Code)
	}
	return fmt.Sprintf("channel %d: %s: %s", e.Channel, IDName(e.MessageID), e.Code)
}

// ParseChannelEvent decodes a channel event message into out.
func ParseChannelEvent(m Message, out *ChannelEvent) error {
	if m.ID != IDChannelEvent {
		return fmt.Errorf("%w: 0x%02X is not a channel event", pkg.ErrInvalidParameter, m.ID)
	}
	if len(m.Content) < 3 {
		return pkg.ErrShortFrame
	}
	out.Channel = m.Content[0]
	out.MessageID = m.Content[1]
	out.Code = pkg.EventCode(m.Content[2])
	return nil
}

// Capabilities describes what the device supports.
type Capabilities struct {
	MaxChannels          int
	MaxNetworks          int
	StandardOptions      [8]bool
	AdvancedOptions      [8]bool
	AdvancedOptions2     [8]bool
	MaxSensRcoreChannels int
	AdvancedOptions3     [8]bool
	AdvancedOptions4     [8]bool
}

// ParseCapabilities decodes a capabilities message. Devices report between
// four and eight bytes; absent fields are left zero.
func ParseCapabilities(m Message, out *Capabilities) error {
	c := m.Content
	if len(c) < 4 {
		return fmt.Errorf("%w: capabilities has %d bytes", pkg.ErrShortFrame, len(c))
	}
	*out = Capabilities{
		MaxChannels:     int(c[0]),
		MaxNetworks:     int(c[1]),
		StandardOptions: BitArray(c[2]),
		AdvancedOptions: BitArray(c[3]),
	}
	if len(c) > 4 {
		out.AdvancedOptions2 = BitArray(c[4])
	}
	if len(c) > 5 {
		out.MaxSensRcoreChannels = int(c[5])
	}
	if len(c) > 6 {
		out.AdvancedOptions3 = BitArray(c[6])
	}
	if len(c) > 7 {
		out.AdvancedOptions4 = BitArray(c[7])
	}
	return nil
}

func (c Capabilities) String() string {
	return fmt.Sprintf("max_channels=%d max_networks=%d max_sensrcore_channels=%d",
		c.MaxChannels, c.MaxNetworks, c.MaxSensRcoreChannels)
}

// ChannelStatus is the state of one channel.
type ChannelStatus struct {
	Channel     byte
	State       byte // StateUnassigned..StateTracking
	Network     byte
	ChannelType byte
}

// ParseChannelStatus decodes a channel status message. The status byte
// packs the channel type in bits 7..4, the network in bits 3..2 and the
// state in bits 1..0.
func ParseChannelStatus(m Message, out *ChannelStatus) error {
	if len(m.Content) < 2 {
		return pkg.ErrShortFrame
	}
	s := m.Content[1]
	*out = ChannelStatus{
		Channel:     m.Content[0],
		State:       s & 0x03,
		Network:     (s >> 2) & 0x03,
		ChannelType: s & 0xF0,
	}
	return nil
}

// StateName returns the name of the channel state.
func (s ChannelStatus) StateName() string {
	switch s.State {
	case StateUnassigned:
		return "unassigned"
	case StateAssigned:
		return "assigned"
	case StateSearching:
		return "searching"
	default:
		return "tracking"
	}
}

func (s ChannelStatus) String() string {
	return fmt.Sprintf("channel %d %s network %d type 0x%02X", s.Channel, s.StateName(), s.Network, s.ChannelType)
}

// ChannelID identifies the device a channel is paired with.
type ChannelID struct {
	Channel      byte
	DeviceNumber uint16
	DeviceType   byte
	TransType    byte
}

// ParseChannelID decodes a channel ID message.
func ParseChannelID(m Message, out *ChannelID) error {
	if len(m.Content) < 5 {
		return pkg.ErrShortFrame
	}
	*out = ChannelID{
		Channel:      m.Content[0],
		DeviceNumber: binary.LittleEndian.Uint16(m.Content[1:3]),
		DeviceType:   m.Content[3],
		TransType:    m.Content[4],
	}
	return nil
}

func (id ChannelID) String() string {
	return fmt.Sprintf("channel %d device %d type 0x%02X trans 0x%02X", id.Channel, id.DeviceNumber, id.DeviceType, id.TransType)
}

// ParseSerialNumber decodes the 4-byte little-endian serial number.
func ParseSerialNumber(m Message) (uint32, error) {
	if len(m.Content) < 4 {
		return 0, pkg.ErrShortFrame
	}
	return binary.LittleEndian.Uint32(m.Content[:4]), nil
}

// ParseVersion decodes the NUL-terminated version string.
func ParseVersion(m Message) (string, error) {
	if len(m.Content) == 0 {
		return "", pkg.ErrShortFrame
	}
	v, _, _ := bytes.Cut(m.Content, []byte{0})
	return string(v), nil
}

// Startup is the reset reason reported after power-on or a reset.
type Startup byte

// ParseStartup decodes a startup message.
func ParseStartup(m Message) (Startup, error) {
	if len(m.Content) < 1 {
		return 0, pkg.ErrShortFrame
	}
	return Startup(m.Content[0]), nil
}

func (s Startup) String() string {
	if s == StartupPowerOn {
		return "power-on reset"
	}
	var reasons []string
	for _, r := range []struct {
		bit  Startup
		name string
	}{
		{StartupHWReset, "hardware reset line"},
		{StartupWatchdog, "watchdog reset"},
		{StartupCommand, "command reset"},
		{StartupSynchronous, "synchronous reset"},
		{StartupSuspend, "suspend reset"},
	} {
		if s&r.bit != 0 {
			reasons = append(reasons, r.name)
		}
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("reset 0x%02X", byte(s))
	}
	return strings.Join(reasons, ", ")
}

// ParseSerialError decodes a serial error message into a *pkg.SerialError.
func ParseSerialError(m Message) error {
	if len(m.Content) < 1 {
		return &pkg.SerialError{}
	}
	return &pkg.SerialError{Code: m.Content[0], Content: append([]byte(nil), m.Content[1:]...)}
}
