package message

import (
	"errors"
	"testing"

	"github.com/ardnew/softant/pkg"
)

func TestParseCapabilities(t *testing.T) {
	var caps Capabilities
	err := ParseCapabilities(New(IDCapabilities, 8, 3, 0xFF, 0xFF, 0xFF, 0, 0, 0), &caps)
	if err != nil {
		t.Fatalf("ParseCapabilities() error = %v", err)
	}
	if caps.MaxChannels != 8 {
		t.Errorf("MaxChannels = %d, want 8", caps.MaxChannels)
	}
	if caps.MaxNetworks != 3 {
		t.Errorf("MaxNetworks = %d, want 3", caps.MaxNetworks)
	}
	all := [8]bool{true, true, true, true, true, true, true, true}
	if caps.StandardOptions != all || caps.AdvancedOptions != all || caps.AdvancedOptions2 != all {
		t.Errorf("option bits = %v %v %v, want all set", caps.StandardOptions, caps.AdvancedOptions, caps.AdvancedOptions2)
	}
	if caps.MaxSensRcoreChannels != 0 {
		t.Errorf("MaxSensRcoreChannels = %d, want 0", caps.MaxSensRcoreChannels)
	}
	if caps.AdvancedOptions3 != ([8]bool{}) || caps.AdvancedOptions4 != ([8]bool{}) {
		t.Errorf("AdvancedOptions3/4 = %v %v, want zero", caps.AdvancedOptions3, caps.AdvancedOptions4)
	}
}

func TestParseCapabilities_Short(t *testing.T) {
	var caps Capabilities
	if err := ParseCapabilities(New(IDCapabilities, 8, 3), &caps); !errors.Is(err, pkg.ErrShortFrame) {
		t.Errorf("ParseCapabilities() error = %v, want %v", err, pkg.ErrShortFrame)
	}
	if err := ParseCapabilities(New(IDCapabilities, 4, 1, 0, 0), &caps); err != nil {
		t.Errorf("ParseCapabilities(4 bytes) error = %v", err)
	}
}

func TestParseChannelStatus(t *testing.T) {
	tests := []struct {
		name   string
		status byte
		want   ChannelStatus
		state  string
	}{
		{"unassigned", 0x00, ChannelStatus{Channel: 2}, "unassigned"},
		{"assigned slave", 0x01, ChannelStatus{Channel: 2, State: StateAssigned}, "assigned"},
		{"searching network 1", 0x06, ChannelStatus{Channel: 2, State: StateSearching, Network: 1}, "searching"},
		{"tracking master", 0x13, ChannelStatus{Channel: 2, State: StateTracking, ChannelType: ChannelTypeBidirectionalTransmit}, "tracking"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ChannelStatus
			if err := ParseChannelStatus(New(IDChannelStatus, 2, tt.status), &got); err != nil {
				t.Fatalf("ParseChannelStatus() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseChannelStatus() = %+v, want %+v", got, tt.want)
			}
			if got.StateName() != tt.state {
				t.Errorf("StateName() = %q, want %q", got.StateName(), tt.state)
			}
		})
	}
}

func TestParseChannelID(t *testing.T) {
	var got ChannelID
	if err := ParseChannelID(SetChannelID(1, 0x3039, 0x78, 0x05), &got); err != nil {
		t.Fatalf("ParseChannelID() error = %v", err)
	}
	want := ChannelID{Channel: 1, DeviceNumber: 12345, DeviceType: 0x78, TransType: 0x05}
	if got != want {
		t.Errorf("ParseChannelID() = %+v, want %+v", got, want)
	}
}

func TestParseSerialNumber(t *testing.T) {
	got, err := ParseSerialNumber(New(IDSerialNumber, 0x78, 0x56, 0x34, 0x12))
	if err != nil {
		t.Fatalf("ParseSerialNumber() error = %v", err)
	}
	if got != 0x12345678 {
		t.Errorf("ParseSerialNumber() = 0x%08X, want 0x12345678", got)
	}
}

func TestParseVersion(t *testing.T) {
	got, err := ParseVersion(New(IDVersion, []byte("AJK3.10\x00\x00")...))
	if err != nil {
		t.Fatalf("ParseVersion() error = %v", err)
	}
	if got != "AJK3.10" {
		t.Errorf("ParseVersion() = %q, want %q", got, "AJK3.10")
	}
}

func TestStartup_String(t *testing.T) {
	tests := []struct {
		in   Startup
		want string
	}{
		{StartupPowerOn, "power-on reset"},
		{StartupCommand, "command reset"},
		{StartupHWReset | StartupWatchdog, "hardware reset line, watchdog reset"},
		{0x04, "reset 0x04"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Startup(0x%02X).String() = %q, want %q", byte(tt.in), got, tt.want)
		}
	}
}

func TestParseChannelEvent(t *testing.T) {
	var ev ChannelEvent
	if err := ParseChannelEvent(ChannelEventMessage(4, EventIDRF, pkg.EventRxSearchTimeout), &ev); err != nil {
		t.Fatalf("ParseChannelEvent() error = %v", err)
	}
	if !ev.IsRF() || ev.Channel != 4 || ev.Code != pkg.EventRxSearchTimeout {
		t.Errorf("ParseChannelEvent() = %+v", ev)
	}

	if err := ParseChannelEvent(ChannelEventMessage(0, IDAssignChannel, 0), &ev); err != nil {
		t.Fatalf("ParseChannelEvent() error = %v", err)
	}
	if ev.IsRF() || ev.MessageID != IDAssignChannel {
		t.Errorf("response event = %+v, want response to AssignChannel", ev)
	}

	if err := ParseChannelEvent(New(IDChannelEvent, 0, 1), &ev); !errors.Is(err, pkg.ErrShortFrame) {
		t.Errorf("ParseChannelEvent(short) error = %v, want %v", err, pkg.ErrShortFrame)
	}
	if err := ParseChannelEvent(OpenChannel(0), &ev); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ParseChannelEvent(wrong id) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestParseSerialError(t *testing.T) {
	err := ParseSerialError(New(IDSerialError, 2, 0xA4, 0x01))
	var serr *pkg.SerialError
	if !errors.As(err, &serr) {
		t.Fatalf("ParseSerialError() = %T, want *pkg.SerialError", err)
	}
	if serr.Code != 2 || len(serr.Content) != 2 {
		t.Errorf("ParseSerialError() = %+v", serr)
	}
}
