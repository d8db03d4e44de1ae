package profile

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name       string
		deviceType byte
		period     uint16
	}{
		{"HR", 0x78, 8070},
		{"hr", 0x78, 8070},
		{"PWR", 11, 8182},
		{"FE-C", 17, 8192},
		{"SPD", 123, 8118},
		{"CD", 122, 8102},
		{"SPD+CD", 121, 8086},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", tt.name, err)
			}
			if p.DeviceType != tt.deviceType {
				t.Errorf("DeviceType = %d, want %d", p.DeviceType, tt.deviceType)
			}
			if p.Period != tt.period {
				t.Errorf("Period = %d, want %d", p.Period, tt.period)
			}
			if p.Frequency != 2457 {
				t.Errorf("Frequency = %d, want 2457", p.Frequency)
			}
			if err := p.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}

	if _, err := Lookup("BLE"); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Lookup(BLE) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestByDeviceType(t *testing.T) {
	p, ok := ByDeviceType(0x78 | 0x80)
	if !ok || p.Name != "HR" {
		t.Errorf("ByDeviceType(0xF8) = %v, %v; want HR", p, ok)
	}
	if _, ok := ByDeviceType(0x01); ok {
		t.Error("ByDeviceType(0x01) should not match")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 6 {
		t.Fatalf("Names() = %v, want 6 entries", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Names() not sorted: %v", names)
		}
	}
}

func TestProfile_Validate(t *testing.T) {
	bad := HR
	bad.Frequency = 2300
	if err := bad.Validate(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Validate(2300 MHz) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	bad = HR
	bad.Period = 0
	if err := bad.Validate(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Validate(period 0) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestSetGrade(t *testing.T) {
	tests := []struct {
		grade float64
		want  uint16
	}{
		{-5.0, 19500},
		{0, 20000},
		{2.5, 20250},
		{-200, 0},
		{-39.92, 16007},
		{-250, 0},
		{500, 0xFFFF},
	}

	for _, tt := range tests {
		m := SetGrade(0, tt.grade)
		if m.ID != message.IDAcknowledgedData {
			t.Fatalf("SetGrade() ID = 0x%02X, want acknowledged data", m.ID)
		}
		if len(m.Content) != 9 {
			t.Fatalf("SetGrade() content = % X, want 9 bytes", m.Content)
		}
		page := m.Content[1:]
		if page[0] != PageTrackResistance {
			t.Errorf("page = 0x%02X, want 0x%02X", page[0], PageTrackResistance)
		}
		if got := binary.LittleEndian.Uint16(page[5:7]); got != tt.want {
			t.Errorf("SetGrade(%v) grade field = %d, want %d", tt.grade, got, tt.want)
		}
		if page[7] != DefaultCrr {
			t.Errorf("crr = 0x%02X, want 0x%02X", page[7], DefaultCrr)
		}
	}

	m := SetGrade(0, -5.0)
	want := []byte{0x00, 0x33, 0xFF, 0xFF, 0xFF, 0xFF, 0x2C, 0x4C, 0xFF}
	if string(m.Content) != string(want) {
		t.Errorf("SetGrade(0, -5) content = % X, want % X", m.Content, want)
	}
}

func TestUserConfiguration(t *testing.T) {
	m := UserConfiguration(3, DefaultUserConfig)
	if m.Channel() != 3 {
		t.Errorf("Channel() = %d, want 3", m.Channel())
	}
	page := m.Content[1:]
	if page[0] != PageUserConfig {
		t.Fatalf("page = 0x%02X, want 0x%02X", page[0], PageUserConfig)
	}
	if got := binary.LittleEndian.Uint16(page[1:3]); got != 7500 {
		t.Errorf("user weight = %d, want 7500", got)
	}
	if page[3] != 0xFF {
		t.Errorf("reserved = 0x%02X, want 0xFF", page[3])
	}
	// 10 kg / 0.05 = 200 = 0x0C8
	if page[4] != 0x80 || page[5] != 0x0C {
		t.Errorf("bike weight bytes = %02X %02X, want 80 0C", page[4], page[5])
	}
	if page[6] != 70 {
		t.Errorf("wheel diameter = %d, want 70", page[6])
	}
}

func TestFilter(t *testing.T) {
	f := NewFilter()
	hr := &message.Broadcast{Flag: message.FlagChannelID, DeviceNumber: 42}
	anon := &message.Broadcast{}

	if !f.Allow(hr) || !f.Allow(anon) {
		t.Fatal("disabled filter should pass everything")
	}

	f.Enable()
	if f.Allow(hr) {
		t.Error("enabled empty filter passed device 42")
	}
	f.Add(42)
	if !f.Allow(hr) {
		t.Error("filter rejected allowed device 42")
	}
	if f.Allow(anon) {
		t.Error("filter passed broadcast without channel id")
	}
	f.Remove(42)
	if f.Allow(hr) {
		t.Error("filter passed removed device 42")
	}
	f.Add(42)
	f.Clear()
	if f.Allow(hr) {
		t.Error("filter passed device after Clear")
	}
	f.Disable()
	if !f.Allow(hr) {
		t.Error("disabled filter rejected device")
	}
}
