package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

// ANT+ device types.
const (
	DeviceTypePWR   = 11
	DeviceTypeFEC   = 17
	DeviceTypeHR    = 0x78
	DeviceTypeSPDCD = 121
	DeviceTypeCD    = 122
	DeviceTypeSPD   = 123
)

// DefaultSearchTimeout is the search timeout, in 2.5 s units, used when a
// profile does not set one (30 s).
const DefaultSearchTimeout = 12

// Profile is the channel configuration for one class of ANT+ sensor.
type Profile struct {
	Name          string
	DeviceType    byte
	Period        uint16 // 1/32768 s
	Frequency     int    // MHz
	SearchTimeout byte   // 2.5 s units, 0xFF forever
	ChannelType   byte
	TransType     byte
}

// Known profiles, keyed by name.
var (
	HR = Profile{
		Name: "HR", DeviceType: DeviceTypeHR, Period: 8070,
		Frequency: message.DefaultFrequency, SearchTimeout: DefaultSearchTimeout,
	}
	PWR = Profile{
		Name: "PWR", DeviceType: DeviceTypePWR, Period: 8182,
		Frequency: message.DefaultFrequency, SearchTimeout: DefaultSearchTimeout,
	}
	FEC = Profile{
		Name: "FE-C", DeviceType: DeviceTypeFEC, Period: 8192,
		Frequency: message.DefaultFrequency, SearchTimeout: DefaultSearchTimeout,
	}
	SPD = Profile{
		Name: "SPD", DeviceType: DeviceTypeSPD, Period: 8118,
		Frequency: message.DefaultFrequency, SearchTimeout: DefaultSearchTimeout,
	}
	CD = Profile{
		Name: "CD", DeviceType: DeviceTypeCD, Period: 8102,
		Frequency: message.DefaultFrequency, SearchTimeout: DefaultSearchTimeout,
	}
	SPDCD = Profile{
		Name: "SPD+CD", DeviceType: DeviceTypeSPDCD, Period: 8086,
		Frequency: message.DefaultFrequency, SearchTimeout: DefaultSearchTimeout,
	}
)

var profiles = map[string]Profile{
	HR.Name:    HR,
	PWR.Name:   PWR,
	FEC.Name:   FEC,
	SPD.Name:   SPD,
	CD.Name:    CD,
	SPDCD.Name: SPDCD,
}

// Lookup returns the profile with the given name, ignoring case.
func Lookup(name string) (Profile, error) {
	if p, ok := profiles[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("%w: unknown profile %q", pkg.ErrInvalidParameter, name)
}

// ByDeviceType returns the profile for an ANT+ device type. The pairing
// bit (0x80) is ignored.
func ByDeviceType(t byte) (Profile, bool) {
	t &^= 0x80
	for _, p := range profiles {
		if p.DeviceType == t {
			return p, true
		}
	}
	return Profile{}, false
}

// Names returns the known profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the profile can be programmed into a channel.
func (p Profile) Validate() error {
	if p.Frequency < message.BaseFrequency || p.Frequency > message.BaseFrequency+124 {
		return fmt.Errorf("%w: frequency %d MHz", pkg.ErrInvalidParameter, p.Frequency)
	}
	if p.Period == 0 {
		return fmt.Errorf("%w: zero channel period", pkg.ErrInvalidParameter)
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("%s(type=0x%02X period=%d freq=%d)", p.Name, p.DeviceType, p.Period, p.Frequency)
}
