package profile

import (
	"encoding/binary"
	"math"

	"github.com/ardnew/softant/message"
)

// FE-C data pages.
const (
	PageGeneralFE       = 0x10
	PageTrainerData     = 0x19
	PageTrackResistance = 0x33
	PageUserConfig      = 0x37
)

// DefaultCrr requests the trainer's default rolling resistance.
const DefaultCrr = 0xFF

// GradeRaw converts a grade in percent to the track resistance field:
// hundredths of a percent offset by 200 %. The fraction is truncated, so
// a grade whose quotient lands just below an integer encodes one step
// lower. Grades outside the field's range saturate.
func GradeRaw(grade float64) uint16 {
	v := (grade + 200) / 0.01
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}

// TrackResistance builds page 0x33, requesting the given grade (percent)
// and coefficient of rolling resistance (units of 5e-5, 0xFF default).
func TrackResistance(channel byte, grade float64, crr byte) message.Message {
	var page [message.PayloadSize]byte
	page[0] = PageTrackResistance
	page[1], page[2], page[3], page[4] = 0xFF, 0xFF, 0xFF, 0xFF
	binary.LittleEndian.PutUint16(page[5:7], GradeRaw(grade))
	page[7] = crr
	return message.AcknowledgedData(channel, page)
}

// SetGrade requests grade percent with the default rolling resistance.
func SetGrade(channel byte, grade float64) message.Message {
	return TrackResistance(channel, grade, DefaultCrr)
}

// UserConfig is the rider and bike description sent with page 0x37.
type UserConfig struct {
	UserWeight    float64 // kg
	BikeWeight    float64 // kg
	WheelDiameter float64 // m
	WheelOffset   byte    // mm, 0..10
	GearRatio     float64 // front/rear teeth, 0 unspecified
}

// DefaultUserConfig is a 75 kg rider on a 10 kg bike with 700c wheels.
var DefaultUserConfig = UserConfig{
	UserWeight:    75,
	BikeWeight:    10,
	WheelDiameter: 0.7,
	WheelOffset:   0,
}

// UserConfiguration builds page 0x37 from cfg.
func UserConfiguration(channel byte, cfg UserConfig) message.Message {
	var page [message.PayloadSize]byte
	page[0] = PageUserConfig
	binary.LittleEndian.PutUint16(page[1:3], uint16(math.Round(cfg.UserWeight/0.01)))
	page[3] = 0xFF
	bike := uint16(math.Round(cfg.BikeWeight/0.05)) & 0x0FFF
	page[4] = byte(bike&0x0F)<<4 | cfg.WheelOffset&0x0F
	page[5] = byte(bike >> 4)
	page[6] = byte(math.Round(cfg.WheelDiameter / 0.01))
	page[7] = byte(math.Round(cfg.GearRatio / 0.03))
	return message.AcknowledgedData(channel, page)
}
