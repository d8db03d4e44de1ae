package message

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softant/pkg"
)

// PayloadSize is the length of a data page.
const PayloadSize = 8

// Broadcast is a received data message (broadcast, acknowledged or burst)
// with its optional extension block decoded.
type Broadcast struct {
	ID      byte // IDBroadcastData, IDAcknowledgedData or IDBurstData
	Channel byte
	Payload [PayloadSize]byte
	Flag    byte

	// Present when Flag&FlagChannelID is set.
	DeviceNumber uint16
	DeviceType   byte
	TransType    byte

	// Present when Flag&FlagRSSI is set.
	MeasurementType byte
	RSSI            int8
	Threshold       int8

	// Present when Flag&FlagRxTimestamp is set.
	RxTimestamp uint16
}

// HasChannelID reports whether the channel-ID extension was present.
func (b *Broadcast) HasChannelID() bool { return b.Flag&FlagChannelID != 0 }

// HasRSSI reports whether the RSSI extension was present.
func (b *Broadcast) HasRSSI() bool { return b.Flag&FlagRSSI != 0 }

// HasRxTimestamp reports whether the timestamp extension was present.
func (b *Broadcast) HasRxTimestamp() bool { return b.Flag&FlagRxTimestamp != 0 }

// Page returns the data page number, the first payload byte.
func (b *Broadcast) Page() byte { return b.Payload[0] }

// IsDataID reports whether id identifies a data message.
func IsDataID(id byte) bool {
	return id == IDBroadcastData || id == IDAcknowledgedData || id == IDBurstData
}

// ParseBroadcast decodes a data message. The extension blocks are read in
// flag-bit order (channel ID, RSSI, timestamp), each only when its bit is
// set in the flag byte that follows the payload.
func ParseBroadcast(m Message) (*Broadcast, error) {
	if !IsDataID(m.ID) {
		return nil, fmt.Errorf("%w: 0x%02X is not a data message", pkg.ErrInvalidParameter, m.ID)
	}
	raw := m.Content
	if len(raw) < 1+PayloadSize {
		return nil, fmt.Errorf("%w: data message has %d bytes", pkg.ErrShortFrame, len(raw))
	}

	b := &Broadcast{ID: m.ID, Channel: raw[0]}
	copy(b.Payload[:], raw[1:1+PayloadSize])
	if len(raw) == 1+PayloadSize {
		return b, nil
	}

	b.Flag = raw[1+PayloadSize]
	ext := raw[2+PayloadSize:]
	if b.HasChannelID() {
		if len(ext) < 4 {
			return nil, fmt.Errorf("%w: channel id extension", pkg.ErrShortFrame)
		}
		b.DeviceNumber = binary.LittleEndian.Uint16(ext[0:2])
		b.DeviceType = ext[2]
		b.TransType = ext[3]
		ext = ext[4:]
	}
	if b.HasRSSI() {
		if len(ext) < 3 {
			return nil, fmt.Errorf("%w: rssi extension", pkg.ErrShortFrame)
		}
		b.MeasurementType = ext[0]
		b.RSSI = int8(ext[1])
		b.Threshold = int8(ext[2])
		ext = ext[3:]
	}
	if b.HasRxTimestamp() {
		if len(ext) < 2 {
			return nil, fmt.Errorf("%w: timestamp extension", pkg.ErrShortFrame)
		}
		b.RxTimestamp = binary.LittleEndian.Uint16(ext[0:2])
	}
	return b, nil
}

// Message encodes b back into a data message, emitting the flag byte and
// extension blocks only when Flag is non-zero.
func (b *Broadcast) Message() Message {
	id := b.ID
	if id == 0 {
		id = IDBroadcastData
	}
	content := make([]byte, 0, 1+PayloadSize+1+9)
	content = append(content, b.Channel)
	content = append(content, b.Payload[:]...)
	if b.Flag == 0 {
		return Message{ID: id, Content: content}
	}
	content = append(content, b.Flag)
	if b.HasChannelID() {
		content = binary.LittleEndian.AppendUint16(content, b.DeviceNumber)
		content = append(content, b.DeviceType, b.TransType)
	}
	if b.HasRSSI() {
		content = append(content, b.MeasurementType, byte(b.RSSI), byte(b.Threshold))
	}
	if b.HasRxTimestamp() {
		content = binary.LittleEndian.AppendUint16(content, b.RxTimestamp)
	}
	return Message{ID: id, Content: content}
}

func (b *Broadcast) String() string {
	s := fmt.Sprintf("channel %d page 0x%02X [% X]", b.Channel, b.Page(), b.Payload)
	if b.HasChannelID() {
		s += fmt.Sprintf(" device %d type 0x%02X", b.DeviceNumber, b.DeviceType)
	}
	if b.HasRSSI() {
		s += fmt.Sprintf(" rssi %d dBm", b.RSSI)
	}
	return s
}
