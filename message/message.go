package message

import (
	"fmt"

	"github.com/ardnew/softant/pkg"
)

// Message is the envelope of one ANT frame: a type byte and its content.
type Message struct {
	ID      byte
	Content []byte
}

// New returns a message with the given ID and content.
func New(id byte, content ...byte) Message {
	return Message{ID: id, Content: content}
}

// Channel returns the first content byte, which for channel-scoped
// messages is the channel number. It returns -1 if the content is empty.
func (m Message) Channel() int {
	if len(m.Content) == 0 {
		return -1
	}
	return int(m.Content[0])
}

// Checksum returns the XOR of the sync, length, type and content bytes.
func (m Message) Checksum() byte {
	chk := byte(Sync) ^ byte(len(m.Content)) ^ m.ID
	for _, b := range m.Content {
		chk ^= b
	}
	return chk
}

// Size returns the encoded frame length in bytes.
func (m Message) Size() int {
	return HeaderSize + len(m.Content) + TrailerSize
}

// MarshalBinary encodes the message as a complete frame.
func (m Message) MarshalBinary() ([]byte, error) {
	if len(m.Content) > MaxContentSize {
		return nil, fmt.Errorf("%w: %d content bytes", pkg.ErrMessageSizeExceedsLimit, len(m.Content))
	}
	buf := make([]byte, 0, m.Size())
	buf = append(buf, Sync, byte(len(m.Content)), m.ID)
	buf = append(buf, m.Content...)
	return append(buf, m.Checksum()), nil
}

// UnmarshalBinary decodes exactly one frame. Unlike ReadFrame it does not
// resynchronize: a frame with a bad sync byte, length or checksum is an
// error.
func (m *Message) UnmarshalBinary(frame []byte) error {
	if len(frame) < HeaderSize+TrailerSize {
		return pkg.ErrShortFrame
	}
	if frame[0] != Sync {
		return pkg.ErrBadSync
	}
	n := int(frame[1])
	if len(frame) != HeaderSize+n+TrailerSize {
		return fmt.Errorf("%w: length %d, frame %d bytes", pkg.ErrShortFrame, n, len(frame))
	}
	out := Message{ID: frame[2], Content: append([]byte(nil), frame[HeaderSize:HeaderSize+n]...)}
	if out.Checksum() != frame[len(frame)-1] {
		return pkg.ErrChecksum
	}
	*m = out
	return nil
}

// String returns a short description used in logs.
func (m Message) String() string {
	return fmt.Sprintf("%s(0x%02X)[% X]", IDName(m.ID), m.ID, m.Content)
}
