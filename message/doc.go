// Package message implements the ANT serial message protocol.
//
// Every message exchanged with an ANT stick is framed as
//
//	SYNC(0xA4) LEN TYPE CONTENT[LEN] CHECKSUM
//
// where CHECKSUM is the XOR of every preceding byte of the frame. The
// package provides the [Message] envelope, a resynchronizing stream decoder
// ([ReadFrame]), builders for the configuration and control commands, and
// parsers for the responses a host receives: channel events, broadcast data
// with its optional extension block, capabilities, channel status, channel
// ID, serial number and startup notifications.
//
// # Encoding
//
//	m := message.SetChannelID(0, 0, 0x78, 0)
//	frame, err := m.MarshalBinary()
//
// # Decoding
//
// [ReadFrame] reads one byte at a time from any [Reader] (a transport
// driver), discarding bytes until a sync byte and dropping frames whose
// checksum does not match:
//
//	m, err := message.ReadFrame(drv, time.Second)
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // nothing arrived; poll again
//	}
package message
