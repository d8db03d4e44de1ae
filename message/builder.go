package message

import (
	"encoding/binary"

	"github.com/ardnew/softant/pkg"
)

// SystemReset resets the device. The device answers with a startup
// message once it is ready again.
func SystemReset() Message {
	return New(IDSystemReset, 0)
}

// SetNetworkKey loads key into network slot network.
func SetNetworkKey(network byte, key [NetworkKeySize]byte) Message {
	return New(IDSetNetworkKey, append([]byte{network}, key[:]...)...)
}

// AssignChannel reserves channel with the given type on network.
func AssignChannel(channel, channelType, network byte) Message {
	return New(IDAssignChannel, channel, channelType, network)
}

// UnassignChannel releases a closed channel.
func UnassignChannel(channel byte) Message {
	return New(IDUnassignChannel, channel)
}

// SetChannelID sets the device the channel pairs with. Zero values act as
// wildcards.
func SetChannelID(channel byte, deviceNumber uint16, deviceType, transType byte) Message {
	content := []byte{channel, 0, 0, deviceType, transType}
	binary.LittleEndian.PutUint16(content[1:3], deviceNumber)
	return New(IDChannelID, content...)
}

// SetRFFrequency tunes channel to mhz, which must lie in 2400..2524.
func SetRFFrequency(channel byte, mhz int) Message {
	return New(IDChannelRFFrequency, channel, byte(mhz-BaseFrequency))
}

// SetMessagingPeriod sets the channel period in 1/32768 s units.
func SetMessagingPeriod(channel byte, period uint16) Message {
	content := []byte{channel, 0, 0}
	binary.LittleEndian.PutUint16(content[1:3], period)
	return New(IDChannelPeriod, content...)
}

// SetSearchTimeout sets the high-priority search timeout in 2.5 s units;
// 0xFF searches forever.
func SetSearchTimeout(channel, timeout byte) Message {
	return New(IDSearchTimeout, channel, timeout)
}

// OpenChannel starts searching on channel.
func OpenChannel(channel byte) Message {
	return New(IDOpenChannel, channel)
}

// CloseChannel stops channel.
func CloseChannel(channel byte) Message {
	return New(IDCloseChannel, channel)
}

// RequestMessage asks the device to send message id about channel.
func RequestMessage(channel, id byte) Message {
	return New(IDRequestMessage, channel, id)
}

// RequestCapabilities asks the device for its capabilities.
func RequestCapabilities() Message {
	return RequestMessage(0, IDCapabilities)
}

// RequestSerialNumber asks the device for its serial number.
func RequestSerialNumber() Message {
	return RequestMessage(0, IDSerialNumber)
}

// RequestVersion asks the device for its firmware version string.
func RequestVersion() Message {
	return RequestMessage(0, IDVersion)
}

// RequestChannelStatus asks the device for the state of channel.
func RequestChannelStatus(channel byte) Message {
	return RequestMessage(channel, IDChannelStatus)
}

// RequestChannelID asks the device for the ID of the device paired on
// channel.
func RequestChannelID(channel byte) Message {
	return RequestMessage(channel, IDChannelID)
}

// OpenRxScanMode opens channel 0 in continuous scanning mode.
func OpenRxScanMode() Message {
	return New(IDOpenRxScanMode, 0)
}

// EnableExtendedRx turns legacy extended data messages on or off.
func EnableExtendedRx(enable bool) Message {
	var v byte
	if enable {
		v = 1
	}
	return New(IDEnableExtRx, 0, v)
}

// LibConfig selects which extension blocks the device appends to received
// data messages.
func LibConfig(flags byte) Message {
	return New(IDLibConfig, 0, flags)
}

// BroadcastData sends payload on channel at the next channel period.
func BroadcastData(channel byte, payload [PayloadSize]byte) Message {
	return New(IDBroadcastData, append([]byte{channel}, payload[:]...)...)
}

// AcknowledgedData sends payload on channel and asks the peer to
// acknowledge it. The device reports EVENT_TRANSFER_TX_COMPLETED or
// EVENT_TRANSFER_TX_FAILED.
func AcknowledgedData(channel byte, payload [PayloadSize]byte) Message {
	return New(IDAcknowledgedData, append([]byte{channel}, payload[:]...)...)
}

// ChannelEventMessage builds the channel event a device sends in response
// to command id on channel, or an RF event when id is EventIDRF.
func ChannelEventMessage(channel, id byte, code pkg.EventCode) Message {
	return New(IDChannelEvent, channel, id, byte(code))
}
