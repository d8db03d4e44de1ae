package message

// Sync is the first byte of every frame.
const Sync = 0xA4

// MaxContentSize is the largest content length a frame can carry.
const MaxContentSize = 0xFF

// Frame layout: sync, length and type precede the content, checksum follows.
const (
	HeaderSize  = 3
	TrailerSize = 1
)

// Configuration message IDs.
const (
	IDUnassignChannel    = 0x41
	IDAssignChannel      = 0x42
	IDChannelPeriod      = 0x43
	IDSearchTimeout      = 0x44
	IDChannelRFFrequency = 0x45
	IDSetNetworkKey      = 0x46
	IDTransmitPower      = 0x47
	IDChannelID          = 0x51
	IDEnableExtRx        = 0x66
	IDLibConfig          = 0x6E
)

// Control message IDs.
const (
	IDSystemReset    = 0x4A
	IDOpenChannel    = 0x4B
	IDCloseChannel   = 0x4C
	IDRequestMessage = 0x4D
	IDOpenRxScanMode = 0x5B
)

// Data message IDs.
const (
	IDBroadcastData    = 0x4E
	IDAcknowledgedData = 0x4F
	IDBurstData        = 0x50
)

// Notification, event and requested-response message IDs.
const (
	IDChannelEvent  = 0x40 // channel response or RF event
	IDVersion       = 0x3E
	IDChannelStatus = 0x52
	IDCapabilities  = 0x54
	IDSerialNumber  = 0x61
	IDStartup       = 0x6F
	IDSerialError   = 0xAE
)

// EventIDRF is the MessageID carried by channel events that report RF
// activity rather than responding to a command.
const EventIDRF = 0x01

// Channel types (ANT Message Protocol 5.2.1.1).
const (
	ChannelTypeBidirectionalReceive  = 0x00 // slave
	ChannelTypeBidirectionalTransmit = 0x10 // master
	ChannelTypeSharedReceive         = 0x20
	ChannelTypeSharedTransmit        = 0x30
	ChannelTypeReceiveOnly           = 0x40
	ChannelTypeTransmitOnly          = 0x50
)

// Channel states reported by channel status.
const (
	StateUnassigned = 0
	StateAssigned   = 1
	StateSearching  = 2
	StateTracking   = 3
)

// Extension flag bits of extended data messages.
const (
	FlagChannelID   = 0x80
	FlagRSSI        = 0x40
	FlagRxTimestamp = 0x20
)

// Lib config bits enabling extension blocks on received data.
const (
	LibConfigChannelID   = 0x80
	LibConfigRSSI        = 0x40
	LibConfigRxTimestamp = 0x20
)

// Startup reasons, as bits of the startup message.
const (
	StartupPowerOn     = 0x00
	StartupHWReset     = 0x01
	StartupWatchdog    = 0x02
	StartupCommand     = 0x20
	StartupSynchronous = 0x40
	StartupSuspend     = 0x80
)

// DefaultFrequency is the RF frequency, in MHz, used by ANT+ devices.
const DefaultFrequency = 2457

// BaseFrequency is the offset subtracted from a frequency in MHz to
// obtain the RF frequency byte.
const BaseFrequency = 2400

// NetworkKeySize is the length of a network key.
const NetworkKeySize = 8

// ANTPlusNetworkKey is the public ANT+ managed network key.
var ANTPlusNetworkKey = [NetworkKeySize]byte{0xB9, 0xA5, 0x21, 0xFB, 0xBD, 0x72, 0xC3, 0x45}

var idNames = map[byte]string{
	IDUnassignChannel:    "UnassignChannel",
	IDAssignChannel:      "AssignChannel",
	IDChannelPeriod:      "ChannelPeriod",
	IDSearchTimeout:      "SearchTimeout",
	IDChannelRFFrequency: "ChannelRFFrequency",
	IDSetNetworkKey:      "SetNetworkKey",
	IDTransmitPower:      "TransmitPower",
	IDChannelID:          "ChannelID",
	IDEnableExtRx:        "EnableExtRx",
	IDLibConfig:          "LibConfig",
	IDSystemReset:        "SystemReset",
	IDOpenChannel:        "OpenChannel",
	IDCloseChannel:       "CloseChannel",
	IDRequestMessage:     "RequestMessage",
	IDOpenRxScanMode:     "OpenRxScanMode",
	IDBroadcastData:      "BroadcastData",
	IDAcknowledgedData:   "AcknowledgedData",
	IDBurstData:          "BurstData",
	IDChannelEvent:       "ChannelEvent",
	IDVersion:            "Version",
	IDChannelStatus:      "ChannelStatus",
	IDCapabilities:       "Capabilities",
	IDSerialNumber:       "SerialNumber",
	IDStartup:            "Startup",
	IDSerialError:        "SerialError",
}

// IDName returns a readable name for a message ID.
func IDName(id byte) string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return "Unknown"
}
