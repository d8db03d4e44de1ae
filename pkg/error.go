package pkg

import (
	"errors"
	"fmt"
)

// Transport and lifecycle errors.
var (
	// ErrDriver indicates a fatal transport failure; the pump stops.
	ErrDriver = errors.New("driver error")

	// ErrDeviceNotFound indicates no ANT stick matched the requested IDs.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoDevice indicates the device was disconnected.
	ErrNoDevice = errors.New("device not present")

	// ErrBusy indicates the device is already in use.
	ErrBusy = errors.New("resource busy")

	// ErrClosed indicates the driver is not open.
	ErrClosed = errors.New("driver closed")

	// ErrTimeout indicates a read returned no data before its deadline.
	ErrTimeout = errors.New("read timeout")

	// ErrAborted indicates a blocking read was interrupted by Abort.
	ErrAborted = errors.New("read aborted")

	// ErrAlreadyRunning indicates the node is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the node is not running.
	ErrNotRunning = errors.New("not running")

	// ErrReset indicates outstanding requests were invalidated by a reset.
	ErrReset = errors.New("device reset")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Framing errors.
var (
	// ErrChecksum indicates a frame failed its XOR checksum.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrShortFrame indicates a frame or payload is shorter than required.
	ErrShortFrame = errors.New("short frame")

	// ErrBadSync indicates a frame does not start with the sync byte.
	ErrBadSync = errors.New("missing sync byte")
)

// Channel errors.
var (
	// ErrInvalidChannel indicates a channel number outside the device range.
	ErrInvalidChannel = errors.New("invalid channel number")

	// ErrChannelInUse indicates the channel slot is already occupied.
	ErrChannelInUse = errors.New("channel in use")

	// ErrChannelNotOpen indicates the channel slot is empty.
	ErrChannelNotOpen = errors.New("channel not open")
)

// Device-reported errors, selected by EventCode.
var (
	// ErrRxSearchTimeout indicates the channel gave up searching and closed.
	ErrRxSearchTimeout = errors.New("rx search timeout")

	// ErrRxFail indicates a receive slot passed without a message.
	ErrRxFail = errors.New("rx fail")

	// ErrTxFail indicates an acknowledged transmission was not acknowledged.
	ErrTxFail = errors.New("tx fail")

	// ErrTransferRxFailed indicates a burst or acknowledged receive failed.
	ErrTransferRxFailed = errors.New("transfer rx failed")

	// ErrRxFailGoToSearch indicates the channel lost its peer and went back to search.
	ErrRxFailGoToSearch = errors.New("rx fail, go to search")

	// ErrChannelCollision indicates two channels contended for the same slot.
	ErrChannelCollision = errors.New("channel collision")

	// ErrChannelInWrongState indicates the command is not valid in the channel state.
	ErrChannelInWrongState = errors.New("channel in wrong state")

	// ErrChannelNotOpened indicates data was sent on a channel that is not open.
	ErrChannelNotOpened = errors.New("channel not opened")

	// ErrChannelIDNotSet indicates the channel was opened before its ID was set.
	ErrChannelIDNotSet = errors.New("channel id not set")

	// ErrMessageSizeExceedsLimit indicates a message longer than the device accepts.
	ErrMessageSizeExceedsLimit = errors.New("message size exceeds limit")

	// ErrInvalidMessage indicates the device rejected a malformed message.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidNetwork indicates a network number outside the device range.
	ErrInvalidNetwork = errors.New("invalid network number")

	// ErrInvalidDeviceParameter indicates the device rejected a parameter.
	ErrInvalidDeviceParameter = errors.New("invalid device parameter")

	// ErrQueueOverflow indicates the device event queue overflowed.
	ErrQueueOverflow = errors.New("event queue overflow")

	// ErrSerial indicates the device reported a serial framing error.
	ErrSerial = errors.New("serial error")
)

// EventCode is the status byte of a channel event or channel response.
type EventCode uint8

// Event codes.
const (
	ResponseNoError            EventCode = 0x00
	EventRxSearchTimeout       EventCode = 0x01
	EventRxFail                EventCode = 0x02
	EventTx                    EventCode = 0x03
	EventTransferRxFailed      EventCode = 0x04
	EventTransferTxCompleted   EventCode = 0x05
	EventTransferTxFailed      EventCode = 0x06
	EventChannelClosed         EventCode = 0x07
	EventRxFailGoToSearch      EventCode = 0x08
	EventChannelCollision      EventCode = 0x09
	EventTransferTxStart       EventCode = 0x0A
	ChannelInWrongState        EventCode = 0x15
	ChannelNotOpened           EventCode = 0x16
	ChannelIDNotSet            EventCode = 0x18
	CloseAllChannels           EventCode = 0x19
	TransferInProgress         EventCode = 0x1F
	TransferSequenceNumberErr  EventCode = 0x20
	TransferInError            EventCode = 0x21
	MessageSizeExceedsLimit    EventCode = 0x27
	InvalidMessage             EventCode = 0x28
	InvalidNetworkNumber       EventCode = 0x29
	InvalidListID              EventCode = 0x30
	InvalidScanTxChannel       EventCode = 0x31
	InvalidParameterProvided   EventCode = 0x33
	EventSerialQueueOverflow   EventCode = 0x34
	EventQueueOverflow         EventCode = 0x35
	NVMFullError               EventCode = 0x40
	NVMWriteError              EventCode = 0x41
	UsbStringWriteFail         EventCode = 0x70
	MesgSerialErrorID          EventCode = 0xAE
)

var eventNames = map[EventCode]string{
	ResponseNoError:           "RESPONSE_NO_ERROR",
	EventRxSearchTimeout:      "EVENT_RX_SEARCH_TIMEOUT",
	EventRxFail:               "EVENT_RX_FAIL",
	EventTx:                   "EVENT_TX",
	EventTransferRxFailed:     "EVENT_TRANSFER_RX_FAILED",
	EventTransferTxCompleted:  "EVENT_TRANSFER_TX_COMPLETED",
	EventTransferTxFailed:     "EVENT_TRANSFER_TX_FAILED",
	EventChannelClosed:        "EVENT_CHANNEL_CLOSED",
	EventRxFailGoToSearch:     "EVENT_RX_FAIL_GO_TO_SEARCH",
	EventChannelCollision:     "EVENT_CHANNEL_COLLISION",
	EventTransferTxStart:      "EVENT_TRANSFER_TX_START",
	ChannelInWrongState:       "CHANNEL_IN_WRONG_STATE",
	ChannelNotOpened:          "CHANNEL_NOT_OPENED",
	ChannelIDNotSet:           "CHANNEL_ID_NOT_SET",
	CloseAllChannels:          "CLOSE_ALL_CHANNELS",
	TransferInProgress:        "TRANSFER_IN_PROGRESS",
	TransferSequenceNumberErr: "TRANSFER_SEQUENCE_NUMBER_ERROR",
	TransferInError:           "TRANSFER_IN_ERROR",
	MessageSizeExceedsLimit:   "MESSAGE_SIZE_EXCEEDS_LIMIT",
	InvalidMessage:            "INVALID_MESSAGE",
	InvalidNetworkNumber:      "INVALID_NETWORK_NUMBER",
	InvalidListID:             "INVALID_LIST_ID",
	InvalidScanTxChannel:      "INVALID_SCAN_TX_CHANNEL",
	InvalidParameterProvided:  "INVALID_PARAMETER_PROVIDED",
	EventSerialQueueOverflow:  "EVENT_SERIAL_QUE_OVERFLOW",
	EventQueueOverflow:        "EVENT_QUE_OVERFLOW",
	NVMFullError:              "NVM_FULL_ERROR",
	NVMWriteError:             "NVM_WRITE_ERROR",
	UsbStringWriteFail:        "USB_STRING_WRITE_FAIL",
	MesgSerialErrorID:         "MESG_SERIAL_ERROR_ID",
}

// String returns the ANT name of the event code.
func (c EventCode) String() string {
	if name, ok := eventNames[c]; ok {
		return name
	}
	return fmt.Sprintf("EVENT_0x%02X", uint8(c))
}

// Err returns the error for the event code. Codes that report progress
// rather than failure (RESPONSE_NO_ERROR, EVENT_TX, transfer completion,
// channel closed) return nil, as do codes with no dedicated sentinel; the
// caller renders those with String.
func (c EventCode) Err() error {
	switch c {
	case EventRxSearchTimeout:
		return ErrRxSearchTimeout
	case EventRxFail:
		return ErrRxFail
	case EventTransferTxFailed:
		return ErrTxFail
	case EventTransferRxFailed:
		return ErrTransferRxFailed
	case EventRxFailGoToSearch:
		return ErrRxFailGoToSearch
	case EventChannelCollision:
		return ErrChannelCollision
	case ChannelInWrongState:
		return ErrChannelInWrongState
	case ChannelNotOpened:
		return ErrChannelNotOpened
	case ChannelIDNotSet:
		return ErrChannelIDNotSet
	case MessageSizeExceedsLimit:
		return ErrMessageSizeExceedsLimit
	case InvalidMessage:
		return ErrInvalidMessage
	case InvalidNetworkNumber:
		return ErrInvalidNetwork
	case InvalidParameterProvided:
		return ErrInvalidDeviceParameter
	case EventQueueOverflow, EventSerialQueueOverflow:
		return ErrQueueOverflow
	default:
		return nil
	}
}

// DriverError wraps a failure of the underlying transport.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	if e.Err == nil {
		return "driver: " + e.Op
	}
	return "driver: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DriverError) Unwrap() error { return e.Err }

// Is reports ErrDriver for every DriverError.
func (e *DriverError) Is(target error) bool { return target == ErrDriver }

// ChannelError attributes a device-reported failure to a channel.
type ChannelError struct {
	Channel int
	Code    EventCode
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %v (%s)", e.Channel, e.Err, e.Code)
}

// Unwrap returns the sentinel selected by the event code.
func (e *ChannelError) Unwrap() error { return e.Err }

// NewChannelError returns a ChannelError for code, or nil when the code
// does not signal a failure.
func NewChannelError(channel int, code EventCode) error {
	err := code.Err()
	if err == nil {
		return nil
	}
	return &ChannelError{Channel: channel, Code: code, Err: err}
}

// SerialError is reported by the device when it received a malformed frame.
type SerialError struct {
	// Code is the first content byte: 0 bad sync, 2 bad checksum, 3 too large.
	Code    byte
	Content []byte
}

func (e *SerialError) Error() string {
	return fmt.Sprintf("serial error 0x%02X: % X", e.Code, e.Content)
}

// Is reports ErrSerial for every SerialError.
func (e *SerialError) Is(target error) bool { return target == ErrSerial }
