package pkg

import (
	"errors"
	"strings"
	"testing"
)

func TestEventCode_String(t *testing.T) {
	tests := []struct {
		code EventCode
		want string
	}{
		{ResponseNoError, "RESPONSE_NO_ERROR"},
		{EventRxSearchTimeout, "EVENT_RX_SEARCH_TIMEOUT"},
		{EventRxFail, "EVENT_RX_FAIL"},
		{EventTransferTxFailed, "EVENT_TRANSFER_TX_FAILED"},
		{MessageSizeExceedsLimit, "MESSAGE_SIZE_EXCEEDS_LIMIT"},
		{ChannelInWrongState, "CHANNEL_IN_WRONG_STATE"},
		{EventCode(0x99), "EVENT_0x99"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.String(); got != tt.want {
				t.Errorf("EventCode.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventCode_Err(t *testing.T) {
	tests := []struct {
		code    EventCode
		wantErr error
	}{
		{ResponseNoError, nil},
		{EventTx, nil},
		{EventTransferTxCompleted, nil},
		{EventChannelClosed, nil},
		{EventRxSearchTimeout, ErrRxSearchTimeout},
		{EventRxFail, ErrRxFail},
		{EventTransferTxFailed, ErrTxFail},
		{EventRxFailGoToSearch, ErrRxFailGoToSearch},
		{MessageSizeExceedsLimit, ErrMessageSizeExceedsLimit},
		{ChannelInWrongState, ErrChannelInWrongState},
		{InvalidNetworkNumber, ErrInvalidNetwork},
		{EventQueueOverflow, ErrQueueOverflow},
		{EventCode(0x99), nil},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := tt.code.Err()
			if tt.wantErr == nil && err != nil {
				t.Errorf("EventCode.Err() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("EventCode.Err() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewChannelError(t *testing.T) {
	if err := NewChannelError(1, ResponseNoError); err != nil {
		t.Fatalf("NewChannelError(no error) = %v, want nil", err)
	}

	err := NewChannelError(3, EventRxSearchTimeout)
	if !errors.Is(err, ErrRxSearchTimeout) {
		t.Fatalf("errors.Is(%v, ErrRxSearchTimeout) = false", err)
	}
	var chErr *ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("errors.As(%v, *ChannelError) = false", err)
	}
	if chErr.Channel != 3 {
		t.Errorf("Channel = %d, want 3", chErr.Channel)
	}
	if !strings.Contains(err.Error(), "EVENT_RX_SEARCH_TIMEOUT") {
		t.Errorf("Error() = %q, missing event name", err.Error())
	}
}

func TestDriverError(t *testing.T) {
	cause := errors.New("no such device")
	err := error(&DriverError{Op: "read", Err: cause})

	if !errors.Is(err, ErrDriver) {
		t.Error("DriverError should match ErrDriver")
	}
	if !errors.Is(err, cause) {
		t.Error("DriverError should unwrap to its cause")
	}
	if got, want := err.Error(), "driver: read: no such device"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSerialError(t *testing.T) {
	err := error(&SerialError{Code: 2, Content: []byte{2, 0xA4}})
	if !errors.Is(err, ErrSerial) {
		t.Error("SerialError should match ErrSerial")
	}
	if errors.Is(err, ErrDriver) {
		t.Error("SerialError should not match ErrDriver")
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrDriver,
		ErrDeviceNotFound,
		ErrNoDevice,
		ErrBusy,
		ErrClosed,
		ErrTimeout,
		ErrAborted,
		ErrAlreadyRunning,
		ErrNotRunning,
		ErrReset,
		ErrInvalidParameter,
		ErrChecksum,
		ErrShortFrame,
		ErrBadSync,
		ErrInvalidChannel,
		ErrChannelInUse,
		ErrChannelNotOpen,
		ErrRxSearchTimeout,
		ErrRxFail,
		ErrTxFail,
		ErrTransferRxFailed,
		ErrRxFailGoToSearch,
		ErrChannelCollision,
		ErrChannelInWrongState,
		ErrChannelNotOpened,
		ErrChannelIDNotSet,
		ErrMessageSizeExceedsLimit,
		ErrInvalidMessage,
		ErrInvalidNetwork,
		ErrInvalidDeviceParameter,
		ErrQueueOverflow,
		ErrSerial,
	}

	for i, err1 := range errs {
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d (%v) should not match error %d (%v)", i, err1, j, err2)
			}
		}
	}
}
