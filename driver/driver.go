package driver

import (
	"context"
	"time"
)

// USB identifiers of Dynastream ANT sticks.
const (
	VendorDynastream = 0x0FCF
	ProductANTUSB2   = 0x1008
	ProductANTUSBM   = 0x1009
)

// Bulk endpoints used by ANT USB sticks.
const (
	EndpointOut = 0x01
	EndpointIn  = 0x81
)

// PacketSize is the largest packet an ANT stick sends in one transfer.
const PacketSize = 64

// Driver is a byte-stream transport to an ANT stick.
//
// Open and Close are idempotent. Abort unblocks a pending Read, which then
// returns pkg.ErrAborted. Read returns up to count bytes, pkg.ErrTimeout if
// none arrived within timeout, or a *pkg.DriverError once the device is
// gone. Open, Close and Abort may be called from any goroutine; Read and
// Write are called from a single goroutine.
type Driver interface {
	// Lifecycle

	Open() error
	Close() error
	Abort()
	IsOpen() bool

	// Data

	Read(count int, timeout time.Duration) ([]byte, error)
	Write(data []byte) error
}

// Port is one open connection to a device, exchanging whole packets.
//
// ReadPacket blocks until a packet arrives, ctx is done, or a
// backend-specific poll interval elapses; in the last case it returns
// pkg.ErrTimeout and the caller polls again.
type Port interface {
	ReadPacket(ctx context.Context, buf []byte) (int, error)
	WritePacket(ctx context.Context, data []byte) (int, error)
	Close() error
}

// OpenFunc connects to a device and returns its Port.
type OpenFunc func(ctx context.Context) (Port, error)
