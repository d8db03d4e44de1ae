//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64 || s390x)

package usbfs

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/pkg"
)

// pollInterval bounds each bulk IN transfer.
const pollInterval = 100 * time.Millisecond

// ANT sticks expose their bulk endpoints on interface 0.
const antInterface = 0

// Port is an open ANT stick.
type Port struct {
	info DeviceInfo
	fd   int
}

var _ driver.Port = (*Port)(nil)

// Opener returns a driver.OpenFunc for the first stick matching vid:pid.
func Opener(vid, pid uint16) driver.OpenFunc {
	return func(ctx context.Context) (driver.Port, error) {
		return Open(vid, pid)
	}
}

// Open finds the first stick matching vid:pid in sysfs, opens its device
// node and claims interface 0, detaching the kernel driver if one is bound.
func Open(vid, pid uint16) (*Port, error) {
	found, err := FindDevices(SysfsUSBPath, vid, pid)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %04x:%04x", pkg.ErrDeviceNotFound, vid, pid)
	}
	return OpenDevice(found[0])
}

// OpenDevice opens a device found by ScanDevices.
func OpenDevice(info DeviceInfo) (*Port, error) {
	fd, err := unix.Open(info.DevfsPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.DevfsPath, err)
	}
	p := &Port{info: info, fd: fd}

	if err := p.disconnectDriver(antInterface); err != nil && !errors.Is(err, unix.ENODATA) {
		pkg.LogDebug(pkg.ComponentDriver, "kernel driver not detached", "device", info, "error", err)
	}
	if err := p.claimInterface(antInterface); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("claim interface: %w", err)
	}

	pkg.LogInfo(pkg.ComponentDriver, "usbfs stick opened", "device", info.String())
	return p, nil
}

// ReadPacket performs one bulk IN transfer.
func (p *Port) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.bulk(driver.EndpointIn, buf, pollInterval)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, pkg.ErrTimeout
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ESHUTDOWN):
		return 0, pkg.ErrNoDevice
	default:
		return 0, err
	}
}

// WritePacket performs one bulk OUT transfer.
func (p *Port) WritePacket(ctx context.Context, data []byte) (int, error) {
	timeout := driver.DefaultWriteTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	n, err := p.bulk(driver.EndpointOut, data, timeout)
	if errors.Is(err, unix.ENODEV) {
		return n, pkg.ErrNoDevice
	}
	return n, err
}

// Close releases the interface, reattaches the kernel driver and closes
// the device node.
func (p *Port) Close() error {
	if p.fd < 0 {
		return nil
	}
	p.releaseInterface(antInterface)
	p.connectDriver(antInterface)
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

// =============================================================================
// usbfs Operations
// =============================================================================

func (p *Port) bulk(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	xfer := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  uint32(ms),
		data:     unsafe.Pointer(&data[0]),
	}
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), ioctlBulk, uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

func (p *Port) claimInterface(iface uint32) error {
	return p.ioctl(ioctlClaimInterface, unsafe.Pointer(&iface))
}

func (p *Port) releaseInterface(iface uint32) error {
	return p.ioctl(ioctlReleaseInterface, unsafe.Pointer(&iface))
}

func (p *Port) disconnectDriver(iface int32) error {
	cmd := usbIoctl{ifno: iface, ioctlCode: int32(ioctlDisconnect)}
	return p.ioctl(ioctlIoctl, unsafe.Pointer(&cmd))
}

func (p *Port) connectDriver(iface int32) error {
	cmd := usbIoctl{ifno: iface, ioctlCode: int32(ioctlConnect)}
	return p.ioctl(ioctlIoctl, unsafe.Pointer(&cmd))
}

func (p *Port) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
