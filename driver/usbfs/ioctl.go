//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64 || s390x)

package usbfs

import "unsafe"

// Generic ioctl number layout:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type
//	bits 16-29: argument size
//	bits 30-31: direction
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

const usbdevfsType = 'U'

// bulkTransfer matches struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // ms
	data     unsafe.Pointer
}

// usbIoctl matches struct usbdevfs_ioctl.
type usbIoctl struct {
	ifno      int32
	ioctlCode int32
	data      unsafe.Pointer
}

var (
	ioctlBulk             = ioc(iocRead|iocWrite, usbdevfsType, 2, unsafe.Sizeof(bulkTransfer{}))
	ioctlClaimInterface   = ioc(iocRead, usbdevfsType, 15, 4)
	ioctlReleaseInterface = ioc(iocRead, usbdevfsType, 16, 4)
	ioctlIoctl            = ioc(iocRead|iocWrite, usbdevfsType, 18, unsafe.Sizeof(usbIoctl{}))
	ioctlDisconnect       = ioc(iocNone, usbdevfsType, 22, 0)
	ioctlConnect          = ioc(iocNone, usbdevfsType, 23, 0)
)
