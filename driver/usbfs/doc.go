// Package usbfs connects to ANT USB sticks through the Linux usbfs
// interface, without cgo or libusb.
//
// Sticks are discovered by walking sysfs (/sys/bus/usb/devices) for a
// matching idVendor/idProduct, then opened through their device node in
// /dev/bus/usb. The bulk endpoints are driven with synchronous
// USBDEVFS_BULK ioctls bounded by a short timeout so the reader goroutine
// can observe cancellation.
//
// # Requirements
//
// The process needs read/write access to the device node, either by
// running as root or through a udev rule such as
//
//	SUBSYSTEM=="usb", ATTR{idVendor}=="0fcf", ATTR{idProduct}=="1008", MODE="0666"
package usbfs
