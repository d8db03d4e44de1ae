package usbfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// System paths.
const (
	SysfsUSBPath = "/sys/bus/usb/devices"
	DevfsUSBPath = "/dev/bus/usb"
)

// DeviceInfo describes a USB device found in sysfs.
type DeviceInfo struct {
	SysfsPath    string
	DevfsPath    string
	BusNum       uint8
	DevNum       uint8
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string
}

func (d DeviceInfo) String() string {
	s := fmt.Sprintf("%03d:%03d %04x:%04x", d.BusNum, d.DevNum, d.VendorID, d.ProductID)
	if d.Product != "" {
		s += " " + d.Product
	}
	return s
}

// ScanDevices lists the USB devices under root (normally SysfsUSBPath).
// Root hubs ("usbN") and interface entries ("1-1:1.0") are skipped, as are
// entries that cannot be parsed.
func ScanDevices(root string) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		info, err := parseDevice(filepath.Join(root, name))
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// FindDevices returns the devices under root matching vid:pid.
func FindDevices(root string, vid, pid uint16) ([]DeviceInfo, error) {
	all, err := ScanDevices(root)
	if err != nil {
		return nil, err
	}
	var found []DeviceInfo
	for _, d := range all {
		if d.VendorID == vid && d.ProductID == pid {
			found = append(found, d)
		}
	}
	return found, nil
}

func parseDevice(sysfsPath string) (DeviceInfo, error) {
	info := DeviceInfo{SysfsPath: sysfsPath}

	busNum, err := readUint8(filepath.Join(sysfsPath, "busnum"))
	if err != nil {
		return info, err
	}
	devNum, err := readUint8(filepath.Join(sysfsPath, "devnum"))
	if err != nil {
		return info, err
	}
	info.BusNum, info.DevNum = busNum, devNum
	info.DevfsPath = FormatDevfsPath(busNum, devNum)

	if info.VendorID, err = readHexUint16(filepath.Join(sysfsPath, "idVendor")); err != nil {
		return info, err
	}
	if info.ProductID, err = readHexUint16(filepath.Join(sysfsPath, "idProduct")); err != nil {
		return info, err
	}

	// Optional string descriptors.
	info.Manufacturer, _ = readString(filepath.Join(sysfsPath, "manufacturer"))
	info.Product, _ = readString(filepath.Join(sysfsPath, "product"))
	info.Serial, _ = readString(filepath.Join(sysfsPath, "serial"))
	return info, nil
}

// FormatDevfsPath returns the device node path for a bus/device pair.
func FormatDevfsPath(busNum, devNum uint8) string {
	return fmt.Sprintf("%s/%03d/%03d", DevfsUSBPath, busNum, devNum)
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

func readHexUint16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	return uint16(v), err
}
