//go:build !(linux && (386 || amd64 || arm || arm64 || riscv64 || loong64 || s390x))

package usbfs

import (
	"context"
	"fmt"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/pkg"
)

// Opener returns a driver.OpenFunc that always fails: usbfs is only
// available on Linux.
func Opener(vid, pid uint16) driver.OpenFunc {
	return func(ctx context.Context) (driver.Port, error) {
		return nil, fmt.Errorf("%w: usbfs requires linux", pkg.ErrDeviceNotFound)
	}
}
