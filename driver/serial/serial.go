// Package serial connects to ANT modules attached through a UART or a
// USB-serial bridge using go.bug.st/serial.
package serial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/pkg"
)

// Baud rates supported by ANT modules.
const (
	Baud57600  = 57600
	Baud115200 = 115200
)

// DefaultBaud is the rate used when none is given.
const DefaultBaud = Baud115200

// readTimeout bounds each read so the reader can observe cancellation.
const readTimeout = 100 * time.Millisecond

// Port is an open serial connection to an ANT module.
type Port struct {
	name string
	port serial.Port
}

var _ driver.Port = (*Port)(nil)

// Opener returns a driver.OpenFunc for the named serial device.
func Opener(name string, baud int) driver.OpenFunc {
	return func(ctx context.Context) (driver.Port, error) {
		return Open(name, baud)
	}
}

// Open opens name at baud (8N1).
func Open(name string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", pkg.ErrDeviceNotFound, name)
		}
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentDriver, "serial port opened", "port", name, "baud", baud)
	return &Port{name: name, port: p}, nil
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// ReadPacket reads whatever bytes are available, up to len(buf).
func (p *Port) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, pkg.ErrTimeout
	}
	return n, nil
}

// WritePacket writes data.
func (p *Port) WritePacket(ctx context.Context, data []byte) (int, error) {
	return p.port.Write(data)
}

// Close closes the port.
func (p *Port) Close() error {
	return p.port.Close()
}

func isNotFound(err error) bool {
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound
}
