// Package gousb connects to ANT USB sticks through libusb using
// github.com/google/gousb.
package gousb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/softant/driver"
	"github.com/ardnew/softant/pkg"
)

// pollInterval bounds each bulk IN transfer so the reader can observe
// cancellation.
const pollInterval = 100 * time.Millisecond

// Port is an open ANT stick.
type Port struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

var _ driver.Port = (*Port)(nil)

// Opener returns a driver.OpenFunc for the first stick matching vid:pid.
func Opener(vid, pid uint16) driver.OpenFunc {
	return func(ctx context.Context) (driver.Port, error) {
		return Open(vid, pid)
	}
}

// Open claims the default interface of the first stick matching vid:pid,
// detaching any kernel driver bound to it.
func Open(vid, pid uint16) (p *Port, err error) {
	p = &Port{ctx: gousb.NewContext()}
	defer func() {
		if err != nil {
			p.Close()
			p = nil
		}
	}()

	p.dev, err = p.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, err
	}
	if p.dev == nil {
		return nil, fmt.Errorf("%w: %04x:%04x", pkg.ErrDeviceNotFound, vid, pid)
	}
	if err = p.dev.SetAutoDetach(true); err != nil {
		return nil, err
	}

	intf, done, err := p.dev.DefaultInterface()
	if err != nil {
		return nil, err
	}
	p.done = done

	if p.out, err = intf.OutEndpoint(driver.EndpointOut & 0x0F); err != nil {
		return nil, err
	}
	if p.in, err = intf.InEndpoint(driver.EndpointIn & 0x0F); err != nil {
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentDriver, "usb stick opened", "device", p.dev.String())
	return p, nil
}

// ReadPacket reads one bulk IN transfer.
func (p *Port) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, pollInterval)
	defer cancel()

	n, err := p.in.ReadContext(rctx, buf)
	if err == nil || n > 0 {
		return n, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if rctx.Err() != nil || errors.Is(err, gousb.TransferTimedOut) || errors.Is(err, gousb.TransferCancelled) {
		return 0, pkg.ErrTimeout
	}
	return 0, err
}

// WritePacket writes one bulk OUT transfer.
func (p *Port) WritePacket(ctx context.Context, data []byte) (int, error) {
	return p.out.WriteContext(ctx, data)
}

// Close releases the interface, the device and the libusb context.
func (p *Port) Close() error {
	if p.done != nil {
		p.done()
		p.done = nil
	}
	var err error
	if p.dev != nil {
		err = p.dev.Close()
		p.dev = nil
	}
	if p.ctx != nil {
		if cerr := p.ctx.Close(); err == nil {
			err = cerr
		}
		p.ctx = nil
	}
	return err
}
