// Package driver defines the transport contract between the ANT node and
// a physical (or simulated) ANT stick.
//
// The node's pump is the only caller of [Driver.Read] and [Driver.Write].
// Backends implement the smaller packet-oriented [Port] interface and are
// wrapped by [Stream], which runs a background reader goroutine that moves
// every received packet into an internal byte queue. Reads are served from
// that queue with a timeout and never touch the hardware directly.
//
// # Backends
//
//   - [github.com/ardnew/softant/driver/gousb]: libusb via gousb
//   - [github.com/ardnew/softant/driver/usbfs]: pure-Go Linux usbfs
//   - [github.com/ardnew/softant/driver/serial]: UART-attached sticks
//   - [github.com/ardnew/softant/driver/sim]: in-process simulated stick
//
// # Example
//
//	drv := driver.NewStream("usb", gousb.Opener(gousb.VendorDynastream, gousb.ProductANTUSB2))
//	if err := drv.Open(); err != nil {
//	    return err
//	}
//	defer drv.Close()
package driver
