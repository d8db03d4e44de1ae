// Package sim provides an in-process simulated ANT stick.
//
// A [Stick] answers the host the way a real ANT USB stick does: a system
// reset produces a startup message, configuration commands are answered
// with RESPONSE_NO_ERROR, requested messages (capabilities, channel status,
// channel ID, serial number, version) are served from the stick's state,
// and an opened channel either pairs with a configured [Sensor] and starts
// broadcasting, or reports EVENT_RX_SEARCH_TIMEOUT and closes itself.
//
//	stick := sim.New(sim.WithSensor(sim.Sensor{DeviceNumber: 4242, DeviceType: 0x78}))
//	drv := driver.NewStream("sim", stick.Open)
//
// The stick is intended for tests and demos; it does not model RF timing.
package sim
