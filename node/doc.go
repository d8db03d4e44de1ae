// Package node drives an ANT stick: it owns the transport, multiplexes
// logical channels over it and turns the device's asynchronous replies
// into blocking calls.
//
// # Architecture
//
// One Pump goroutine performs all device I/O. Everything else talks to it
// through joinable queues:
//
//	Node.OpenChannel ──► config queue ──┐
//	Channel.Open     ──► channel ctrl ──┤
//	Node.Reset       ──► control queue ─┼──► Pump ──► Driver.Write
//	Node.SendTx      ──► channel tx ────┘      │
//	                                           ▼
//	onSuccess / onFailure ◄── dispatch ◄── Driver.Read
//
// Every outbound Request carries a one-shot completion handle. When the
// Pump writes a request that expects a reply it records a Waiter; the
// dispatch table resolves the oldest matching Waiter exactly once and marks
// the originating queue item done, so both Request.Wait and Queue.Join
// observe completion.
//
// # Channels
//
// A Channel is configured (network key, assign, channel ID, RF frequency,
// period, search timeout, in that order), opened, and then handed to a
// lifecycle goroutine that waits for the first broadcast from the sensor.
// If the device reports a search timeout instead, the channel tears itself
// down and its slot on the Node is cleared without any call from the
// application.
//
// # Errors
//
// Transport failures (*pkg.DriverError) stop the Pump and fail every
// outstanding request. Per-message failures such as pkg.ErrRxFail and
// pkg.ErrTxFail are reported through the failure callback and the Pump
// keeps running. Caller mistakes (bad channel number, slot in use) are
// returned directly from the Node method.
package node
