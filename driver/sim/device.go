package sim

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

// receive accumulates host bytes and handles every complete frame.
func (st *Stick) receive(data []byte) {
	st.mu.Lock()
	st.pending = append(st.pending, data...)
	var frames []message.Message
	for {
		// Skip to sync.
		i := 0
		for i < len(st.pending) && st.pending[i] != message.Sync {
			i++
		}
		st.pending = st.pending[i:]
		if len(st.pending) < message.HeaderSize {
			break
		}
		size := message.HeaderSize + int(st.pending[1]) + message.TrailerSize
		if len(st.pending) < size {
			break
		}
		var m message.Message
		if err := m.UnmarshalBinary(st.pending[:size]); err != nil {
			st.pending = st.pending[1:]
			st.sendLocked(message.New(message.IDSerialError, 2))
			continue
		}
		st.pending = st.pending[size:]
		frames = append(frames, m)
	}
	st.mu.Unlock()

	for _, m := range frames {
		st.handle(m)
	}
}

func (st *Stick) handle(m message.Message) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ch := m.Channel()
	switch m.ID {
	case message.IDSystemReset:
		st.resetLocked()
		st.after(st.resetDelay, func() {
			st.sendLocked(message.New(message.IDStartup, message.StartupCommand))
		})

	case message.IDSetNetworkKey:
		code := pkg.ResponseNoError
		if ch >= st.maxNetworks {
			code = pkg.InvalidNetworkNumber
		}
		st.respondLocked(m, code)

	case message.IDLibConfig:
		if len(m.Content) > 1 {
			st.libFlags = m.Content[1]
		}
		st.respondLocked(m, pkg.ResponseNoError)

	case message.IDEnableExtRx:
		if len(m.Content) > 1 && m.Content[1] != 0 {
			st.libFlags |= message.LibConfigChannelID
		}
		st.respondLocked(m, pkg.ResponseNoError)

	case message.IDAssignChannel:
		c, ok := st.channelLocked(m)
		if !ok {
			return
		}
		if len(m.Content) < 2 {
			st.respondLocked(m, pkg.InvalidMessage)
			return
		}
		if c.assigned {
			st.respondLocked(m, pkg.ChannelInWrongState)
			return
		}
		c.assigned = true
		c.channelType = m.Content[1]
		if len(m.Content) > 2 {
			c.network = m.Content[2]
		}
		st.respondLocked(m, pkg.ResponseNoError)

	case message.IDUnassignChannel:
		c, ok := st.channelLocked(m)
		if !ok {
			return
		}
		if !c.assigned || c.open {
			st.respondLocked(m, pkg.ChannelInWrongState)
			return
		}
		*c = channelState{gen: c.gen}
		st.respondLocked(m, pkg.ResponseNoError)

	case message.IDChannelID:
		c, ok := st.channelLocked(m)
		if !ok {
			return
		}
		if len(m.Content) >= 5 {
			c.deviceNum = binary.LittleEndian.Uint16(m.Content[1:3])
			c.deviceType = m.Content[3]
			c.transType = m.Content[4]
		}
		st.respondLocked(m, pkg.ResponseNoError)

	case message.IDChannelRFFrequency, message.IDChannelPeriod, message.IDSearchTimeout, message.IDTransmitPower:
		if _, ok := st.channelLocked(m); ok {
			st.respondLocked(m, pkg.ResponseNoError)
		}

	case message.IDOpenChannel:
		c, ok := st.channelLocked(m)
		if !ok {
			return
		}
		if !c.assigned || c.open {
			st.respondLocked(m, pkg.ChannelInWrongState)
			return
		}
		c.open = true
		c.gen++
		st.respondLocked(m, pkg.ResponseNoError)
		st.searchLocked(byte(ch), c)

	case message.IDOpenRxScanMode:
		c := &st.channels[0]
		if !c.assigned || c.open {
			st.respondLocked(m, pkg.ChannelInWrongState)
			return
		}
		c.open = true
		c.scanning = true
		c.gen++
		st.respondLocked(m, pkg.ResponseNoError)
		gen := c.gen
		st.after(st.searchDelay, func() {
			if c.scanning && c.gen == gen && len(st.sensors) > 0 {
				st.streamLocked(0, c, st.sensors)
			}
		})

	case message.IDCloseChannel:
		c, ok := st.channelLocked(m)
		if !ok {
			return
		}
		if !c.open {
			st.respondLocked(m, pkg.ChannelInWrongState)
			return
		}
		st.closeChannelLocked(c)
		st.respondLocked(m, pkg.ResponseNoError)
		st.sendLocked(message.ChannelEventMessage(byte(ch), message.EventIDRF, pkg.EventChannelClosed))

	case message.IDRequestMessage:
		st.requestLocked(m)

	case message.IDAcknowledgedData, message.IDBroadcastData, message.IDBurstData:
		st.received = append(st.received, m)
		c, ok := st.channelLocked(m)
		if !ok {
			return
		}
		if !c.open {
			st.respondLocked(m, pkg.ChannelNotOpened)
			return
		}
		switch {
		case m.ID == message.IDBroadcastData:
			st.sendLocked(message.ChannelEventMessage(byte(ch), message.EventIDRF, pkg.EventTx))
		case !c.tracking:
			st.sendLocked(message.ChannelEventMessage(byte(ch), message.EventIDRF, pkg.EventTransferTxFailed))
		case c.txFailures > 0:
			c.txFailures--
			st.sendLocked(message.ChannelEventMessage(byte(ch), message.EventIDRF, pkg.EventTransferTxFailed))
		default:
			st.sendLocked(message.ChannelEventMessage(byte(ch), message.EventIDRF, pkg.EventTransferTxCompleted))
		}

	default:
		st.respondLocked(m, pkg.InvalidMessage)
	}
}

func (st *Stick) requestLocked(m message.Message) {
	if len(m.Content) < 2 {
		st.respondLocked(m, pkg.InvalidMessage)
		return
	}
	ch, id := m.Content[0], m.Content[1]
	switch id {
	case message.IDCapabilities:
		st.sendLocked(message.New(message.IDCapabilities,
			byte(st.maxChannels), byte(st.maxNetworks), 0xFF, 0xFF, 0xFF, 0, 0, 0))

	case message.IDSerialNumber:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], st.serial)
		st.sendLocked(message.New(message.IDSerialNumber, b[:]...))

	case message.IDVersion:
		st.sendLocked(message.New(message.IDVersion, append([]byte(st.version), 0)...))

	case message.IDChannelStatus:
		if int(ch) >= len(st.channels) {
			st.respondLocked(m, pkg.InvalidParameterProvided)
			return
		}
		c := &st.channels[ch]
		state := byte(message.StateUnassigned)
		switch {
		case c.tracking:
			state = message.StateTracking
		case c.open:
			state = message.StateSearching
		case c.assigned:
			state = message.StateAssigned
		}
		st.sendLocked(message.New(message.IDChannelStatus, ch, c.channelType|c.network<<2|state))

	case message.IDChannelID:
		if int(ch) >= len(st.channels) {
			st.respondLocked(m, pkg.InvalidParameterProvided)
			return
		}
		c := &st.channels[ch]
		num, typ, trans := c.deviceNum, c.deviceType, c.transType
		if c.sensor != nil {
			num, typ, trans = c.sensor.DeviceNumber, c.sensor.DeviceType, c.sensor.TransType
		}
		st.sendLocked(message.SetChannelID(ch, num, typ, trans))

	default:
		st.respondLocked(m, pkg.InvalidMessage)
	}
}

// searchLocked pairs channel ch with the first matching sensor after the
// search delay, or times the search out.
func (st *Stick) searchLocked(ch byte, c *channelState) {
	var match *Sensor
	for i := range st.sensors {
		s := &st.sensors[i]
		if (c.deviceNum == 0 || c.deviceNum == s.DeviceNumber) &&
			(c.deviceType == 0 || c.deviceType&0x7F == s.DeviceType&0x7F) {
			match = s
			break
		}
	}

	gen := c.gen
	if match == nil {
		st.after(st.searchTimeout, func() {
			if !c.open || c.tracking || c.gen != gen {
				return
			}
			c.open = false
			st.sendLocked(message.ChannelEventMessage(ch, message.EventIDRF, pkg.EventRxSearchTimeout))
			st.sendLocked(message.ChannelEventMessage(ch, message.EventIDRF, pkg.EventChannelClosed))
		})
		return
	}

	sensor := *match
	c.txFailures = sensor.TxFailures
	st.after(st.searchDelay, func() {
		if !c.open || c.gen != gen {
			return
		}
		c.tracking = true
		c.sensor = &sensor
		st.broadcastLocked(ch, c)
	})
}

func (st *Stick) broadcastLocked(ch byte, c *channelState) {
	st.streamLocked(ch, c, []Sensor{*c.sensor})
}

// streamLocked sends one broadcast per sensor on channel ch every
// interval until c is closed. A scanning channel streams every sensor.
func (st *Stick) streamLocked(ch byte, c *channelState, sensors []Sensor) {
	ctx, cancel := context.WithCancel(st.ctx)
	c.cancel = cancel
	sensors = append([]Sensor(nil), sensors...)

	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		ticker := time.NewTicker(st.interval)
		defer ticker.Stop()
		for n := 0; ; n++ {
			st.mu.Lock()
			if ctx.Err() == nil {
				for i := range sensors {
					st.sendLocked(st.frameLocked(ch, &sensors[i], n))
				}
			}
			st.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// frameLocked builds sensor's n-th broadcast, appending its channel ID
// when the host enabled that extension.
func (st *Stick) frameLocked(ch byte, sensor *Sensor, n int) message.Message {
	b := message.Broadcast{Channel: ch, Payload: sensor.page(n)}
	if st.libFlags&message.LibConfigChannelID != 0 {
		b.Flag = message.FlagChannelID
		b.DeviceNumber = sensor.DeviceNumber
		b.DeviceType = sensor.DeviceType
		b.TransType = sensor.TransType
	}
	return b.Message()
}

func (st *Stick) closeChannelLocked(c *channelState) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.open = false
	c.tracking = false
	c.scanning = false
	c.sensor = nil
}

func (st *Stick) resetLocked() {
	for i := range st.channels {
		st.closeChannelLocked(&st.channels[i])
		st.channels[i] = channelState{gen: st.channels[i].gen}
	}
	st.libFlags = 0
}

// channelLocked returns the addressed channel, answering with
// INVALID_PARAMETER_PROVIDED when the number is out of range.
func (st *Stick) channelLocked(m message.Message) (*channelState, bool) {
	ch := m.Channel()
	if ch < 0 || ch >= len(st.channels) {
		st.respondLocked(m, pkg.InvalidParameterProvided)
		return nil, false
	}
	return &st.channels[ch], true
}

func (st *Stick) respondLocked(m message.Message, code pkg.EventCode) {
	ch := m.Channel()
	if ch < 0 {
		ch = 0
	}
	st.sendLocked(message.ChannelEventMessage(byte(ch), m.ID, code))
}

func (st *Stick) sendLocked(m message.Message) {
	frame, err := m.MarshalBinary()
	if err != nil || st.out == nil {
		return
	}
	select {
	case st.out <- frame:
	default:
		pkg.LogWarn(pkg.ComponentDriver, "sim output full, dropping", "message", m)
	}
}

// after runs fn with the stick locked once d has elapsed, unless the
// stick is closed first.
func (st *Stick) after(d time.Duration, fn func()) {
	ctx := st.ctx
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		if ctx.Err() == nil {
			fn()
		}
	}()
}
