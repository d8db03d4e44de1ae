package server

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/pkg"
)

// Event topics.
const (
	TopicBroadcast = "broadcast"
	TopicEvent     = "event"
	TopicError     = "error"
)

// Topics lists every topic, the default subscription of /stream.
var Topics = []string{TopicBroadcast, TopicEvent, TopicError}

// DefaultCapacity is the per-subscriber buffer of a Broker.
const DefaultCapacity = 64

// Event is the JSON envelope sent to stream subscribers.
type Event struct {
	Topic   string    `json:"topic"`
	Time    time.Time `json:"time"`
	Channel *int      `json:"channel,omitempty"`
	Data    any       `json:"data"`
}

// BroadcastData is the JSON form of a received data message.
type BroadcastData struct {
	Type         string `json:"type"`
	Page         byte   `json:"page"`
	Payload      string `json:"payload"`
	DeviceNumber uint16 `json:"device_number,omitempty"`
	DeviceType   byte   `json:"device_type,omitempty"`
	TransType    byte   `json:"trans_type,omitempty"`
	RSSI         *int8  `json:"rssi,omitempty"`
	RxTimestamp  uint16 `json:"rx_timestamp,omitempty"`
}

// ErrorData is the JSON form of a failure.
type ErrorData struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Broker fans Node callbacks out to subscribers. Publishing never blocks
// the Pump: a subscriber whose buffer is full misses the event.
type Broker struct {
	ps *pubsub.PubSub

	// The pubsub loop exits on shutdown; later calls would block on it.
	mu     sync.RWMutex
	closed bool
}

// NewBroker returns a Broker buffering capacity events per subscriber.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broker{ps: pubsub.New(capacity)}
}

// OnSuccess publishes a decoded message. It has the signature of the
// Node's success callback.
func (b *Broker) OnSuccess(v any) {
	switch m := v.(type) {
	case *message.Broadcast:
		b.publish(TopicBroadcast, channelPtr(int(m.Channel)), broadcastData(m))
	case message.ChannelEvent:
		b.publish(TopicEvent, channelPtr(int(m.Channel)), m.String())
	case fmt.Stringer:
		b.publish(TopicEvent, nil, m.String())
	default:
		b.publish(TopicEvent, nil, v)
	}
}

// OnFailure publishes an error. It has the signature of the Node's
// failure callback.
func (b *Broker) OnFailure(err error) {
	data := ErrorData{Error: err.Error()}
	var ch *int
	var chErr *pkg.ChannelError
	if errors.As(err, &chErr) {
		ch = channelPtr(chErr.Channel)
		data.Code = chErr.Code.String()
	}
	b.publish(TopicError, ch, data)
}

// Subscribe returns a channel receiving events on topics. After Close it
// returns a closed channel.
func (b *Broker) Subscribe(topics ...string) chan interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(chan interface{})
		close(ch)
		return ch
	}
	return b.ps.Sub(topics...)
}

// Unsubscribe removes sub from every topic and closes it.
func (b *Broker) Unsubscribe(sub chan interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.closed {
		b.ps.Unsub(sub)
	}
}

// Close shuts the broker down, closing every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.ps.Shutdown()
	}
}

func (b *Broker) publish(topic string, channel *int, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.closed {
		b.ps.TryPub(Event{Topic: topic, Time: time.Now(), Channel: channel, Data: data}, topic)
	}
}

func broadcastData(m *message.Broadcast) BroadcastData {
	d := BroadcastData{
		Type:    message.IDName(m.ID),
		Page:    m.Page(),
		Payload: hex.EncodeToString(m.Payload[:]),
	}
	if m.HasChannelID() {
		d.DeviceNumber, d.DeviceType, d.TransType = m.DeviceNumber, m.DeviceType, m.TransType
	}
	if m.HasRSSI() {
		rssi := m.RSSI
		d.RSSI = &rssi
	}
	if m.HasRxTimestamp() {
		d.RxTimestamp = m.RxTimestamp
	}
	return d
}

func channelPtr(n int) *int { return &n }
