package profile

import (
	"sync"

	"github.com/ardnew/softant/message"
)

// Filter passes broadcasts from an allowlist of device numbers. A disabled
// filter passes everything. It is safe for concurrent use.
type Filter struct {
	mu      sync.RWMutex
	enabled bool
	devices map[uint16]struct{}
}

// NewFilter returns a disabled filter.
func NewFilter() *Filter {
	return &Filter{devices: make(map[uint16]struct{})}
}

// Enable starts filtering.
func (f *Filter) Enable() {
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
}

// Disable passes every broadcast. The allowlist is kept.
func (f *Filter) Disable() {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
}

// Add allows broadcasts from device.
func (f *Filter) Add(device uint16) {
	f.mu.Lock()
	f.devices[device] = struct{}{}
	f.mu.Unlock()
}

// Remove stops allowing broadcasts from device.
func (f *Filter) Remove(device uint16) {
	f.mu.Lock()
	delete(f.devices, device)
	f.mu.Unlock()
}

// Clear empties the allowlist.
func (f *Filter) Clear() {
	f.mu.Lock()
	clear(f.devices)
	f.mu.Unlock()
}

// Allow reports whether b passes the filter. Broadcasts without the
// channel-ID extension cannot be attributed and pass only when the filter
// is disabled.
func (f *Filter) Allow(b *message.Broadcast) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.enabled {
		return true
	}
	if !b.HasChannelID() {
		return false
	}
	_, ok := f.devices[b.DeviceNumber]
	return ok
}
