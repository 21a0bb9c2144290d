// Package sim is an in-memory implementation of internal/ble's Central and
// Scanner interfaces. It lets the core run, and be tested, without a real
// platform BLE stack -- the role original_source's bleak-backed classes
// play in Python, here played by a deterministic fake.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pyde1-core/internal/ble"
)

// Device describes a simulated peripheral registered with a Central.
type Device struct {
	Address    string
	NamePrefix string
	// ConnectDelay simulates BLE connection latency.
	ConnectDelay time.Duration
	// FailConnects, when true, makes every Connect attempt fail until
	// cleared -- used to exercise reconnect/backoff behaviour.
	FailConnects bool
}

// Central is an in-memory ble.Central. Safe for concurrent use.
type Central struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func NewCentral() *Central {
	return &Central{devices: make(map[string]*Device)}
}

// Register adds or replaces a simulated device.
func (c *Central) Register(d Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[d.Address] = &d
}

// SetFailConnects toggles connection failure for a registered address.
func (c *Central) SetFailConnects(address string, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[address]; ok {
		d.FailConnects = fail
	}
}

func (c *Central) Connect(ctx context.Context, address string) (ble.Session, error) {
	c.mu.Lock()
	d, ok := c.devices[address]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sim: no such device %q", address)
	}

	if d.ConnectDelay > 0 {
		select {
		case <-time.After(d.ConnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if d.FailConnects {
		return nil, fmt.Errorf("sim: connection to %q refused", address)
	}

	return newSession(address), nil
}

// Session is an in-memory ble.Session. Tests drive it by pushing
// characteristic values/notifications directly, or by calling Drop to
// simulate an unexpected disconnect.
type Session struct {
	address string

	mu            sync.Mutex
	chars         map[string][]byte
	subs          map[string][]chan []byte
	disconnected  chan struct{}
	willful       bool
	closeOnce     sync.Once
}

func newSession(address string) *Session {
	return &Session{
		address:      address,
		chars:        make(map[string][]byte),
		subs:         make(map[string][]chan []byte),
		disconnected: make(chan struct{}),
	}
}

func (s *Session) Address() string { return s.address }

func (s *Session) ReadCharacteristic(ctx context.Context, charUUID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars[charUUID], nil
}

func (s *Session) WriteCharacteristic(ctx context.Context, charUUID string, value []byte) error {
	s.mu.Lock()
	s.chars[charUUID] = value
	s.mu.Unlock()
	return nil
}

func (s *Session) Notify(ctx context.Context, charUUID string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.subs[charUUID] = append(s.subs[charUUID], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[charUUID]
		for i, c := range list {
			if c == ch {
				s.subs[charUUID] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// Push delivers a notification value to every subscriber of charUUID, as if
// the peripheral had sent it. Used by tests to drive shot-sample streams.
func (s *Session) Push(charUUID string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[charUUID] {
		select {
		case ch <- value:
		default:
		}
	}
}

func (s *Session) Disconnected() <-chan struct{} { return s.disconnected }

func (s *Session) WillfulDisconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.willful
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.willful = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.disconnected) })
	return nil
}

// Drop simulates an unexpected disconnect (not locally initiated).
func (s *Session) Drop() {
	s.closeOnce.Do(func() { close(s.disconnected) })
}

// Scanner is an in-memory ble.Scanner that delivers only the
// advertisements queued via Emit; it does not report the Central's
// registered devices.
type Scanner struct {
	mu    sync.Mutex
	queue []ble.Advertisement
}

func NewScanner() *Scanner { return &Scanner{} }

// Emit queues an advertisement to be delivered on the next Scan call.
func (s *Scanner) Emit(adv ble.Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, adv)
}

func (s *Scanner) Scan(ctx context.Context, duration time.Duration) (<-chan ble.Advertisement, error) {
	out := make(chan ble.Advertisement, 16)
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	go func() {
		defer close(out)
		for _, adv := range pending {
			select {
			case out <- adv:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(duration):
		case <-ctx.Done():
		}
	}()
	return out, nil
}
