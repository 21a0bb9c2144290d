// Package ble defines the narrow interfaces the core consumes for Bluetooth
// LE transport. Per spec §1, the specific binary encoding of individual DE1
// GATT characteristics and the platform BLE stack are external
// collaborators, not part of the core design; this package is the seam
// between them. A simulated implementation lives in ble/sim for tests and
// for running the core without real hardware.
package ble

import (
	"context"
	"time"
)

// Advertisement is a single BLE advertisement sighting, published whether it
// arrived during an explicit scan or as the first packet seen while
// capturing a device (spec §4.B "Class specialisation", SPEC_FULL.md §10).
type Advertisement struct {
	Address    string
	NamePrefix string
	RSSI       int
	SeenAt     time.Time
}

// Session represents a live connection to one peripheral. Every method is a
// suspension point (spec §5) and must be cancellation-safe: a cancelled
// context leaves no dangling subscription or in-flight write.
type Session interface {
	Address() string

	// ReadCharacteristic performs a single synchronous read.
	ReadCharacteristic(ctx context.Context, charUUID string) ([]byte, error)

	// WriteCharacteristic performs a single synchronous write.
	WriteCharacteristic(ctx context.Context, charUUID string, value []byte) error

	// Notify subscribes to notifications on charUUID; the returned channel
	// is closed when the subscription ends (session disconnect or explicit
	// unsubscribe via the returned cancel func).
	Notify(ctx context.Context, charUUID string) (<-chan []byte, func(), error)

	// Disconnected returns a channel closed when the session drops,
	// whether requested locally or not. WillfulDisconnect reports which.
	Disconnected() <-chan struct{}
	WillfulDisconnect() bool

	// Disconnect closes the session. It marks the disconnect as willful so
	// Disconnected()'s WillfulDisconnect() reports true for this session.
	Disconnect(ctx context.Context) error
}

// Central is what a ManagedDevice's handle uses to acquire a Session.
type Central interface {
	// Connect attempts to establish a session with the device at address,
	// bounded by ctx's deadline. A cancelled ctx aborts the in-flight
	// connection attempt and releases any partially-acquired resources.
	Connect(ctx context.Context, address string) (Session, error)
}

// Scanner discovers nearby devices by advertisement.
type Scanner interface {
	// Scan runs for duration (or until ctx is cancelled) and streams every
	// advertisement observed on the returned channel, which is closed when
	// the scan ends.
	Scan(ctx context.Context, duration time.Duration) (<-chan Advertisement, error)
}
