// Package mbd implements the Managed Bluetooth Device layer (spec §4.B): a
// per-role lifecycle supervisor keeping a logical device reachable,
// initialized and substitutable by physical model, behind a two-deep
// intent queue so a release can cancel an in-flight capture and vice
// versa.
package mbd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/pyde1-core/internal/ble"
	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
)

// Logger is the narrow logging interface this package depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the bluetooth.* timeouts and retry policy from spec §6.
type Config struct {
	ConnectTimeout      time.Duration
	DisconnectTimeout   time.Duration
	ReconnectRetryCount int
	ReconnectGap        time.Duration
}

// DefaultConfig matches the defaults spec §6 documents.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Second,
		DisconnectTimeout:   5 * time.Second,
		ReconnectRetryCount: 3,
		ReconnectGap:        5 * time.Second,
	}
}

var (
	ErrNoAddress    = errors.New("mbd: no address assigned")
	ErrNotCaptured  = errors.New("mbd: device not captured")
)

// Handle is the stable per-role object spec §9 calls for: subscribers hold
// this pointer for the life of the process, and its public contract never
// changes even as the bound address, lifecycle state and model-specific
// Strategy mutate underneath it.
type Handle struct {
	role         domain.DeviceRole
	central      ble.Central
	scanner      ble.Scanner
	registry     *StrategyRegistry
	scratch      *ScratchStore
	bus          *eventbus.Bus
	cfg          Config
	logger       Logger
	sleepChecker DE1SleepChecker

	mu         sync.Mutex
	dev        domain.ManagedDevice
	intent     Intent
	strategy   Strategy
	session    ble.Session
	opCancel   context.CancelFunc
	generation uint64
}

// New constructs a Handle for role. registry and scratch may be nil (no
// class specialisation / no crash-recovery persistence, respectively) --
// useful for roles like Thermometer that have only one model in practice.
func New(role domain.DeviceRole, central ble.Central, scanner ble.Scanner, registry *StrategyRegistry, scratch *ScratchStore, bus *eventbus.Bus, cfg Config) *Handle {
	if registry == nil {
		registry = NewStrategyRegistry()
	}
	return &Handle{
		role:     role,
		central:  central,
		scanner:  scanner,
		registry: registry,
		scratch:  scratch,
		bus:      bus,
		cfg:      cfg,
		logger:   noopLogger{},
		dev: domain.ManagedDevice{
			Role:    role,
			Current: domain.StateInitial,
			Desired: domain.StateInitial,
			Class:   domain.ClassGeneric,
		},
		strategy: genericStrategy{},
	}
}

func (h *Handle) SetLogger(l Logger) { h.logger = l }

// SetDE1SleepChecker wires the Sleeping short-circuit spec §4.B's
// unexpected-disconnect policy names ("repeat indefinitely unless the DE1
// is Sleeping, in which case release scales/thermometers to let them
// sleep"). Only meaningful for non-DE1 roles; the DE1's own handle ignores
// it.
func (h *Handle) SetDE1SleepChecker(c DE1SleepChecker) { h.sleepChecker = c }

// Snapshot returns a copy of the current device record.
func (h *Handle) Snapshot() domain.ManagedDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev.Clone()
}

// IsReady reports whether the device is Captured and post-connect init has
// completed.
func (h *Handle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev.Current == domain.StateCaptured && h.dev.Ready
}

// Availability returns the observable snapshot spec §4.B's public contract
// requires.
func (h *Handle) Availability() domain.DeviceAvailability {
	h.mu.Lock()
	defer h.mu.Unlock()
	return availabilityFor(h.role, h.intent, h.dev.Ready, h.dev.Address, "")
}

// AssignAddress binds (or, with nil, forgets) the device's address. If the
// device is currently captured, this first triggers a release; assigning
// nil also reverts the device to its generic class (spec §4.B).
func (h *Handle) AssignAddress(ctx context.Context, addr *string) error {
	h.mu.Lock()
	same := addr != nil && *addr == h.dev.Address
	if same {
		h.mu.Unlock()
		return nil // spec §8: "Assigning same address twice is no-op"
	}

	wasCaptured := h.dev.Current != domain.StateInitial && h.dev.Current != domain.StateReleased
	if addr == nil {
		h.dev.Address = ""
		h.dev.Class = domain.ClassGeneric
		h.dev.ModelName = ""
		h.strategy = genericStrategy{}
	} else {
		h.dev.Address = *addr
	}
	h.mu.Unlock()

	if wasCaptured {
		return h.Release(ctx)
	}
	return nil
}

// Capture requests the device transition to Captured/Ready. It requires an
// assigned address. A second concurrent call coalesces with the first
// (spec §8 "Boundary behaviours").
func (h *Handle) Capture(ctx context.Context) error {
	h.mu.Lock()
	if h.dev.Address == "" {
		h.mu.Unlock()
		return ErrNoAddress
	}
	if h.intent.Coalesces(domain.StateCaptured) && h.dev.Current != domain.StateReleased && h.dev.Current != domain.StateInitial {
		h.mu.Unlock()
		return nil
	}
	cancelPrior := h.intent.NeedsCancel(domain.StateCaptured)
	h.intent.Desired = domain.StateCaptured
	prevCancel := h.opCancel
	h.generation++
	gen := h.generation
	opCtx, cancel := context.WithCancel(context.Background())
	h.opCancel = cancel
	h.mu.Unlock()

	if cancelPrior && prevCancel != nil {
		prevCancel()
	}

	go h.runCapture(opCtx, gen)
	return nil
}

// Release requests the device transition to Released, cancelling any
// in-flight capture at the first cancellable suspension point.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.intent.Coalesces(domain.StateReleased) && h.dev.Current == domain.StateReleased {
		h.mu.Unlock()
		return nil
	}
	cancelPrior := h.intent.NeedsCancel(domain.StateReleased)
	h.intent.Desired = domain.StateReleased
	prevCancel := h.opCancel
	h.generation++
	gen := h.generation
	opCtx, cancel := context.WithCancel(context.Background())
	h.opCancel = cancel
	session := h.session
	h.mu.Unlock()

	if cancelPrior && prevCancel != nil {
		prevCancel()
	}

	go h.runRelease(opCtx, gen, session)
	return nil
}

// runCapture drives Released -> Capturing -> Captured -> Ready, retrying
// indefinitely on failure per spec §4.B's unexpected-disconnect policy:
// exponential back-off bounded by ReconnectRetryCount attempts at
// ConnectTimeout, then a ReconnectGap pause, repeating forever -- unless
// the DE1 itself is Sleeping, in which case a scale/thermometer role gives
// up and releases instead of continuing to chase a machine that isn't
// coming back soon.
func (h *Handle) runCapture(ctx context.Context, gen uint64) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !h.stillWantsCapture(gen) {
			return
		}
		if h.role != domain.RoleDE1 && h.sleepChecker != nil && h.sleepChecker.DE1Sleeping() {
			h.logger.Info("de1 sleeping, releasing instead of reconnecting", "role", h.role)
			h.setState(gen, domain.StateReleased, false, "de1 sleeping")
			return
		}

		h.setState(gen, domain.StateCapturing, false, "")
		session, err := h.connectWithTimeout(ctx)
		if err != nil {
			attempt++
			h.logger.Warn("capture attempt failed", "role", h.role, "attempt", attempt, "error", err)
			wait := h.cfg.ReconnectGap
			if attempt < h.cfg.ReconnectRetryCount {
				wait = backoffDelay(attempt, h.cfg.ConnectTimeout)
			} else {
				attempt = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		h.mu.Lock()
		h.session = session
		address := h.dev.Address
		h.mu.Unlock()

		h.maybeSpecialise(address)

		h.mu.Lock()
		strategy := h.strategy
		h.mu.Unlock()

		initCtx, cancel := context.WithTimeout(ctx, h.cfg.ConnectTimeout)
		initErr := strategy.Init(initCtx, session)
		cancel()

		if initErr != nil {
			h.logger.Warn("post-connect init failed, retrying once", "role", h.role, "error", initErr)
			initCtx2, cancel2 := context.WithTimeout(ctx, h.cfg.ConnectTimeout)
			initErr = strategy.Init(initCtx2, session)
			cancel2()
		}
		if initErr != nil {
			h.setState(gen, domain.StateReleased, false, initErr.Error())
			return
		}

		h.setState(gen, domain.StateCaptured, true, "")
		if h.scratch != nil {
			if err := h.scratch.Persist(address); err != nil {
				h.logger.Error("persisting scratch file failed", "role", h.role, "error", err)
			}
		}

		h.watchForDisconnect(ctx, gen, session)
		return
	}
}

// watchForDisconnect blocks until the session drops, then either starts a
// fresh capture attempt (unexpected disconnect while still desired
// Captured) or does nothing further (expected: Release() already took
// over via its own generation bump).
func (h *Handle) watchForDisconnect(ctx context.Context, gen uint64, session ble.Session) {
	select {
	case <-ctx.Done():
		return
	case <-session.Disconnected():
	}

	if session.WillfulDisconnect() {
		return
	}
	if !h.stillWantsCapture(gen) {
		return
	}
	h.logger.Warn("unexpected disconnect, reconnecting", "role", h.role)
	h.runCapture(ctx, gen)
}

// backoffDelay returns base doubled (attempt-1) times, the exponential
// back-off spec §4.B calls for within one ReconnectRetryCount-bounded round
// of reconnect attempts.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (h *Handle) stillWantsCapture(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation == gen && h.intent.Desired == domain.StateCaptured
}

func (h *Handle) connectWithTimeout(ctx context.Context) (ble.Session, error) {
	h.mu.Lock()
	address := h.dev.Address
	h.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, h.cfg.ConnectTimeout)
	defer cancel()
	return h.central.Connect(connectCtx, address)
}

// maybeSpecialise runs a short scan (if a scanner is configured) to observe
// the device's advertised name and swap in a model-specific Strategy (spec
// §4.B "Class specialisation"). It is a best-effort step: a missing
// scanner, or no matching advertisement, just keeps the generic strategy.
func (h *Handle) maybeSpecialise(address string) {
	if h.scanner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	advs, err := h.scanner.Scan(ctx, 2*time.Second)
	if err != nil {
		return
	}
	for adv := range advs {
		if adv.Address != address {
			continue
		}
		strategy := h.registry.Match(adv.NamePrefix)
		h.mu.Lock()
		changed := h.dev.ModelName != strategy.ModelName()
		h.strategy = strategy
		if strategy.ModelName() == "" {
			h.dev.Class = domain.ClassGeneric
		} else {
			h.dev.Class = domain.ClassSpecific
		}
		h.dev.ModelName = strategy.ModelName()
		role := h.role
		class := h.dev.Class
		model := h.dev.ModelName
		h.mu.Unlock()

		if changed && h.bus != nil {
			h.bus.Publish(domain.Event{
				Kind:   domain.KindDeviceChanged,
				Sender: string(role),
				Payload: domain.DeviceChangedPayload{
					Role: role, Class: class, ModelName: model,
				},
			})
		}
		return
	}
}

// runRelease drives the device to Released, cancelling whatever the
// capture goroutine was doing at its next suspension point (the shared
// ctx, already cancelled by Release()'s predecessor bump, handles that)
// and disconnecting any live session.
func (h *Handle) runRelease(ctx context.Context, gen uint64, session ble.Session) {
	h.setState(gen, domain.StateReleasing, false, "")

	if session != nil {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), h.cfg.DisconnectTimeout)
		if err := session.Disconnect(disconnectCtx); err != nil {
			h.logger.Warn("error disconnecting", "role", h.role, "error", err)
		}
		cancel()
		if h.scratch != nil {
			if err := h.scratch.Remove(session.Address()); err != nil {
				h.logger.Warn("error removing scratch file", "role", h.role, "error", err)
			}
		}
	}

	h.mu.Lock()
	stillCurrent := h.generation == gen
	if stillCurrent {
		h.session = nil
	}
	h.mu.Unlock()

	h.setState(gen, domain.StateReleased, false, "")
}

// setState updates Current/Ready and publishes a DeviceAvailability event,
// but only if gen is still the active generation -- a stale goroutine from
// a superseded operation must not clobber state a newer operation already
// moved past.
func (h *Handle) setState(gen uint64, state domain.LifecycleState, ready bool, reason string) {
	h.mu.Lock()
	if h.generation != gen {
		h.mu.Unlock()
		return
	}
	h.dev.Current = state
	h.dev.Ready = ready
	h.intent.Current = state
	avail := availabilityFor(h.role, h.intent, ready, h.dev.Address, reason)
	conn := connectivityFor(h.intent)
	h.mu.Unlock()

	if h.bus != nil {
		h.bus.Publish(domain.Event{
			Kind:    domain.KindDeviceAvailability,
			Sender:  string(h.role),
			Payload: avail,
		})
		h.bus.Publish(domain.Event{
			Kind:    domain.KindConnectivity,
			Sender:  string(h.role),
			Payload: domain.ConnectivityPayload{Role: h.role, State: conn},
		})
	}
}

// Role returns the role this handle manages.
func (h *Handle) Role() domain.DeviceRole { return h.role }

// Address returns the currently bound address, or "" if none.
func (h *Handle) Address() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev.Address
}
