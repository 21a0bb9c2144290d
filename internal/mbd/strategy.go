package mbd

import (
	"context"
	"strings"
	"sync"

	"github.com/nerrad567/pyde1-core/internal/ble"
)

// Strategy is the model-specific behaviour a device's handle delegates to.
// Per spec §9's design note, class-changing devices are NOT modelled by
// mutating an object's class in place; instead a stable Handle holds a
// swappable Strategy behind an interface pointer, so subscribers holding
// the Handle never observe anything but the Handle's own unchanging public
// contract.
type Strategy interface {
	// ModelName identifies the specific model, or "" for the generic
	// strategy.
	ModelName() string

	// Init runs any post-connect initialisation specific to this model
	// (e.g. reading calibration characteristics). On an error the Handle
	// retries Init once; a second error returns the device to Released.
	Init(ctx context.Context, session ble.Session) error
}

// genericStrategy is used until an advertisement identifies a specific
// model, and again whenever a device is forgotten.
type genericStrategy struct{}

func (genericStrategy) ModelName() string { return "" }
func (genericStrategy) Init(context.Context, ble.Session) error { return nil }

// StrategyFactory constructs a fresh Strategy for a matched model.
type StrategyFactory func() Strategy

// StrategyRegistry maps advertised-name prefixes to model-specific
// Strategy constructors (spec §4.B "Class specialisation": "registry of
// advertised-name-prefix -> device-model"). Safe for concurrent use.
type StrategyRegistry struct {
	mu       sync.RWMutex
	byPrefix map[string]StrategyFactory
}

func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{byPrefix: make(map[string]StrategyFactory)}
}

// Register associates a name prefix with a constructor. Longer prefixes are
// preferred over shorter ones that also match, so "Skale2" can be
// distinguished from a coarser "Skale" registration.
func (r *StrategyRegistry) Register(namePrefix string, factory StrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPrefix[namePrefix] = factory
}

// Match returns the best-matching Strategy for the given advertised name,
// or the generic strategy if nothing registered matches.
func (r *StrategyRegistry) Match(advertisedName string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestPrefix string
	var best StrategyFactory
	for prefix, factory := range r.byPrefix {
		if strings.HasPrefix(advertisedName, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix, best = prefix, factory
		}
	}
	if best == nil {
		return genericStrategy{}
	}
	return best()
}
