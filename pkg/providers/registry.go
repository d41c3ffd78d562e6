// Package providers is the plug point for exchange connectors. Connector
// packages register a factory per venue (typically from init), and the engine
// binary builds whatever the configuration names. The decision core never
// depends on a concrete connector.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantjourney/fundarb/pkg/interfaces"
)

// Factory constructs the funding data connector for one venue.
type Factory func() (interfaces.FundingDataProvider, error)

// BalanceFactory constructs the account balance connector.
type BalanceFactory func() (interfaces.BalanceProvider, error)

var (
	mu             sync.RWMutex
	factories      = make(map[string]Factory)
	balanceFactory BalanceFactory
)

// Register makes a funding data connector available under an exchange name.
// Registering the same name twice panics, like database/sql drivers.
func Register(exchange string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if factory == nil {
		panic("providers: Register with nil factory")
	}
	if _, dup := factories[exchange]; dup {
		panic(fmt.Sprintf("providers: Register called twice for exchange %q", exchange))
	}
	factories[exchange] = factory
}

// RegisterBalances installs the balance connector factory.
func RegisterBalances(factory BalanceFactory) {
	mu.Lock()
	defer mu.Unlock()
	balanceFactory = factory
}

// Registered lists the available exchange names, sorted.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs connectors for the named exchanges. An unregistered name is
// an error: silently running with fewer venues than configured would skew
// every spread the engine sees.
func Build(exchanges []string) ([]interfaces.FundingDataProvider, error) {
	mu.RLock()
	defer mu.RUnlock()

	built := make([]interfaces.FundingDataProvider, 0, len(exchanges))
	for _, name := range exchanges {
		factory, ok := factories[name]
		if !ok {
			registered := make([]string, 0, len(factories))
			for n := range factories {
				registered = append(registered, n)
			}
			sort.Strings(registered)
			return nil, fmt.Errorf("no connector registered for exchange %q (registered: %v)", name, registered)
		}
		p, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to build connector for %q: %w", name, err)
		}
		built = append(built, p)
	}
	return built, nil
}

// BuildBalances constructs the balance connector, or (nil, false) when none is
// registered, which puts the engine in decision-only mode.
func BuildBalances() (interfaces.BalanceProvider, bool, error) {
	mu.RLock()
	factory := balanceFactory
	mu.RUnlock()

	if factory == nil {
		return nil, false, nil
	}
	p, err := factory()
	if err != nil {
		return nil, false, fmt.Errorf("failed to build balance connector: %w", err)
	}
	return p, true, nil
}

// reset clears the registry; test hook only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	factories = make(map[string]Factory)
	balanceFactory = nil
}
