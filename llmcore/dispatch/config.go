package dispatch

import (
	"time"

	"github.com/paxoscn/llmdispatch/llmcore/breaker"
	"github.com/paxoscn/llmdispatch/llmcore/retry"
)

// Strategy is one of §4.7's five provider-selection strategies.
type Strategy string

const (
	StrategyRoundRobin     Strategy = "round_robin"
	StrategyRandom         Strategy = "random"
	StrategyWeightedRandom Strategy = "weighted_random"
	StrategyHealthBased    Strategy = "health_based"
	StrategyLatencyBased   Strategy = "latency_based"
)

// Config configures a Dispatcher per §3's DispatcherConfig.
type Config struct {
	Strategy          Strategy
	ProbeInterval     time.Duration
	Retry             retry.Policy
	Breaker           breaker.Config
	FallbackEnabled   bool
	FallbackChain     []string
	PerRequestTimeout time.Duration
	// Weights is consulted only by StrategyWeightedRandom; a name absent
	// from this map gets weight 1.
	Weights map[string]float64
}

// DefaultConfig returns sane defaults: health-based selection, fallback
// enabled with no fixed chain (the registry order is used), retry and
// breaker defaults, and a 30s probe interval.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyHealthBased,
		ProbeInterval:     30 * time.Second,
		Retry:             retry.DefaultPolicy(),
		Breaker:           breaker.DefaultConfig(),
		FallbackEnabled:   true,
		PerRequestTimeout: 30 * time.Second,
	}
}
