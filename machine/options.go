package machine

import (
	"log/slog"
	"time"

	"github.com/dshills/actorcheck-go/machine/emit"
	"github.com/dshills/actorcheck-go/machine/store"
	"github.com/dshills/actorcheck-go/machine/strategy"
)

// Default budgets.
const (
	DefaultIterations = 1
	DefaultMaxSteps   = 10000
)

// StrategyFactory builds a fresh strategy for one portfolio member.
type StrategyFactory func(seed int64) strategy.Strategy

// Options configures an Engine. Use New with Option values, or WithOptions
// to apply a whole struct at once.
type Options struct {
	// Strategy decides every nondeterministic choice. Default: Random
	// seeded from Seed.
	Strategy strategy.Strategy

	// Iterations is the maximum number of iterations. Systematic strategies
	// may stop earlier when exhausted.
	Iterations int

	// MaxSteps bounds scheduling steps per iteration. 0 means unbounded.
	MaxSteps int

	// Seed seeds the default strategy and portfolio members. 0 derives a
	// seed from the run ID.
	Seed int64

	// FullExploration keeps exploring after the first buggy iteration.
	FullExploration bool

	// LivenessChecking enables cycle detection, hot-at-termination and
	// temperature checks.
	LivenessChecking bool

	// StateCaching enables fingerprint caching per iteration; cycle-based
	// liveness detection requires it.
	StateCaching bool

	// LivenessTemperatureThreshold reports a monitor that stays hot for more
	// than this many consecutive scheduling steps under a fair strategy.
	// 0 disables the check.
	LivenessTemperatureThreshold int

	Emitter emit.Emitter
	Logger  *slog.Logger
	Metrics *PrometheusMetrics
	Store   store.Store

	// RunID identifies the run in events, metrics and the store. Default: a
	// fresh nanoid.
	RunID string

	// Portfolio runs one exploration per factory concurrently and merges
	// the reports. When set, Strategy is ignored.
	Portfolio []StrategyFactory

	// Coverage records visited states and handled events.
	Coverage bool

	// Timeout bounds the wall time of Run. When it expires exploration
	// stops, the iteration in flight is discarded and the report is marked
	// TimedOut. 0 means no bound.
	Timeout time.Duration
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := machine.New(test,
//	    machine.WithStrategy(strategy.NewPCT(7, 3)),
//	    machine.WithIterations(1000),
//	    machine.WithMaxSteps(500),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// DefaultOptions returns the configuration New starts from. Start a struct
// passed to WithOptions from it to keep the liveness defaults.
func DefaultOptions() Options {
	return Options{
		Iterations:       DefaultIterations,
		MaxSteps:         DefaultMaxSteps,
		LivenessChecking: true,
		StateCaching:     true,
	}
}

// WithOptions replaces the whole configuration with opts. A zero Iterations
// falls back to the default. Every other field is taken as given, so a zero
// MaxSteps means unbounded and false booleans stay off. Fields are validated
// like the matching With option.
//
// Example:
//
//	opts := machine.DefaultOptions()
//	opts.Iterations = 500
//	engine, err := machine.New(test, machine.WithOptions(opts))
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		if opts.Iterations == 0 {
			opts.Iterations = DefaultIterations
		}
		next := &engineConfig{opts: opts}
		for _, check := range []Option{
			WithIterations(opts.Iterations),
			WithMaxSteps(opts.MaxSteps),
			WithLivenessTemperatureThreshold(opts.LivenessTemperatureThreshold),
			WithTimeout(opts.Timeout),
			WithPortfolio(opts.Portfolio...),
		} {
			if err := check(next); err != nil {
				return err
			}
		}
		cfg.opts = next.opts
		return nil
	}
}

// WithStrategy sets the scheduling strategy.
func WithStrategy(s strategy.Strategy) Option {
	return func(cfg *engineConfig) error {
		if s == nil {
			return &EngineError{Message: "strategy cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.opts.Strategy = s
		return nil
	}
}

// WithIterations sets the iteration budget.
//
// Default: 1.
func WithIterations(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &EngineError{Message: "iterations must be positive", Code: "INVALID_OPTION"}
		}
		cfg.opts.Iterations = n
		return nil
	}
}

// WithMaxSteps bounds the scheduling steps of each iteration. Hitting the
// bound ends the iteration without a bug.
//
// Default: 10000. 0 disables the bound, which only makes sense for programs
// that always terminate.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithSeed sets the seed of the default strategy and portfolio members.
func WithSeed(seed int64) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Seed = seed
		return nil
	}
}

// WithFullExploration keeps exploring after the first bug. The report then
// counts buggy iterations and keeps one trace per distinct bug.
func WithFullExploration(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.FullExploration = enabled
		return nil
	}
}

// WithLivenessChecking toggles every liveness check.
//
// Default: true.
func WithLivenessChecking(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.LivenessChecking = enabled
		return nil
	}
}

// WithStateCaching toggles fingerprint caching.
//
// Default: true.
func WithStateCaching(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.StateCaching = enabled
		return nil
	}
}

// WithLivenessTemperatureThreshold sets the hot-step threshold applied under
// fair strategies.
func WithLivenessTemperatureThreshold(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "temperature threshold cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.LivenessTemperatureThreshold = n
		return nil
	}
}

// WithEmitter sets the observability emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Logger = l
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := machine.NewPrometheusMetrics(registry)
//	engine, _ := machine.New(test, machine.WithMetrics(metrics))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithStore persists run summaries and one bug record per distinct bug.
func WithStore(st store.Store) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Store = st
		return nil
	}
}

// WithRunID sets the run identifier.
func WithRunID(id string) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RunID = id
		return nil
	}
}

// WithPortfolio explores with several strategies in parallel. Member i is
// built with seed Seed+i.
func WithPortfolio(factories ...StrategyFactory) Option {
	return func(cfg *engineConfig) error {
		for _, f := range factories {
			if f == nil {
				return &EngineError{Message: "portfolio factory cannot be nil", Code: "INVALID_OPTION"}
			}
		}
		cfg.opts.Portfolio = factories
		return nil
	}
}

// WithCoverage toggles coverage recording.
func WithCoverage(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Coverage = enabled
		return nil
	}
}

// WithTimeout bounds the wall time of an exploration.
func WithTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.Timeout = d
		return nil
	}
}
