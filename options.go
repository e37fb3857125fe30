// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package routine

import "time"

// PlacementPolicy chooses the target thread for a routine started without
// an explicit thread index.
type PlacementPolicy func(nextID uint64, nThreads int) int

// RoundRobinPlacement is the default PlacementPolicy: spec §4.7.
func RoundRobinPlacement(nextID uint64, nThreads int) int {
	return int(nextID % uint64(nThreads))
}

// engineOptions holds configuration resolved at Engine construction.
type engineOptions struct {
	threads           int
	placement         PlacementPolicy
	defaultIOTimeout  time.Duration
	logger            Logger
	strictInvariants  bool
	onFatal           func(*FatalError)
	semaphoreCapacity int
}

// EngineOption configures an Engine instance.
type EngineOption interface {
	applyEngine(*engineOptions) error
}

type engineOptionImpl struct {
	applyEngineFunc func(*engineOptions) error
}

func (o *engineOptionImpl) applyEngine(opts *engineOptions) error {
	return o.applyEngineFunc(opts)
}

// WithThreads sets the number of scheduler threads the engine owns. Must be
// ≥ 1; the zero value of this option (unset) defaults to 1.
func WithThreads(n int) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		if n < 1 {
			return &RangeErrorOption{Field: "threads", Value: n}
		}
		opts.threads = n
		return nil
	}}
}

// WithPlacementPolicy overrides the default round-robin thread placement
// used by Start when no explicit target thread is given.
func WithPlacementPolicy(p PlacementPolicy) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.placement = p
		return nil
	}}
}

// WithDefaultIOTimeout sets the timeout used by I/O wrappers (io.go) when
// callers pass no explicit timeout. -1 (the zero-adjusted default) means
// infinite.
func WithDefaultIOTimeout(d time.Duration) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.defaultIOTimeout = d
		return nil
	}}
}

// WithLogger installs a structured Logger (see logging.go). Defaults to
// NoOpLogger.
func WithLogger(l Logger) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithStrictInvariants enables runtime assertion checks of spec §8's
// channel counter algebra and semaphore bound invariants (see
// invariants.go); no other invariant is checked. Adds overhead; intended
// for tests, not production.
func WithStrictInvariants(enabled bool) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.strictInvariants = enabled
		SetStrictInvariants(enabled)
		return nil
	}}
}

// WithOnFatal installs a hook invoked before the runtime panics on an
// unrecoverable invariant violation or syscall misuse (spec §7).
func WithOnFatal(fn func(*FatalError)) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.onFatal = fn
		return nil
	}}
}

// WithSemaphoreWaiterCapacity bounds the number of outstanding waiters a
// Semaphore's waiter slice preallocates for. Spec §9(c) leaves
// overflow behavior unspecified; this runtime grows dynamically past the
// preallocated capacity (see semaphore.go), so this only tunes the initial
// allocation, never a hard cap.
func WithSemaphoreWaiterCapacity(n int) EngineOption {
	return &engineOptionImpl{func(opts *engineOptions) error {
		if n < 1 {
			n = 1
		}
		opts.semaphoreCapacity = n
		SetDefaultSemaphoreWaiterCapacity(n)
		return nil
	}}
}

// RangeErrorOption reports an out-of-range option value.
type RangeErrorOption struct {
	Field string
	Value int
}

func (e *RangeErrorOption) Error() string {
	return "routine: option " + e.Field + " out of range"
}

// resolveEngineOptions applies EngineOption instances over the defaults.
func resolveEngineOptions(opts []EngineOption) (*engineOptions, error) {
	cfg := &engineOptions{
		threads:           1,
		placement:         RoundRobinPlacement,
		defaultIOTimeout:  -1,
		logger:            NoOpLogger{},
		semaphoreCapacity: 16,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEngine(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
