package raft

import (
	"math/rand"
	"time"

	"github.com/raftcore/raft/raerrors"
	"github.com/raftcore/raft/rlog"
)

const (
	// MinElectionTimeoutTicks and MaxElectionTimeoutTicks bound the
	// randomized follower/candidate election timeout, expressed in ticks
	// rather than wall time so that the core stays independent of the
	// host's tick cadence.
	MinElectionTimeoutTicks     = 8
	MaxElectionTimeoutTicks     = 15
	defaultElectionTimeoutTicks = MinElectionTimeoutTicks

	// HeartbeatIntervalTicks is the number of ticks a leader waits
	// between heartbeat broadcasts.
	HeartbeatIntervalTicks        = 3
	defaultHeartbeatIntervalTicks = HeartbeatIntervalTicks

	minTickInterval     = time.Millisecond
	maxTickInterval     = time.Second
	defaultTickInterval = 100 * time.Millisecond
)

// options holds the configuration assembled from a list of Option values.
type options struct {
	electionTimeoutMinTicks int
	electionTimeoutMaxTicks int
	heartbeatIntervalTicks  int
	tickInterval            time.Duration

	logger rlog.Logger
	rand   *rand.Rand

	store  Store
	driver Driver
}

func defaultOptions() options {
	return options{
		electionTimeoutMinTicks: MinElectionTimeoutTicks,
		electionTimeoutMaxTicks: MaxElectionTimeoutTicks,
		heartbeatIntervalTicks:  defaultHeartbeatIntervalTicks,
		tickInterval:            defaultTickInterval,
		logger:                  rlog.NewNopLogger(),
	}
}

// Option is a function that updates the options associated with a Node.
type Option func(*options) error

// WithElectionTimeoutTicks sets the randomized election timeout bounds, in
// ticks.
func WithElectionTimeoutTicks(min, max int) Option {
	return func(o *options) error {
		if min < 1 || max < min {
			return raerrors.NewConfig("election timeout bounds are invalid")
		}
		o.electionTimeoutMinTicks = min
		o.electionTimeoutMaxTicks = max
		return nil
	}
}

// WithHeartbeatIntervalTicks sets the number of ticks between leader
// heartbeats.
func WithHeartbeatIntervalTicks(ticks int) Option {
	return func(o *options) error {
		if ticks < 1 {
			return raerrors.NewConfig("heartbeat interval must be at least one tick")
		}
		o.heartbeatIntervalTicks = ticks
		return nil
	}
}

// WithTickInterval sets the wall-clock duration of one tick for the
// Node's event loop.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) error {
		if d < minTickInterval || d > maxTickInterval {
			return raerrors.NewConfig("tick interval value is invalid")
		}
		o.tickInterval = d
		return nil
	}
}

// WithLogger sets the logger used by the Node.
func WithLogger(logger rlog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return raerrors.NewConfig("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithRandSource sets the source of randomness used to jitter election
// timeouts. Intended for deterministic tests.
func WithRandSource(r *rand.Rand) Option {
	return func(o *options) error {
		if r == nil {
			return raerrors.NewConfig("rand source must not be nil")
		}
		o.rand = r
		return nil
	}
}

// WithStore sets the Store backing the Node's Log.
func WithStore(store Store) Option {
	return func(o *options) error {
		if store == nil {
			return raerrors.NewConfig("store must not be nil")
		}
		o.store = store
		return nil
	}
}

// WithDriver sets the Driver the Node consults directly for synchronous
// status queries (see leaderRole.onStatus); the same Driver instance is
// normally also passed to NewLoop so instructions are routed to it.
func WithDriver(d Driver) Option {
	return func(o *options) error {
		if d == nil {
			return raerrors.NewConfig("driver must not be nil")
		}
		o.driver = d
		return nil
	}
}
