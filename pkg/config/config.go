// Package config holds the tunables of the consensus core: step
// timeouts, the block-generation delay, channel capacities and the
// worker pool size. It is loaded once from a TOML file and read
// thereafter through Get().
package config

import (
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Registry is the top-level configuration document.
type Registry struct {
	General    General    `toml:"general"`
	Consensus  Consensus  `toml:"consensus"`
}

// General carries process-wide knobs unrelated to consensus timing.
type General struct {
	Network string `toml:"network"`
}

// Consensus carries every round-timing and sizing tunable.
type Consensus struct {
	// MaxSteps bounds the wire step index a round may reach before
	// giving up without a quorum: every step of a run is below
	// MaxSteps, so a round runs MaxSteps/3 whole 3-step iterations.
	MaxSteps uint8 `toml:"maxsteps"`

	// StepTimeout is the initial per-step deadline.
	StepTimeoutMs uint64 `toml:"steptimeoutms"`

	// TimeoutCapMs bounds the exponential step-timeout backoff.
	TimeoutCapMs uint64 `toml:"timeoutcapms"`

	// ConsensusDelayMs is the fixed pre-broadcast sleep a candidate
	// generator observes, avoiding split-candidate races.
	ConsensusDelayMs uint64 `toml:"consensusdelayms"`

	// InboundCapPerSeat scales the capacity of each per-step inbound
	// queue: capacity = InboundCapPerSeat * MaxCommitteeSize.
	InboundCapPerSeat int `toml:"inboundcappersteat"`

	// OutboundCap is the fixed outbound channel capacity.
	OutboundCap int `toml:"outboundcap"`

	// Workers is decoded and kept in the registry; no code in this
	// module reads it, and the round driver runs no worker pool.
	Workers int `toml:"workers"`

	// QuorumThreshold is decoded and kept in the registry (default:
	// 0.67). committee.Quorum does not read it; it uses the committee
	// package's own QuorumThreshold constant.
	QuorumThreshold float64 `toml:"quorumthreshold"`

	// MaxCommitteeSize caps every Reduction- and Agreement-stage
	// committee at 64 so their StepVotes bitsets can encode
	// membership; round.Driver and agreement.Handler must draw both
	// sides of a vote from this same cap.
	MaxCommitteeSize uint16 `toml:"maxcommitteesize"`
}

// StepTimeout returns the configured step deadline as a time.Duration.
func (c Consensus) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMs) * time.Millisecond
}

// TimeoutCap returns the configured backoff cap as a time.Duration.
func (c Consensus) TimeoutCap() time.Duration {
	return time.Duration(c.TimeoutCapMs) * time.Millisecond
}

// ConsensusDelay returns the block-generation delay as a time.Duration.
func (c Consensus) ConsensusDelay() time.Duration {
	return time.Duration(c.ConsensusDelayMs) * time.Millisecond
}

// Default returns the out-of-the-box Registry used when no TOML file
// is supplied.
func Default() Registry {
	return Registry{
		General: General{Network: "testnet"},
		Consensus: Consensus{
			MaxSteps:          213,
			StepTimeoutMs:     10000,
			TimeoutCapMs:      40000,
			ConsensusDelayMs:  5000,
			InboundCapPerSeat: 1,
			OutboundCap:       10,
			Workers:           3,
			QuorumThreshold:   0.67,
			MaxCommitteeSize:  64,
		},
	}
}

var (
	mu  sync.RWMutex
	reg = Default()
)

// Get returns the process-wide configuration registry.
func Get() Registry {
	mu.RLock()
	defer mu.RUnlock()
	return reg
}

// Load decodes a TOML file into the process-wide registry, starting
// from Default() so a partial file only overrides what it names.
func Load(path string) error {
	r := Default()
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return errors.Wrapf(err, "config: decoding %s", path)
	}

	mu.Lock()
	reg = r
	mu.Unlock()
	return nil
}

// Mock installs r as the process-wide registry, for tests.
func Mock(r Registry) {
	mu.Lock()
	reg = r
	mu.Unlock()
}
