// Package sortition implements the deterministic, stake-weighted
// committee draw: a seat-by-seat walk over eligible provisioners,
// each seat drawn by hashing the seed, round, step and seat index.
package sortition

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
)

// Config is the memoization key of a committee draw: equality of two
// Configs means "the same committee".
type Config struct {
	Seed             [32]byte
	Round            uint64
	Step             uint8
	MaxCommitteeSize uint16
}

// New builds a Config.
func New(seed [32]byte, round uint64, step uint8, maxCommitteeSize uint16) Config {
	return Config{Seed: seed, Round: round, Step: step, MaxCommitteeSize: maxCommitteeSize}
}

// Seat is one drawn committee slot.
type Seat struct {
	PublicKey bls.PublicKey
}

// seatStake is the mutable, per-draw bounded stake of a candidate
// (in whole DUSK); sortition never mutates the Provisioners registry.
type seatStake struct {
	pk    bls.PublicKey
	stake uint64
}

// Deterministic runs the seat-by-seat draw and returns the ordered
// multiset of seats (iteration order is seat
// order, as required for Committee.bits/intersect determinism).
func Deterministic(cfg Config, provisioners *user.Provisioners) []Seat {
	eligible := provisioners.Eligible(cfg.Round)
	if len(eligible) == 0 {
		return nil
	}

	// max_stake is fixed at the total eligible stake observed at the
	// start of this step; it is never recomputed between seats.
	maxStake := provisioners.TotalEligibleStake(cfg.Round)

	candidates := make([]seatStake, len(eligible))
	for i, p := range eligible {
		candidates[i] = seatStake{pk: p.PublicKey, stake: bounded(p.Stake/user.DUSK, maxStake)}
	}

	committeeSize := int(cfg.MaxCommitteeSize)
	if total := int(maxStake); total < committeeSize {
		committeeSize = total
	}

	w := sumStake(candidates)

	seats := make([]Seat, 0, committeeSize)
	for i := 0; i < committeeSize && w > 0; i++ {
		hash := sha3.Sum256(seatPreimage(cfg.Seed, cfg.Round, cfg.Step, uint64(i)))
		n := new(big.Int).SetBytes(hash[:])
		score := new(big.Int).Mod(n, new(big.Int).SetUint64(w)).Uint64()

		idx := selectBySortedWalk(candidates, score)
		if idx < 0 {
			break
		}

		seats = append(seats, Seat{PublicKey: candidates[idx].pk})

		candidates[idx].stake--
		w--
	}

	return seats
}

// seatPreimage builds seed || round_le || step || i_le, the canonical
// hash input for one seat's draw.
func seatPreimage(seed [32]byte, round uint64, step uint8, i uint64) []byte {
	buf := make([]byte, 0, 32+8+1+8)
	buf = append(buf, seed[:]...)

	var roundBuf [8]byte
	binary.LittleEndian.PutUint64(roundBuf[:], round)
	buf = append(buf, roundBuf[:]...)

	buf = append(buf, step)

	var iBuf [8]byte
	binary.LittleEndian.PutUint64(iBuf[:], i)
	buf = append(buf, iBuf[:]...)

	return buf
}

// bounded caps a provisioner's stake to maxStake, the total eligible
// stake observed at the start of this step (not recomputed per seat).
func bounded(stake, maxStake uint64) uint64 {
	if stake > maxStake {
		return maxStake
	}
	return stake
}

// sumStake returns W, the sum of every candidate's bounded stake.
func sumStake(candidates []seatStake) uint64 {
	var total uint64
	for _, c := range candidates {
		total += c.stake
	}
	return total
}

// selectBySortedWalk walks candidates in (already key-ordered)
// sequence, accumulating bounded stake, and returns the index of the
// first candidate whose running total strictly exceeds score. Zero-
// stake candidates are skipped.
func selectBySortedWalk(candidates []seatStake, score uint64) int {
	var running uint64
	for i, c := range candidates {
		if c.stake == 0 {
			continue
		}
		running += c.stake
		if running > score {
			return i
		}
	}
	return -1
}
