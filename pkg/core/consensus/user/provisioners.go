// Package user holds the provisioner registry: the ordered set of
// staked committee candidates sortition draws from. Adapted from the
// teacher's pkg/core/consensus/user/provisioners.go, generalized from
// a start/end-height stake window to a single EligibleFrom round.
package user

import (
	"sort"

	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/pkg/errors"
)

// DUSK is the atomic stake unit; all stakes are integer multiples.
const DUSK = uint64(1_000_000_000)

// Provisioner is a staker eligible to participate in consensus once
// the round it registered for is reached.
type Provisioner struct {
	PublicKey    bls.PublicKey
	Stake        uint64
	EligibleFrom uint64
}

// Eligible reports whether this provisioner may be drawn at round.
func (p Provisioner) Eligible(round uint64) bool {
	return round >= p.EligibleFrom
}

// Provisioners is the ordered mapping PublicKey -> Provisioner that
// makes up the current provisioner set. The public-key total order
// from the bls package is what makes sortition's seat-by-seat walk
// (sortition.go) deterministic across nodes.
type Provisioners struct {
	members map[string]Provisioner
}

// NewProvisioners returns an empty registry.
func NewProvisioners() *Provisioners {
	return &Provisioners{members: make(map[string]Provisioner)}
}

// Add inserts a provisioner, replacing (stake included) any entry
// already registered under the same public key.
func (p *Provisioners) Add(pr Provisioner) {
	p.members[string(pr.PublicKey.Bytes())] = pr
}

// Remove deletes a provisioner (the out-of-scope unstake event).
func (p *Provisioners) Remove(pk bls.PublicKey) {
	delete(p.members, string(pk.Bytes()))
}

// Member returns the provisioner registered under pk, if any.
func (p *Provisioners) Member(pk bls.PublicKey) (Provisioner, bool) {
	m, ok := p.members[string(pk.Bytes())]
	return m, ok
}

// Eligible returns every provisioner eligible at round, ordered by
// public-key byte encoding — the iteration order sortition and
// Committee both rely on for determinism.
func (p *Provisioners) Eligible(round uint64) []Provisioner {
	out := make([]Provisioner, 0, len(p.members))
	for _, m := range p.members {
		if m.Eligible(round) {
			out = append(out, m)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PublicKey.Less(out[j].PublicKey)
	})
	return out
}

// TotalEligibleStake sums the stake of every provisioner eligible at
// round, in DUSK; this is the W sortition.go §4.1 divides by, and the
// basis for the sortition.Config.MaxCommitteeSize cap.
func (p *Provisioners) TotalEligibleStake(round uint64) uint64 {
	var total uint64
	for _, m := range p.Eligible(round) {
		total += m.Stake / DUSK
	}
	return total
}

// Copy returns a value-semantics snapshot of the registry, taken by
// the round driver at round start so the source registry may evolve
// independently of an in-flight round.
func (p *Provisioners) Copy() *Provisioners {
	cp := NewProvisioners()
	for k, v := range p.members {
		cp.members[k] = v
	}
	return cp
}

// Len reports the number of registered provisioners (eligible or not).
func (p *Provisioners) Len() int { return len(p.members) }

// ErrUnknownProvisioner names the error for a key that is not
// registered. No function in this package returns it; Member reports
// an unknown key through its boolean result.
var ErrUnknownProvisioner = errors.New("user: unknown provisioner")
