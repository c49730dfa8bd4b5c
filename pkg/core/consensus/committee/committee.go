// Package committee materializes one sortition draw into a
// PublicKey -> seat-count map, and memoizes those materializations
// across the steps of a round in a CommitteeSet.
package committee

import (
	"math"
	"sort"
	"sync"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/cluster"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/sortition"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/pkg/errors"
)

// QuorumThreshold is the fraction of committee seats required for a
// quorum.
const QuorumThreshold = 0.67

// Committee is the immutable, once-built output of one sortition
// draw: an ordered (by public key) set of members with seat counts.
type Committee struct {
	cfg   sortition.Config
	order []string
	pos   map[string]int
	seats map[string]int
	keys  map[string]bls.PublicKey
	total int
}

// maxBitsetMembers is the widest unique-member count a 64-bit bitset
// can address; Bits/Intersect assume every committee fits within it.
const maxBitsetMembers = 64

// New runs sortition once for cfg and folds the resulting seat
// multiset into per-member occurrence counts. It returns
// ErrOverCapacity if cfg drew more than 64 unique members, since
// Bits/Intersect can only address 64 seat positions.
func New(provisioners *user.Provisioners, cfg sortition.Config) (*Committee, error) {
	seats := sortition.Deterministic(cfg, provisioners)

	c := &Committee{
		cfg:   cfg,
		seats: make(map[string]int),
		keys:  make(map[string]bls.PublicKey),
	}

	for _, s := range seats {
		k := string(s.PublicKey.Bytes())
		if _, ok := c.seats[k]; !ok {
			c.order = append(c.order, k)
			c.keys[k] = s.PublicKey
		}
		c.seats[k]++
		c.total++
	}

	if len(c.order) > maxBitsetMembers {
		return nil, errors.Wrapf(ErrOverCapacity, "committee: %d unique members for %+v", len(c.order), cfg)
	}

	sort.Slice(c.order, func(i, j int) bool {
		return c.keys[c.order[i]].Less(c.keys[c.order[j]])
	})

	c.pos = make(map[string]int, len(c.order))
	for i, k := range c.order {
		c.pos[k] = i
	}

	return c, nil
}

// Config returns the sortition configuration this committee was
// built from.
func (c *Committee) Config() sortition.Config { return c.cfg }

// Size returns the number of unique members.
func (c *Committee) Size() int { return len(c.order) }

// TotalSeats returns the sum of all seat counts.
func (c *Committee) TotalSeats() int { return c.total }

// IsMember reports whether pk holds at least one seat.
func (c *Committee) IsMember(pk bls.PublicKey) bool {
	_, ok := c.seats[string(pk.Bytes())]
	return ok
}

// VotesFor returns pk's seat count, or 0 if pk is not a member.
func (c *Committee) VotesFor(pk bls.PublicKey) int {
	return c.seats[string(pk.Bytes())]
}

// Quorum returns ceil(total_seats * QuorumThreshold).
func (c *Committee) Quorum() int {
	return int(math.Ceil(float64(c.total) * QuorumThreshold))
}

// Bits returns a 64-bit bitset: for each unique public key present in
// voters, the bit at that key's position in the committee's
// key-ordered iteration is set. The committee's unique-member count
// must be <= 64.
func (c *Committee) Bits(voters *cluster.Cluster) uint64 {
	var bits uint64
	for _, e := range voters.Entries() {
		if pos, ok := c.position(e.Key); ok {
			bits |= 1 << uint(pos)
		}
	}
	return bits
}

// Intersect is the inverse of Bits: for each set bit, it produces a
// Cluster entry for the committee member at that position, weighted
// by that member's seat count.
func (c *Committee) Intersect(bitset uint64) *cluster.Cluster {
	out := cluster.New()
	if bitset == 0 {
		return out
	}

	for pos, k := range c.order {
		if bitset&(1<<uint(pos)) != 0 {
			out.SetWeight(c.keys[k], c.seats[k])
		}
	}
	return out
}

func (c *Committee) position(pk bls.PublicKey) (int, bool) {
	pos, ok := c.pos[string(pk.Bytes())]
	return pos, ok
}

// ErrOverCapacity is returned by New (and Set.Get) when a committee's
// unique member count exceeds the 64-bit bitset's capacity.
var ErrOverCapacity = errors.New("committee: unique member count exceeds 64-bit bitset capacity")

// Set memoizes Committees by sortition.Config equality, so repeated
// Agreement-stage verification across many steps of one round does
// not re-run sortition. Single-writer (the round driver's step task)
// / single-reader-at-a-time (the Agreement task) under mu; the
// critical section never spans channel I/O.
type Set struct {
	mu           sync.Mutex
	provisioners *user.Provisioners
	committees   map[sortition.Config]*Committee
}

// NewSet returns an empty CommitteeSet over a round-start snapshot of
// provisioners (value semantics).
func NewSet(provisioners *user.Provisioners) *Set {
	return &Set{
		provisioners: provisioners.Copy(),
		committees:   make(map[sortition.Config]*Committee),
	}
}

// Get returns the memoized Committee for cfg, building it on first
// request (idempotent get-or-build). A build failure (ErrOverCapacity)
// is never cached, so a later config correction can retry it.
func (s *Set) Get(cfg sortition.Config) (*Committee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.committees[cfg]; ok {
		return c, nil
	}

	c, err := New(s.provisioners, cfg)
	if err != nil {
		return nil, err
	}
	s.committees[cfg] = c
	return c, nil
}

// Provisioners returns the snapshot this set was built over.
func (s *Set) Provisioners() *user.Provisioners {
	return s.provisioners
}
