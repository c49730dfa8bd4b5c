package committee

import (
	"testing"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/sortition"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provisioners(t *testing.T, n int) *user.Provisioners {
	t.Helper()

	p := user.NewProvisioners()
	for i := 1; i < n; i++ {
		var seed [32]byte
		seed[0] = byte(i)
		_, pk := bls.Generate(seed)

		p.Add(user.Provisioner{
			PublicKey:    pk,
			Stake:        uint64(1000*i) * user.DUSK,
			EligibleFrom: 0,
		})
	}
	return p
}

func TestQuorumIsTwoThirdsOfSeats(t *testing.T) {
	p := provisioners(t, 5)
	cfg := sortition.New([32]byte{}, 7777, 8, 64)

	c, err := New(p, cfg)
	require.NoError(t, err)
	require.Greater(t, c.TotalSeats(), 0)

	expected := int(float64(c.TotalSeats())*QuorumThreshold + 0.999999)
	assert.InDelta(t, expected, c.Quorum(), 1)
}

func TestIntersectBitsRoundTrip(t *testing.T) {
	p := provisioners(t, 10)
	cfg := sortition.New([32]byte{}, 1, 3, 200)

	c, err := New(p, cfg)
	require.NoError(t, err)
	require.LessOrEqual(t, c.Size(), 64, "bitset cannot encode more than 64 members")

	maxBitset := uint64(1) << uint(c.Size())
	for bitset := uint64(0); bitset < maxBitset; bitset++ {
		members := c.Intersect(bitset)
		assert.Equal(t, bitset, c.Bits(members), "bitset %b should round-trip through intersect/bits", bitset)
	}
}

func TestIsMemberAndVotesFor(t *testing.T) {
	p := provisioners(t, 5)
	cfg := sortition.New([32]byte{}, 1, 1, 64)
	c, err := New(p, cfg)
	require.NoError(t, err)

	for _, pr := range p.Eligible(cfg.Round) {
		if c.IsMember(pr.PublicKey) {
			assert.Greater(t, c.VotesFor(pr.PublicKey), 0)
		} else {
			assert.Equal(t, 0, c.VotesFor(pr.PublicKey))
		}
	}
}

func TestSetMemoizesCommittees(t *testing.T) {
	p := provisioners(t, 5)
	set := NewSet(p)
	cfg := sortition.New([32]byte{}, 1, 1, 64)

	a, err := set.Get(cfg)
	require.NoError(t, err)
	b, err := set.Get(cfg)
	require.NoError(t, err)
	assert.Same(t, a, b, "repeated Get with the same config must return the memoized committee")
}

func TestNewRejectsCommitteesOverBitsetCapacity(t *testing.T) {
	p := provisioners(t, 90)
	cfg := sortition.New([32]byte{}, 1, 1, 4096)

	_, err := New(p, cfg)
	require.ErrorIs(t, err, ErrOverCapacity)
}

func TestSetGetPropagatesOverCapacityAndDoesNotCacheIt(t *testing.T) {
	p := provisioners(t, 90)
	set := NewSet(p)
	cfg := sortition.New([32]byte{}, 1, 1, 4096)

	_, err := set.Get(cfg)
	require.ErrorIs(t, err, ErrOverCapacity)
	assert.Empty(t, set.committees, "a failed build must not be memoized")
}

func TestSetSnapshotsProvisioners(t *testing.T) {
	p := provisioners(t, 5)
	set := NewSet(p)

	var seed [32]byte
	seed[0] = 99
	_, pk := bls.Generate(seed)
	p.Add(user.Provisioner{PublicKey: pk, Stake: 1000 * user.DUSK, EligibleFrom: 0})

	assert.NotEqual(t, p.Len(), set.Provisioners().Len(), "the set's snapshot must not see later mutations of the source registry")
}
