package user

import (
	"testing"

	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyAt(b byte) bls.PublicKey {
	_, pk := bls.Generate([32]byte{b})
	return pk
}

func TestAddMemberRemove(t *testing.T) {
	p := NewProvisioners()
	pk := keyAt(1)

	p.Add(Provisioner{PublicKey: pk, Stake: 1000 * DUSK, EligibleFrom: 0})

	got, ok := p.Member(pk)
	require.True(t, ok)
	assert.Equal(t, 1000*DUSK, got.Stake)

	p.Remove(pk)
	_, ok = p.Member(pk)
	assert.False(t, ok)
}

func TestEligibleFiltersByRound(t *testing.T) {
	p := NewProvisioners()
	early := keyAt(1)
	late := keyAt(2)

	p.Add(Provisioner{PublicKey: early, Stake: 1000 * DUSK, EligibleFrom: 0})
	p.Add(Provisioner{PublicKey: late, Stake: 1000 * DUSK, EligibleFrom: 100})

	at50 := p.Eligible(50)
	require.Len(t, at50, 1)
	assert.True(t, at50[0].PublicKey.Equal(early))

	at100 := p.Eligible(100)
	assert.Len(t, at100, 2)
}

func TestEligibleIsOrderedByPublicKey(t *testing.T) {
	p := NewProvisioners()
	for i := byte(1); i <= 5; i++ {
		pk := keyAt(i)
		p.Add(Provisioner{PublicKey: pk, Stake: 1000 * DUSK, EligibleFrom: 0})
	}

	out := p.Eligible(0)
	require.Len(t, out, 5)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].PublicKey.Less(out[i].PublicKey) || out[i-1].PublicKey.Equal(out[i].PublicKey))
	}
}

func TestTotalEligibleStakeSumsInDusk(t *testing.T) {
	p := NewProvisioners()
	p.Add(Provisioner{PublicKey: keyAt(1), Stake: 1000 * DUSK, EligibleFrom: 0})
	p.Add(Provisioner{PublicKey: keyAt(2), Stake: 2000 * DUSK, EligibleFrom: 0})
	p.Add(Provisioner{PublicKey: keyAt(3), Stake: 3000 * DUSK, EligibleFrom: 50})

	assert.Equal(t, uint64(3000), p.TotalEligibleStake(0))
	assert.Equal(t, uint64(6000), p.TotalEligibleStake(50))
}

func TestCopyIsIndependentSnapshot(t *testing.T) {
	p := NewProvisioners()
	p.Add(Provisioner{PublicKey: keyAt(1), Stake: 1000 * DUSK, EligibleFrom: 0})

	cp := p.Copy()
	p.Add(Provisioner{PublicKey: keyAt(2), Stake: 1000 * DUSK, EligibleFrom: 0})

	assert.Equal(t, 1, cp.Len())
	assert.Equal(t, 2, p.Len())
}

func TestProvisionerEligibleFromBoundary(t *testing.T) {
	pr := Provisioner{EligibleFrom: 10}
	assert.False(t, pr.Eligible(9))
	assert.True(t, pr.Eligible(10))
	assert.True(t, pr.Eligible(11))
}
