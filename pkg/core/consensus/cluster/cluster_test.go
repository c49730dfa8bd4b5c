package cluster

import (
	"testing"

	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/stretchr/testify/assert"
)

func keyAt(b byte) bls.PublicKey {
	_, pk := bls.Generate([32]byte{b})
	return pk
}

func TestAddIncrementsWeight(t *testing.T) {
	c := New()
	pk := keyAt(1)

	c.Add(pk)
	c.Add(pk)

	entries := c.Entries()
	assert.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Weight)
}

func TestAddPreservesInsertionOrder(t *testing.T) {
	c := New()
	a, b, d := keyAt(1), keyAt(2), keyAt(3)

	c.Add(b)
	c.Add(a)
	c.Add(d)

	entries := c.Entries()
	require := assert.New(t)
	require.Len(entries, 3)
	require.True(entries[0].Key.Equal(b))
	require.True(entries[1].Key.Equal(a))
	require.True(entries[2].Key.Equal(d))
}

func TestSetWeightOverridesOccurrenceCount(t *testing.T) {
	c := New()
	pk := keyAt(1)

	c.Add(pk)
	c.Add(pk)
	c.SetWeight(pk, 5)

	entries := c.Entries()
	assert.Equal(t, 5, entries[0].Weight)
}

func TestContains(t *testing.T) {
	c := New()
	pk := keyAt(1)
	other := keyAt(2)

	c.Add(pk)

	assert.True(t, c.Contains(pk))
	assert.False(t, c.Contains(other))
}

func TestTotalOccurrencesSumsWeights(t *testing.T) {
	c := New()
	a, b := keyAt(1), keyAt(2)

	c.Add(a)
	c.Add(a)
	c.SetWeight(b, 3)

	assert.Equal(t, 5, c.TotalOccurrences())
}

func TestLenCountsUniqueMembersOnly(t *testing.T) {
	c := New()
	pk := keyAt(1)

	c.Add(pk)
	c.Add(pk)
	c.Add(pk)

	assert.Equal(t, 1, c.Len())
}
