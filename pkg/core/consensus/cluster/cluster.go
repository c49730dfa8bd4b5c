// Package cluster implements Cluster<T>, a weighted multiset used to
// accumulate committee voters before they are folded into a
// Committee's bitset. Keyed by BLS public key; the accumulator and the
// Agreement stage both use it.
package cluster

import "github.com/dusk-protocol/consensus/pkg/crypto/bls"

// Entry pairs a cluster member with its accumulated weight.
type Entry struct {
	Key    bls.PublicKey
	Weight int
}

// Cluster is an insertion-ordered weighted multiset of public keys.
// Add gives an entry a weight >= 1; SetWeight stores whatever weight
// it is given, including 0.
type Cluster struct {
	order []string
	index map[string]int
	weight map[string]int
	keys  map[string]bls.PublicKey
}

// New returns an empty Cluster.
func New() *Cluster {
	return &Cluster{
		index:  make(map[string]int),
		weight: make(map[string]int),
		keys:   make(map[string]bls.PublicKey),
	}
}

// Add inserts pk with weight 1, or increments its existing weight.
func (c *Cluster) Add(pk bls.PublicKey) {
	k := string(pk.Bytes())
	if _, ok := c.weight[k]; !ok {
		c.index[k] = len(c.order)
		c.order = append(c.order, k)
		c.keys[k] = pk
	}
	c.weight[k]++
}

// SetWeight sets pk's weight explicitly (used when reconstructing a
// Cluster from a Committee bitset via intersect, where the weight is
// the committee seat-count rather than an occurrence count).
func (c *Cluster) SetWeight(pk bls.PublicKey, weight int) {
	k := string(pk.Bytes())
	if _, ok := c.weight[k]; !ok {
		c.index[k] = len(c.order)
		c.order = append(c.order, k)
		c.keys[k] = pk
	}
	c.weight[k] = weight
}

// Contains reports whether pk has been added to the cluster.
func (c *Cluster) Contains(pk bls.PublicKey) bool {
	_, ok := c.weight[string(pk.Bytes())]
	return ok
}

// Len returns the number of unique members.
func (c *Cluster) Len() int { return len(c.order) }

// Entries returns the cluster's members in insertion order.
func (c *Cluster) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, Entry{Key: c.keys[k], Weight: c.weight[k]})
	}
	return out
}

// TotalOccurrences sums every member's weight.
func (c *Cluster) TotalOccurrences() int {
	total := 0
	for _, w := range c.weight {
		total += w
	}
	return total
}
