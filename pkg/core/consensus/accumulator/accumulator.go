// Package accumulator implements the per-(step, block_hash) vote
// tally: signature verification, duplicate rejection, homomorphic
// aggregation, and one-shot quorum firing with a first-to-cross
// tie-break. One implementation serves Reduction-1, Reduction-2 and
// the Agreement loop alike.
package accumulator

import (
	"sync"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/cluster"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	lg "github.com/sirupsen/logrus"
)

var log = lg.WithField("process", "accumulator")

// Vote is one verified, committee-authenticated signature over a
// header's sign-payload.
type Vote struct {
	Header    header.Header
	Signature bls.Signature
}

// Signer is the subset of bls.Signer the accumulator needs.
type Signer interface {
	Verify(pk bls.PublicKey, msg []byte, sig bls.Signature) error
	Aggregate(sigs []bls.Signature) bls.Signature
}

// perHash tracks one block_hash's vote set within a step.
type perHash struct {
	cluster    *cluster.Cluster
	signatures []bls.Signature
	weight     int
}

// Accumulator tallies votes for a single (round, step) across
// competing block hashes and fires Quorum exactly once, for whichever
// hash reaches the committee's quorum first.
type Accumulator struct {
	mu        sync.Mutex
	signer    Signer
	committee *committee.Committee
	seen      map[string]struct{} // header.DedupKey: signer|step|hash
	byHash    map[[32]byte]*perHash
	done      bool
}

// New returns an Accumulator scoped to one step's Committee.
func New(signer Signer, c *committee.Committee) *Accumulator {
	return &Accumulator{
		signer:    signer,
		committee: c,
		seen:      make(map[string]struct{}),
		byHash:    make(map[[32]byte]*perHash),
	}
}

// QuorumResult is returned exactly once, by the Add call that first
// crosses quorum for its block hash.
type QuorumResult struct {
	BlockHash [32]byte
	BitSet    uint64
	Signature bls.Signature
}

// Add verifies and folds one signed vote into the accumulator. It
// returns (result, true) the first time any hash crosses quorum;
// every later call (even for a different hash that also would cross)
// returns (QuorumResult{}, false) — a first-to-cross tie-break.
func (a *Accumulator) Add(hdr header.Header, sig bls.Signature) (QuorumResult, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return QuorumResult{}, false, nil
	}

	if !a.committee.IsMember(hdr.PubKeyBLS) {
		return QuorumResult{}, false, errNotCommitteeMember
	}

	dedupKey := hdr.DedupKey()
	if _, ok := a.seen[dedupKey]; ok {
		return QuorumResult{}, false, nil
	}

	if err := a.signer.Verify(hdr.PubKeyBLS, hdr.SignPayload(), sig); err != nil {
		return QuorumResult{}, false, errInvalidSignature
	}

	a.seen[dedupKey] = struct{}{}

	ph, ok := a.byHash[hdr.BlockHash]
	if !ok {
		ph = &perHash{cluster: cluster.New()}
		a.byHash[hdr.BlockHash] = ph
	}

	votes := a.committee.VotesFor(hdr.PubKeyBLS)
	ph.cluster.SetWeight(hdr.PubKeyBLS, votes)
	ph.signatures = append(ph.signatures, sig)
	ph.weight += votes

	log.WithFields(lg.Fields{
		"round":  hdr.Round,
		"step":   hdr.Step,
		"weight": ph.weight,
		"quorum": a.committee.Quorum(),
	}).Trace("accumulator: vote collected")

	if ph.weight < a.committee.Quorum() {
		return QuorumResult{}, false, nil
	}

	a.done = true

	return QuorumResult{
		BlockHash: hdr.BlockHash,
		BitSet:    a.committee.Bits(ph.cluster),
		Signature: a.signer.Aggregate(ph.signatures),
	}, true, nil
}

// sentinel errors local to this package, distinct from
// consensus.ErrKind; reduction.Handler.Collect maps these onto
// consensus.ErrNotCommitteeMember / consensus.ErrInvalidSignature.
var (
	errNotCommitteeMember = errNotMember{}
	errInvalidSignature   = errBadSig{}
)

type errNotMember struct{}

func (errNotMember) Error() string { return "accumulator: signer not a committee member" }

type errBadSig struct{}

func (errBadSig) Error() string { return "accumulator: invalid signature" }
