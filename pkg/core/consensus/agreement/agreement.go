// Package agreement implements the Agreement loop: verifying inbound
// Agreement messages against their two Reduction committees (via
// CommitteeSet memoization), tallying them in a per-block-hash
// accumulator, and — on reaching the Agreement committee's quorum —
// building and broadcasting an AggrAgreement that certifies round
// finality.
package agreement

import (
	"github.com/dusk-protocol/consensus/pkg/config"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/cluster"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/sortition"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/pkg/errors"
	lg "github.com/sirupsen/logrus"
)

var log = lg.WithField("process", "agreement")

// Signer is the subset of bls.Signer the Agreement loop needs.
type Signer interface {
	Sign(sk bls.SecretKey, msg []byte) bls.Signature
	Verify(pk bls.PublicKey, msg []byte, sig bls.Signature) error
	Aggregate(sigs []bls.Signature) bls.Signature
	AggregateVerify(pks []bls.PublicKey, msg []byte, aggregated bls.Signature) error
}

// Handler verifies Agreement and AggrAgreement messages against the
// memoized Reduction committees of their round.
type Handler struct {
	seed  [32]byte
	sets  *committee.Set
	signer Signer
}

// NewHandler returns an Agreement verifier over committeeSet.
func NewHandler(seed [32]byte, committeeSet *committee.Set, signer Signer) *Handler {
	return &Handler{seed: seed, sets: committeeSet, signer: signer}
}

// AgreementCommittee returns the committee an Agreement message's own
// sender is drawn from, at (round, step) — the same
// config.Consensus.MaxCommitteeSize cap round.Driver uses to build the
// Reduction committees it verifies against, so both sides of a vote
// are drawn from the same seat set.
func (h *Handler) AgreementCommittee(round uint64, step uint8) (*committee.Committee, error) {
	return h.sets.Get(sortition.New(h.seed, round, step, config.Get().Consensus.MaxCommitteeSize))
}

// Verify checks an Agreement's two inner StepVotes against their
// respective Reduction committees, and the Agreement's own whole-
// message signature against its sender.
func (h *Handler) Verify(hdr header.Header, a message.Agreement) error {
	sig, err := bls.SignatureFromBytes(a.Signature[:])
	if err != nil {
		return errors.Wrap(err, "agreement: decode signature")
	}

	if err := h.signer.Verify(hdr.PubKeyBLS, hdr.SignPayload(), sig); err != nil {
		return errors.Wrap(err, "agreement: sender signature invalid")
	}

	steps := [2]struct {
		step uint8
		sv   message.StepVotes
	}{
		{hdr.Step - 1, a.FirstStep},
		{hdr.Step, a.SecondStep},
	}

	maxCommitteeSize := config.Get().Consensus.MaxCommitteeSize
	for _, s := range steps {
		c, err := h.sets.Get(sortition.New(h.seed, hdr.Round, s.step, maxCommitteeSize))
		if err != nil {
			return errors.Wrapf(err, "agreement: step %d committee", s.step)
		}
		if err := verifyStepVotes(h.signer, c, hdr.Round, s.step, hdr.BlockHash, s.sv); err != nil {
			return err
		}
	}

	return nil
}

func verifyStepVotes(signer Signer, c *committee.Committee, round uint64, step uint8, blockHash [32]byte, sv message.StepVotes) error {
	subcommittee := c.Intersect(sv.BitSet)
	if subcommittee.TotalOccurrences() < c.Quorum() {
		return errors.Errorf("agreement: step %d vote set too small - %d/%d", step, subcommittee.TotalOccurrences(), c.Quorum())
	}

	pks := make([]bls.PublicKey, 0, subcommittee.Len())
	for _, e := range subcommittee.Entries() {
		pks = append(pks, e.Key)
	}

	sig, err := bls.SignatureFromBytes(sv.Signature[:])
	if err != nil {
		return errors.Wrap(err, "agreement: decode step votes signature")
	}

	payload := header.Header{Round: round, Step: step, BlockHash: blockHash}.SignPayload()
	if err := signer.AggregateVerify(pks, payload, sig); err != nil {
		return errors.Wrapf(err, "agreement: step %d aggregated signature invalid", step)
	}

	return nil
}

// VerifyAggrAgreement verifies an AggrAgreement: the inner Agreement
// verifies, and the outer bitset's intersected Cluster has total
// occurrences >= Agreement-committee quorum.
func (h *Handler) VerifyAggrAgreement(hdr header.Header, aggr message.AggrAgreement) error {
	if err := h.Verify(hdr, aggr.Agreement); err != nil {
		return err
	}

	c, err := h.AgreementCommittee(hdr.Round, hdr.Step)
	if err != nil {
		return errors.Wrap(err, "agreement: aggr committee")
	}
	subcommittee := c.Intersect(aggr.BitSet)
	if subcommittee.TotalOccurrences() < c.Quorum() {
		return errors.Errorf("agreement: aggr bitset below quorum - %d/%d", subcommittee.TotalOccurrences(), c.Quorum())
	}

	pks := make([]bls.PublicKey, 0, subcommittee.Len())
	for _, e := range subcommittee.Entries() {
		pks = append(pks, e.Key)
	}

	sig, err := bls.SignatureFromBytes(aggr.AggrSignature[:])
	if err != nil {
		return errors.Wrap(err, "agreement: decode aggr signature")
	}

	if err := h.signer.AggregateVerify(pks, hdr.SignPayload(), sig); err != nil {
		return errors.Wrap(err, "agreement: aggr signature invalid")
	}

	return nil
}

// BuildAgreement signs and assembles this node's Agreement message
// once its own second Reduction reaches quorum.
func BuildAgreement(signer Signer, hdr header.Header, sk bls.SecretKey, first, second message.StepVotes) message.Message {
	sig := signer.Sign(sk, hdr.SignPayload())

	var sigBytes [48]byte
	copy(sigBytes[:], sig.Bytes())

	return message.AgreementMessage(hdr, message.Agreement{
		Signature:  sigBytes,
		FirstStep:  first,
		SecondStep: second,
	})
}

// Tally accumulates Agreement messages for one round, keyed by block
// hash, and fires once the Agreement committee's quorum is crossed —
// first hash to cross wins, the same tie-break policy
// accumulator.Accumulator applies one layer down.
type Tally struct {
	committee *committee.Committee
	signer    Signer
	seen      map[string]struct{} // header.DedupKey: signer|step|hash
	byHash    map[[32]byte]*bucket
	done      bool
}

type bucket struct {
	cluster    *cluster.Cluster
	agreements []message.Agreement
	weight     int
}

// NewTally returns a Tally scoped to the Agreement committee c.
func NewTally(signer Signer, c *committee.Committee) *Tally {
	return &Tally{
		committee: c,
		signer:    signer,
		seen:      make(map[string]struct{}),
		byHash:    make(map[[32]byte]*bucket),
	}
}

// Add folds a verified Agreement into the tally. It returns the first
// AggrAgreement to cross quorum, if any.
func (t *Tally) Add(hdr header.Header, a message.Agreement) (message.AggrAgreement, header.Header, bool) {
	if t.done {
		return message.AggrAgreement{}, header.Header{}, false
	}

	dedupKey := hdr.DedupKey()
	if _, ok := t.seen[dedupKey]; ok {
		return message.AggrAgreement{}, header.Header{}, false
	}
	t.seen[dedupKey] = struct{}{}

	b, ok := t.byHash[hdr.BlockHash]
	if !ok {
		b = &bucket{cluster: cluster.New()}
		t.byHash[hdr.BlockHash] = b
	}

	votes := t.committee.VotesFor(hdr.PubKeyBLS)
	b.cluster.SetWeight(hdr.PubKeyBLS, votes)
	b.agreements = append(b.agreements, a)
	b.weight += votes

	if b.weight < t.committee.Quorum() {
		return message.AggrAgreement{}, header.Header{}, false
	}

	t.done = true

	sigs := make([]bls.Signature, 0, len(b.agreements))
	for _, ag := range b.agreements {
		sig, err := bls.SignatureFromBytes(ag.Signature[:])
		if err != nil {
			log.WithError(err).Error("agreement: decode signature while aggregating")
			continue
		}
		sigs = append(sigs, sig)
	}

	aggSig := t.signer.Aggregate(sigs)
	var aggSigBytes [48]byte
	copy(aggSigBytes[:], aggSig.Bytes())

	first := b.agreements[0]
	aggrHdr := hdr
	return message.AggrAgreement{
		Agreement:     first,
		AggrSignature: aggSigBytes,
		BitSet:        t.committee.Bits(b.cluster),
	}, aggrHdr, true
}
