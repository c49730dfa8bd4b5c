// Package reduction holds the behavior shared by both Reduction
// steps: signing a vote for a block hash (or the Nil hash) and
// folding inbound votes into an accumulator.Accumulator. firststep and
// secondstep each wrap this with their own step-index bookkeeping and
// output wiring.
package reduction

import (
	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/accumulator"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
)

// NilHash is the fallback vote cast when a step has no candidate to
// vote for.
var NilHash = [32]byte{}

// Signer is the subset of bls.Signer a Reduction step needs.
type Signer interface {
	Sign(sk bls.SecretKey, msg []byte) bls.Signature
	Verify(pk bls.PublicKey, msg []byte, sig bls.Signature) error
	Aggregate(sigs []bls.Signature) bls.Signature
}

// Handler carries the behavior common to both Reduction steps:
// building the vote to broadcast and verifying/collecting inbound
// votes into an accumulator.
type Handler struct {
	RU        consensus.RoundUpdate
	Committee *committee.Committee
	Signer    Signer
	Acc       *accumulator.Accumulator
}

// New wires a Handler around a freshly built step Committee.
func New(ru consensus.RoundUpdate, c *committee.Committee, signer Signer) *Handler {
	return &Handler{
		RU:        ru,
		Committee: c,
		Signer:    signer,
		Acc:       accumulator.New(signer, c),
	}
}

// BuildVote signs blockHash at (round, step) and returns the
// Reduction message to broadcast. It does not check committee
// membership; the round driver only calls it for committee members.
func (h *Handler) BuildVote(step uint8, blockHash [32]byte) message.Message {
	hdr := header.Header{
		Version:   header.Version,
		Round:     h.RU.Round,
		Step:      step,
		BlockHash: blockHash,
		PubKeyBLS: h.RU.PubKeyBLS,
	}

	sig := h.Signer.Sign(h.RU.SecretKeyBLS, hdr.SignPayload())

	var signedHash [48]byte
	copy(signedHash[:], sig.Bytes())

	return message.ReductionMessage(hdr, message.Reduction{SignedHash: signedHash})
}

// Collect verifies msg's topic and folds its vote into the
// accumulator, returning a consensus.Output.
func (h *Handler) Collect(msg message.Message) (consensus.Output, error) {
	if msg.Topic != message.TopicReduction || msg.Reduction == nil {
		return consensus.PendingOutput(), consensus.WrapErr(consensus.ErrInvalidMsgType, errWrongTopic)
	}

	sig, err := bls.SignatureFromBytes(msg.Reduction.SignedHash[:])
	if err != nil {
		return consensus.PendingOutput(), consensus.WrapErr(consensus.ErrInvalidSignature, err)
	}

	result, fired, err := h.Acc.Add(msg.Header, sig)
	if err != nil {
		return consensus.PendingOutput(), mapAccErr(err)
	}
	if !fired {
		return consensus.PendingOutput(), nil
	}

	var sigBytes [48]byte
	copy(sigBytes[:], result.Signature.Bytes())

	sv := message.StepVotes{BitSet: result.BitSet, Signature: sigBytes}
	return consensus.QuorumOutput(consensus.ReductionFrame(result.BlockHash, sv)), nil
}

func mapAccErr(err error) error {
	switch err.Error() {
	case "accumulator: signer not a committee member":
		return consensus.WrapErr(consensus.ErrNotCommitteeMember, err)
	case "accumulator: invalid signature":
		return consensus.WrapErr(consensus.ErrInvalidSignature, err)
	default:
		return err
	}
}

type reductionErr string

func (e reductionErr) Error() string { return string(e) }

const errWrongTopic reductionErr = "reduction: expected Reduction payload"
