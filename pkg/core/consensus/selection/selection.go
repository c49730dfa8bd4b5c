// Package selection implements the Selection step of spec.md §4.4:
// candidate generation by the sole sortition winner, and candidate
// verification/storage by everyone else. Grounded on
// original_source/src/selection/block_generator.rs (Generator) and
// original_source/src/selection/handler.rs — SPEC_FULL.md's Open
// Question resolves in favor of the complete contract (signature
// verification + candidate store), not the always-NotImplemented
// stub the Rust source also carries.
package selection

import (
	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/candidate"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	lg "github.com/sirupsen/logrus"
)

var log = lg.WithField("process", "selection")

// Signer is the subset of bls.Signer the Selection handler needs.
type Signer interface {
	Sign(sk bls.SecretKey, msg []byte) bls.Signature
	Verify(pk bls.PublicKey, msg []byte, sig bls.Signature) error
}

// Handler is the Selection step: committee size 1 (the block
// generator). Implements consensus.StepHandler.
type Handler struct {
	ru        consensus.RoundUpdate
	committee *committee.Committee
	signer    Signer
	generator *candidate.Generator
	db        candidate.DB

	accepted bool
}

// New returns a Selection handler for one round.
func New(ru consensus.RoundUpdate, c *committee.Committee, signer Signer, gen *candidate.Generator, db candidate.DB) *Handler {
	return &Handler{ru: ru, committee: c, signer: signer, generator: gen, db: db}
}

// Name implements consensus.StepHandler.
func (h *Handler) Name() string { return "selection" }

// Initialize implements consensus.StepHandler; Selection does not
// consume the previous step's Frame (it is always the round's first
// step).
func (h *Handler) Initialize(consensus.Frame) {}

// Generate runs the active path: if this node is the sortition
// winner, it produces a candidate block and returns the NewBlock
// message to broadcast. Non-winners return (Message{}, false).
func (h *Handler) Generate(step uint8) (message.Message, bool) {
	if !h.committee.IsMember(h.ru.PubKeyBLS) {
		return message.Message{}, false
	}

	block := h.generator.Generate(h.ru.Round, h.ru.Seed, h.ru.Hash, h.ru.PubKeyBLS)
	hash := block.Hash()

	hdr := header.Header{
		Version:   header.Version,
		Round:     h.ru.Round,
		Step:      step,
		BlockHash: hash,
		PubKeyBLS: h.ru.PubKeyBLS,
	}

	sig := h.signer.Sign(h.ru.SecretKeyBLS, hdr.SignPayload())

	var signedHash [48]byte
	copy(signedHash[:], sig.Bytes())

	if err := h.db.StoreCandidate(block); err != nil {
		log.WithError(err).Warn("selection: failed storing own candidate")
	}

	return message.NewBlockMessage(hdr, message.NewBlock{
		PrevHash:   h.ru.Hash,
		Candidate:  block,
		SignedHash: signedHash,
	}), true
}

// Verify checks the NewBlock signature and that the sender is the
// sole sortition winner for this step.
func (h *Handler) Verify(msg message.Message) error {
	if msg.Topic != message.TopicNewBlock || msg.NewBlock == nil {
		return consensus.WrapErr(consensus.ErrInvalidMsgType, errWrongTopic)
	}

	if !h.committee.IsMember(msg.Header.PubKeyBLS) {
		return consensus.WrapErr(consensus.ErrNotCommitteeMember, errNotWinner)
	}

	sig, err := bls.SignatureFromBytes(msg.NewBlock.SignedHash[:])
	if err != nil {
		return consensus.WrapErr(consensus.ErrInvalidSignature, err)
	}

	if err := h.signer.Verify(msg.Header.PubKeyBLS, msg.Header.SignPayload(), sig); err != nil {
		return consensus.WrapErr(consensus.ErrInvalidSignature, err)
	}

	if err := candidate.Validate(msg.NewBlock.Candidate, h.ru.Round, h.ru.Hash); err != nil {
		return consensus.WrapErr(consensus.ErrInvalidBlock, err)
	}

	return nil
}

// Collect stores the first validated candidate and emits
// Frame::NewBlock, per spec.md §4.4. Selection never times out into a
// quorum of its own: a timeout simply means no candidate arrived.
func (h *Handler) Collect(msg message.Message) (consensus.Output, error) {
	if err := h.Verify(msg); err != nil {
		return consensus.PendingOutput(), err
	}

	if h.accepted {
		return consensus.PendingOutput(), nil
	}
	h.accepted = true

	if err := h.db.StoreCandidate(msg.NewBlock.Candidate); err != nil {
		log.WithError(err).Warn("selection: failed storing candidate")
	}

	return consensus.QuorumOutput(consensus.NewBlockFrame(msg.NewBlock.Candidate)), nil
}

// HandleTimeout implements consensus.StepHandler: no candidate
// arrived in time, so the round proceeds with a Nil frame.
func (h *Handler) HandleTimeout() consensus.Output {
	return consensus.TimeoutOutput(consensus.NilFrame())
}

type selectionErr string

func (e selectionErr) Error() string { return string(e) }

const (
	errWrongTopic selectionErr = "selection: expected NewBlock payload"
	errNotWinner  selectionErr = "selection: sender is not the sortition winner"
)
