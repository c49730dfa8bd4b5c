// Package firststep is the first Reduction step: each committee
// member signs Selection's candidate hash (or Nil) and broadcasts a
// Reduction; on quorum, it hands the winning hash and its StepVotes
// forward to secondstep.
package firststep

import (
	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/reduction"
)

// Handler is the first-step Reduction handler.
type Handler struct {
	*reduction.Handler
	step      uint8
	blockHash [32]byte
}

// New returns a firststep Handler for the given committee.
func New(ru consensus.RoundUpdate, c *committee.Committee, signer reduction.Signer, step uint8) *Handler {
	return &Handler{Handler: reduction.New(ru, c, signer), step: step}
}

// Name implements consensus.StepHandler.
func (h *Handler) Name() string { return "reduction-1" }

// Initialize reads the block hash to vote on from Selection's Frame:
// FrameNewBlock votes for the candidate; anything else (FrameEmpty,
// FrameNil) votes Nil.
func (h *Handler) Initialize(frame consensus.Frame) {
	if frame.Kind == consensus.FrameNewBlock {
		h.blockHash = frame.BlockHash
	} else {
		h.blockHash = reduction.NilHash
	}
}

// BuildVote signs h.blockHash for this step.
func (h *Handler) BuildVote() message.Message {
	return h.Handler.BuildVote(h.step, h.blockHash)
}

// HandleTimeout emits a Nil-hash Reduction frame, so the second
// Reduction step still runs.
func (h *Handler) HandleTimeout() consensus.Output {
	return consensus.TimeoutOutput(consensus.ReductionFrame(reduction.NilHash))
}
