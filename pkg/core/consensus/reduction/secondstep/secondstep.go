// Package secondstep is the second Reduction step: each committee
// member signs the hash firststep carried forward and broadcasts a
// second Reduction; on quorum, the round driver builds and broadcasts
// an Agreement. Built on the split between shared reduction.Handler
// and a per-phase wrapper.
package secondstep

import (
	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/reduction"
)

// Handler is the second-step Reduction handler.
type Handler struct {
	*reduction.Handler
	step       uint8
	blockHash  [32]byte
	firstVotes []message.StepVotes
}

// New returns a secondstep Handler for the given committee.
func New(ru consensus.RoundUpdate, c *committee.Committee, signer reduction.Signer, step uint8) *Handler {
	return &Handler{Handler: reduction.New(ru, c, signer), step: step}
}

// Name implements consensus.StepHandler.
func (h *Handler) Name() string { return "reduction-2" }

// Initialize reads the hash and StepVotes firststep produced.
func (h *Handler) Initialize(frame consensus.Frame) {
	if frame.Kind == consensus.FrameReduction {
		h.blockHash = frame.BlockHash
		h.firstVotes = frame.Votes
		return
	}
	h.blockHash = reduction.NilHash
}

// BuildVote signs h.blockHash for this step.
func (h *Handler) BuildVote() message.Message {
	return h.Handler.BuildVote(h.step, h.blockHash)
}

// FirstVotes returns the StepVotes firststep carried forward, needed
// by the round driver to assemble the Agreement's first vote-set.
func (h *Handler) FirstVotes() []message.StepVotes { return h.firstVotes }

// HandleTimeout emits a Nil-hash Reduction frame; the round driver
// observes a Nil outcome and advances to the next iteration's
// Selection step instead of building an Agreement.
func (h *Handler) HandleTimeout() consensus.Output {
	return consensus.TimeoutOutput(consensus.ReductionFrame(reduction.NilHash))
}
