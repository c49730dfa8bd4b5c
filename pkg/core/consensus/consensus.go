// Package consensus holds the types shared across every step handler
// and the round driver: RoundUpdate, Frame, the handler Output
// protocol, and the error kinds every step handler returns. Frame is
// a Go interface plus a tagged struct rather than a closed sum type,
// the idiomatic stand-in for what other implementations of this kind
// of step machine express as an enum.
package consensus

import (
	"time"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/candidate"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
)

// RoundUpdate carries the data about a new round: the active
// Provisioners, this node's own keys, the sortition seed, the
// previous block's hash, and its timestamp — every step handler below
// depends on one field or another of this richer form.
type RoundUpdate struct {
	Round        uint64
	PubKeyBLS    bls.PublicKey
	SecretKeyBLS bls.SecretKey
	Seed         [32]byte
	Hash         [32]byte
	Timestamp    int64
	Provisioners *user.Provisioners
}

// FrameKind tags which variant a Frame carries.
type FrameKind uint8

// The Frame variants carried between steps.
const (
	FrameEmpty FrameKind = iota
	FrameNewBlock
	FrameReduction
	FrameNil
)

// Frame is the typed result passed strictly forward from one step to
// the next.
type Frame struct {
	Kind      FrameKind
	Block     candidate.Block
	BlockHash [32]byte
	Votes     []message.StepVotes
}

// EmptyFrame is the zero-information frame Selection seeds the round
// with before any candidate has been seen.
func EmptyFrame() Frame { return Frame{Kind: FrameEmpty} }

// NewBlockFrame wraps a generated/accepted candidate.
func NewBlockFrame(b candidate.Block) Frame {
	return Frame{Kind: FrameNewBlock, Block: b, BlockHash: b.Hash()}
}

// ReductionFrame wraps a quorum-reached block hash and the StepVotes
// that certified it.
func ReductionFrame(hash [32]byte, votes ...message.StepVotes) Frame {
	return Frame{Kind: FrameReduction, BlockHash: hash, Votes: votes}
}

// NilFrame marks a step that reached its deadline without quorum.
func NilFrame() Frame { return Frame{Kind: FrameNil} }

// OutputKind tags a step handler's Collect/HandleTimeout result.
type OutputKind uint8

// The three Output variants a step handler can return.
const (
	Pending OutputKind = iota
	Quorum
	Timeout
)

// Output is what a StepHandler.Collect or HandleTimeout call returns.
type Output struct {
	Kind  OutputKind
	Frame Frame
}

// PendingOutput signals no decision yet; the step task keeps pumping
// inbound messages.
func PendingOutput() Output { return Output{Kind: Pending} }

// QuorumOutput signals the step reached quorum and produced frame.
func QuorumOutput(frame Frame) Output { return Output{Kind: Quorum, Frame: frame} }

// TimeoutOutput signals the step's deadline fired; frame is typically
// a NilFrame that downstream steps treat as a Nil vote.
func TimeoutOutput(frame Frame) Output { return Output{Kind: Timeout, Frame: frame} }

// StepHandler is the capability set of a step variant: verify an
// inbound message, collect it into the step's accumulator, and react
// to the step deadline firing. selection.Handler implements it. The
// Reduction handlers (firststep, secondstep) have Initialize, Collect,
// HandleTimeout and Name but no Verify method, so they do not satisfy
// it; their Collect verifies each vote as it folds it in. The round
// driver calls every handler through its concrete type.
type StepHandler interface {
	Initialize(frame Frame)
	Verify(msg message.Message) error
	Collect(msg message.Message) (Output, error)
	HandleTimeout() Output
	Name() string
}

// ErrKind identifies a class of step-handler error as a
// programmatically comparable sentinel rather than a distinct type
// per kind.
type ErrKind struct{ name string }

func (e ErrKind) Error() string { return e.name }

// The error kinds a step handler can return.
var (
	ErrInvalidMsgType     = ErrKind{"invalid message type"}
	ErrInvalidSignature   = ErrKind{"invalid signature"}
	ErrNotCommitteeMember = ErrKind{"signer not a committee member"}
	ErrFutureRound        = ErrKind{"message is for a future round"}
	ErrStaleRound         = ErrKind{"message is for a stale round"}
	ErrInvalidBlock       = ErrKind{"invalid candidate block"}
	ErrQuorumTimeout      = ErrKind{"step deadline expired before quorum"}
)

// kindError pairs a cause with one of the ErrKind sentinels, so
// callers can branch on errors.Is(err, consensus.ErrStaleRound) while
// still retaining the underlying cause in the error chain.
type kindError struct {
	kind  ErrKind
	cause error
}

func (e *kindError) Error() string { return e.kind.name + ": " + e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Is(target error) bool {
	k, ok := target.(ErrKind)
	return ok && k.name == e.kind.name
}

// WrapErr wraps err with kind, keeping errors.Is(result, kind) true.
func WrapErr(kind ErrKind, err error) error {
	return &kindError{kind: kind, cause: err}
}

// StepTimer fires d after Start, calling the step task back into
// HandleTimeout; a single timer type serves every step, not just
// Reduction.
type StepTimer struct {
	timer *time.Timer
}

// Start arms the timer for duration d.
func (t *StepTimer) Start(d time.Duration) <-chan time.Time {
	t.timer = time.NewTimer(d)
	return t.timer.C
}

// Stop disarms the timer, draining its channel if it already fired.
func (t *StepTimer) Stop() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}
