// Package round drives one round of consensus end to end: the
// sequential Selection -> Reduction-1 -> Reduction-2 step loop, run
// alongside a parallel Agreement task that tallies Agreement messages
// into a final AggrAgreement certificate. Follows the cooperative
// worker-pool / bounded-channel style used throughout
// pkg/core/consensus.
package round

import (
	"context"
	"sync"
	"time"

	"github.com/dusk-protocol/consensus/pkg/config"
	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/agreement"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/candidate"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/reduction"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/reduction/firststep"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/reduction/secondstep"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/selection"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/sortition"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/dusk-protocol/consensus/pkg/util/nativeutils/eventbus"
	"github.com/dusk-protocol/consensus/pkg/util/nativeutils/rpcbus"
	lg "github.com/sirupsen/logrus"
)

var log = lg.WithField("process", "round")

// Signer is the full bls.Signer surface the round driver and every
// step/agreement collaborator it wires together need.
type Signer interface {
	Sign(sk bls.SecretKey, msg []byte) bls.Signature
	Verify(pk bls.PublicKey, msg []byte, sig bls.Signature) error
	Aggregate(sigs []bls.Signature) bls.Signature
	AggregateVerify(pks []bls.PublicKey, msg []byte, aggregated bls.Signature) error
}

// Result is what Spin returns once a round concludes, successfully or
// by exhausting its step budget.
type Result struct {
	Finalized bool
	Block     candidate.Block
	Cert      message.AggrAgreement
}

// Driver wires the collaborators one running node needs across many
// rounds: the crypto scheme, the candidate store/generator, the
// RPCBus the Agreement task issues its synchronous candidate lookups
// over, and the bus every outbound message and round notification is
// mirrored onto. Messages themselves enter and leave through the
// inbound/outbound channels passed to Spin.
type Driver struct {
	Signer    Signer
	DB        candidate.DB
	Generator *candidate.Generator
	Bus       *eventbus.EventBus
	RPCBus    *rpcbus.RPCBus
}

// NewDriver wires a Driver around the production BLS scheme and an
// in-memory candidate store, the configuration every bundled node
// harness boots with.
func NewDriver(bus *eventbus.EventBus) *Driver {
	return &Driver{
		Signer:    bls.NewScheme(),
		DB:        candidate.NewMemDB(),
		Generator: candidate.NewGenerator(),
		Bus:       bus,
		RPCBus:    rpcbus.New(),
	}
}

// send offers msg to outbound (dropping it rather than blocking if the
// transport layer isn't draining fast enough) and mirrors it onto the
// Bus so any local subscriber (logging, a test harness) observes every
// message this node produces.
func (d *Driver) send(outbound chan<- message.Message, msg message.Message) {
	select {
	case outbound <- msg:
	default:
	}

	if d.Bus != nil {
		d.Bus.Publish(eventbus.TopicOutbound, eventbus.Event{Message: msg})
	}
}

// inboundRouter demultiplexes one round's inbound message stream into
// per-step queues and the Agreement task's queue. Spin feeds it from a
// single goroutine; routing does no verification, which stays with the
// step handlers and the Agreement task.
type inboundRouter struct {
	mu       sync.Mutex
	perStep  map[uint8]chan message.Message
	agree    chan message.Message
}

func newInboundRouter() *inboundRouter {
	return &inboundRouter{
		perStep: make(map[uint8]chan message.Message),
		agree:   make(chan message.Message, config.Get().Consensus.OutboundCap*8),
	}
}

func (r *inboundRouter) queueFor(step uint8) chan message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.perStep[step]
	if !ok {
		capacity := config.Get().Consensus.InboundCapPerSeat * int(config.Get().Consensus.MaxCommitteeSize)
		if capacity <= 0 {
			capacity = 1
		}
		ch = make(chan message.Message, capacity)
		r.perStep[step] = ch
	}
	return ch
}

// route dispatches one inbound message to the right queue, dropping it
// if that queue is saturated rather than blocking the worker pool.
func (r *inboundRouter) route(msg message.Message) {
	switch msg.Topic {
	case message.TopicAgreement, message.TopicAggrAgreement:
		select {
		case r.agree <- msg:
		default:
			log.Warn("round: agreement queue full, dropping message")
		}
	default:
		ch := r.queueFor(msg.Header.Step)
		select {
		case ch <- msg:
		default:
			log.WithField("step", msg.Header.Step).Warn("round: step queue full, dropping message")
		}
	}
}

// Spin runs ru's round to completion: it alternates Selection,
// Reduction-1 and Reduction-2 over wire steps below MaxSteps (only
// whole 3-step iterations are run), handing each step's Frame to the
// next, while a parallel Agreement task
// tallies Agreement messages concurrently. Spin returns once an
// AggrAgreement reaches quorum, ctx is cancelled, or the step budget
// is exhausted.
func (d *Driver) Spin(ctx context.Context, ru consensus.RoundUpdate, inbound <-chan message.Message, outbound chan<- message.Message) Result {
	cfg := config.Get().Consensus
	sets := committee.NewSet(ru.Provisioners)
	router := newInboundRouter()

	if d.Bus != nil {
		d.Bus.Publish(eventbus.TopicRoundUpdate, eventbus.Event{RoundUpdate: ru})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				if msg.Header.Round != ru.Round {
					continue
				}
				router.route(msg)
			}
		}
	}()

	agreementHandler := agreement.NewHandler(ru.Seed, sets, d.Signer)
	agreementResult := make(chan Result, 1)

	if d.RPCBus != nil {
		getCandidate := make(chan rpcbus.Request, 1)
		if err := d.RPCBus.Register(candidate.GetCandidateMethod, getCandidate); err != nil {
			log.WithError(err).Warn("round: rpcbus register failed")
		} else {
			defer d.RPCBus.Deregister(candidate.GetCandidateMethod)
			wg.Add(1)
			go d.serveCandidateRequests(ctx, getCandidate, &wg)
		}
	}

	wg.Add(1)
	go d.runAgreementTask(ctx, ru, agreementHandler, sets, router.agree, outbound, agreementResult, &wg)

	var result Result

stepLoop:
	for step := uint8(0); int(step)+2 < int(cfg.MaxSteps); step += 3 {
		selFrame := d.runSelectionStep(ctx, ru, sets, step, router.queueFor(step), outbound)

		firstFrame := d.runFirstReductionStep(ctx, ru, sets, step+1, selFrame, router.queueFor(step+1), outbound)

		secondFrame, firstVotes := d.runSecondReductionStep(ctx, ru, sets, step+2, firstFrame, router.queueFor(step+2), outbound)

		if secondFrame.Kind == consensus.FrameReduction && secondFrame.BlockHash != reduction.NilHash {
			hdr := header.Header{
				Version:   header.Version,
				Round:     ru.Round,
				Step:      step + 2,
				BlockHash: secondFrame.BlockHash,
				PubKeyBLS: ru.PubKeyBLS,
			}
			var first message.StepVotes
			if len(firstVotes) > 0 {
				first = firstVotes[0]
			}
			var second message.StepVotes
			if len(secondFrame.Votes) > 0 {
				second = secondFrame.Votes[0]
			}

			agreementMsg := agreement.BuildAgreement(d.Signer, hdr, ru.SecretKeyBLS, first, second)
			d.send(outbound, agreementMsg)
			router.route(agreementMsg)
		}

		select {
		case <-ctx.Done():
			break stepLoop
		case result = <-agreementResult:
			break stepLoop
		default:
		}
	}

	cancel()
	wg.Wait()

	select {
	case result = <-agreementResult:
	default:
	}

	if result.Finalized && d.Bus != nil {
		d.Bus.Publish(eventbus.TopicWinningBlockHash, eventbus.Event{BlockHash: result.Block.Hash()})
	}

	return result
}

func (d *Driver) runAgreementTask(ctx context.Context, ru consensus.RoundUpdate, h *agreement.Handler, sets *committee.Set, in <-chan message.Message, outbound chan<- message.Message, out chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	tallies := make(map[uint8]*agreement.Tally)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}

			switch msg.Topic {
			case message.TopicAgreement:
				if msg.Agreement == nil {
					continue
				}
				if err := h.Verify(msg.Header, *msg.Agreement); err != nil {
					log.WithError(err).Debug("round: agreement verify failed")
					continue
				}

				t, ok := tallies[msg.Header.Step]
				if !ok {
					c, err := h.AgreementCommittee(ru.Round, msg.Header.Step)
					if err != nil {
						log.WithError(err).Error("round: agreement committee build failed")
						continue
					}
					t = agreement.NewTally(d.Signer, c)
					tallies[msg.Header.Step] = t
				}

				aggr, hdr, fired := t.Add(msg.Header, *msg.Agreement)
				if !fired {
					continue
				}

				aggrMsg := message.AggrAgreementMessage(hdr, aggr)
				d.send(outbound, aggrMsg)

				block, _ := d.fetchCandidate(ctx, hdr.BlockHash)
				out <- Result{Finalized: true, Block: block, Cert: aggr}
				return

			case message.TopicAggrAgreement:
				if msg.AggrAgreement == nil {
					continue
				}
				if err := h.VerifyAggrAgreement(msg.Header, *msg.AggrAgreement); err != nil {
					log.WithError(err).Debug("round: aggr agreement verify failed")
					continue
				}

				block, _ := d.fetchCandidate(ctx, msg.Header.BlockHash)
				out <- Result{Finalized: true, Block: block, Cert: *msg.AggrAgreement}
				return
			}
		}
	}
}

// serveCandidateRequests answers GetCandidateMethod lookups against
// d.DB for the lifetime of one round, the consumer side of the
// Register call Spin makes before starting the step and Agreement
// tasks.
func (d *Driver) serveCandidateRequests(ctx context.Context, reqs <-chan rpcbus.Request, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-reqs:
			if !ok {
				return
			}

			params, _ := req.Params.(candidate.GetCandidateRequest)
			block, found := d.DB.FetchCandidate(params.Hash)
			if !found {
				req.RespChan <- rpcbus.Response{Err: candidate.ErrCandidateNotFound}
				continue
			}
			req.RespChan <- rpcbus.Response{Resp: block}
		}
	}
}

// fetchCandidate looks up hash through the RPCBus (the Agreement
// task's synchronous query into the round driver's candidate store),
// falling back to a direct DB read if no RPCBus is wired.
func (d *Driver) fetchCandidate(ctx context.Context, hash [32]byte) (candidate.Block, bool) {
	if d.RPCBus == nil {
		return d.DB.FetchCandidate(hash)
	}

	resp, err := d.RPCBus.Call(candidate.GetCandidateMethod, rpcbus.NewRequest(candidate.GetCandidateRequest{Hash: hash}), ctx)
	if err != nil {
		return candidate.Block{}, false
	}

	block, ok := resp.(candidate.Block)
	return block, ok
}

func (d *Driver) runSelectionStep(ctx context.Context, ru consensus.RoundUpdate, sets *committee.Set, step uint8, in <-chan message.Message, outbound chan<- message.Message) consensus.Frame {
	c, err := sets.Get(sortition.New(ru.Seed, ru.Round, step, 1))
	if err != nil {
		log.WithError(err).Error("round: selection committee build failed")
		return consensus.NilFrame()
	}
	h := selection.New(ru, c, d.Signer, d.Generator, d.DB)

	if msg, ok := h.Generate(step); ok {
		d.send(outbound, msg)
	}

	timer := &consensus.StepTimer{}
	deadline := timer.Start(stepTimeout(step))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return consensus.NilFrame()
		case <-deadline:
			return h.HandleTimeout().Frame
		case msg := <-in:
			out, err := h.Collect(msg)
			if err != nil {
				log.WithError(err).Trace("round: selection collect error")
				continue
			}
			if out.Kind == consensus.Quorum {
				return out.Frame
			}
		}
	}
}

func (d *Driver) runFirstReductionStep(ctx context.Context, ru consensus.RoundUpdate, sets *committee.Set, step uint8, frame consensus.Frame, in <-chan message.Message, outbound chan<- message.Message) consensus.Frame {
	cfgC := config.Get().Consensus
	c, err := sets.Get(sortition.New(ru.Seed, ru.Round, step, cfgC.MaxCommitteeSize))
	if err != nil {
		log.WithError(err).Error("round: reduction-1 committee build failed")
		return consensus.ReductionFrame(reduction.NilHash)
	}
	h := firststep.New(ru, c, d.Signer, step)
	h.Initialize(frame)

	if c.IsMember(ru.PubKeyBLS) {
		vote := h.BuildVote()
		d.send(outbound, vote)
	}

	timer := &consensus.StepTimer{}
	deadline := timer.Start(stepTimeout(step))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return consensus.ReductionFrame(reduction.NilHash)
		case <-deadline:
			return h.HandleTimeout().Frame
		case msg := <-in:
			out, err := h.Collect(msg)
			if err != nil {
				log.WithError(err).Trace("round: reduction-1 collect error")
				continue
			}
			if out.Kind == consensus.Quorum {
				return out.Frame
			}
		}
	}
}

func (d *Driver) runSecondReductionStep(ctx context.Context, ru consensus.RoundUpdate, sets *committee.Set, step uint8, frame consensus.Frame, in <-chan message.Message, outbound chan<- message.Message) (consensus.Frame, []message.StepVotes) {
	cfgC := config.Get().Consensus
	c, err := sets.Get(sortition.New(ru.Seed, ru.Round, step, cfgC.MaxCommitteeSize))
	if err != nil {
		log.WithError(err).Error("round: reduction-2 committee build failed")
		return consensus.ReductionFrame(reduction.NilHash), nil
	}
	h := secondstep.New(ru, c, d.Signer, step)
	h.Initialize(frame)

	if c.IsMember(ru.PubKeyBLS) {
		vote := h.BuildVote()
		d.send(outbound, vote)
	}

	timer := &consensus.StepTimer{}
	deadline := timer.Start(stepTimeout(step))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return consensus.ReductionFrame(reduction.NilHash), h.FirstVotes()
		case <-deadline:
			return h.HandleTimeout().Frame, h.FirstVotes()
		case msg := <-in:
			out, err := h.Collect(msg)
			if err != nil {
				log.WithError(err).Trace("round: reduction-2 collect error")
				continue
			}
			if out.Kind == consensus.Quorum {
				return out.Frame, h.FirstVotes()
			}
		}
	}
}

// stepTimeout returns the exponentially backed-off deadline for a step
// index: the base StepTimeout doubles once per completed 3-step
// iteration and saturates at TimeoutCap.
func stepTimeout(step uint8) time.Duration {
	cfg := config.Get().Consensus
	iteration := step / 3

	d := cfg.StepTimeout()
	for i := uint8(0); i < iteration; i++ {
		d *= 2
		if d >= cfg.TimeoutCap() {
			return cfg.TimeoutCap()
		}
	}
	return d
}
