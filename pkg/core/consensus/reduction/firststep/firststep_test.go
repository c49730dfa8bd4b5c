package firststep

import (
	"testing"

	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/candidate"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/reduction"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/sortition"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (bls.Scheme, consensus.RoundUpdate, *committee.Committee) {
	t.Helper()

	scheme := bls.NewScheme()
	p := user.NewProvisioners()

	var pk0 bls.PublicKey
	var sk0 bls.SecretKey
	for i := 1; i <= 5; i++ {
		var seed [32]byte
		seed[0] = byte(i)
		sk, pk := bls.Generate(seed)
		if i == 1 {
			sk0, pk0 = sk, pk
		}
		p.Add(user.Provisioner{PublicKey: pk, Stake: uint64(1000*i) * user.DUSK, EligibleFrom: 0})
	}

	cfg := sortition.New([32]byte{}, 1, 1, 64)
	c, err := committee.New(p, cfg)
	require.NoError(t, err)

	ru := consensus.RoundUpdate{Round: 1, PubKeyBLS: pk0, SecretKeyBLS: sk0, Provisioners: p}
	return scheme, ru, c
}

func TestInitializeVotesForCandidateOnNewBlockFrame(t *testing.T) {
	scheme, ru, c := setup(t)
	h := New(ru, c, scheme, 1)

	block := candidate.Block{Header: candidate.Header{Height: 1}}
	h.Initialize(consensus.NewBlockFrame(block))

	msg := h.BuildVote()
	assert.Equal(t, block.Hash(), msg.Header.BlockHash)
}

func TestInitializeVotesNilOnEmptyFrame(t *testing.T) {
	scheme, ru, c := setup(t)
	h := New(ru, c, scheme, 1)

	h.Initialize(consensus.EmptyFrame())

	msg := h.BuildVote()
	assert.Equal(t, reduction.NilHash, msg.Header.BlockHash)
}

func TestHandleTimeoutEmitsNilReductionFrame(t *testing.T) {
	scheme, ru, c := setup(t)
	h := New(ru, c, scheme, 1)

	out := h.HandleTimeout()
	require.Equal(t, consensus.Timeout, out.Kind)
	assert.Equal(t, consensus.FrameReduction, out.Frame.Kind)
	assert.Equal(t, reduction.NilHash, out.Frame.BlockHash)
}

func TestNameIdentifiesFirstReductionStep(t *testing.T) {
	scheme, ru, c := setup(t)
	h := New(ru, c, scheme, 1)
	assert.Equal(t, "reduction-1", h.Name())
}
