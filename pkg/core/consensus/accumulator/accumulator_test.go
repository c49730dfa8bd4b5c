package accumulator

import (
	"testing"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/committee"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/sortition"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	scheme bls.Scheme
	keys   []bls.SecretKey
	pks    []bls.PublicKey
	c      *committee.Committee
}

func setup(t *testing.T, n int) fixture {
	t.Helper()

	scheme := bls.NewScheme()
	p := user.NewProvisioners()

	var fx fixture
	fx.scheme = scheme

	for i := 1; i <= n; i++ {
		var seed [32]byte
		seed[0] = byte(i)
		sk, pk := bls.Generate(seed)

		fx.keys = append(fx.keys, sk)
		fx.pks = append(fx.pks, pk)

		p.Add(user.Provisioner{PublicKey: pk, Stake: uint64(1000*i) * user.DUSK, EligibleFrom: 0})
	}

	cfg := sortition.New([32]byte{}, 1, 1, 64)
	c, err := committee.New(p, cfg)
	require.NoError(t, err)
	fx.c = c
	return fx
}

func voteFrom(t *testing.T, fx fixture, idx int, round uint64, step uint8, hash [32]byte) (header.Header, bls.Signature) {
	t.Helper()

	hdr := header.Header{
		Version:   header.Version,
		Round:     round,
		Step:      step,
		BlockHash: hash,
		PubKeyBLS: fx.pks[idx],
	}
	sig := fx.scheme.Sign(fx.keys[idx], hdr.SignPayload())
	return hdr, sig
}

func TestAccumulatorFiresOnceQuorumCrossed(t *testing.T) {
	fx := setup(t, 5)
	acc := New(fx.scheme, fx.c)

	hash := [32]byte{1}
	var fired bool
	for i := range fx.pks {
		if !fx.c.IsMember(fx.pks[i]) {
			continue
		}
		hdr, sig := voteFrom(t, fx, i, 1, 1, hash)
		_, ok, err := acc.Add(hdr, sig)
		require.NoError(t, err)
		if ok {
			fired = true
			break
		}
	}
	assert.True(t, fired, "quorum should fire once enough committee weight votes the same hash")
}

func TestAccumulatorRejectsDuplicateVotes(t *testing.T) {
	fx := setup(t, 5)
	acc := New(fx.scheme, fx.c)

	idx := 0
	for !fx.c.IsMember(fx.pks[idx]) {
		idx++
	}

	hdr, sig := voteFrom(t, fx, idx, 1, 1, [32]byte{1})

	_, fired1, err := acc.Add(hdr, sig)
	require.NoError(t, err)
	assert.False(t, fired1)

	_, fired2, err := acc.Add(hdr, sig)
	require.NoError(t, err)
	assert.False(t, fired2, "a duplicate vote must never itself trigger quorum")
}

func TestAccumulatorRejectsNonMember(t *testing.T) {
	fx := setup(t, 5)
	acc := New(fx.scheme, fx.c)

	var seed [32]byte
	seed[0] = 99
	outsiderSk, outsiderPk := bls.Generate(seed)

	hdr := header.Header{Version: header.Version, Round: 1, Step: 1, BlockHash: [32]byte{1}, PubKeyBLS: outsiderPk}
	sig := fx.scheme.Sign(outsiderSk, hdr.SignPayload())

	_, _, err := acc.Add(hdr, sig)
	assert.Error(t, err)
}

func TestAccumulatorRejectsInvalidSignature(t *testing.T) {
	fx := setup(t, 5)
	acc := New(fx.scheme, fx.c)

	idx := 0
	for !fx.c.IsMember(fx.pks[idx]) {
		idx++
	}

	hdr := header.Header{Version: header.Version, Round: 1, Step: 1, BlockHash: [32]byte{1}, PubKeyBLS: fx.pks[idx]}
	_, badSig := voteFrom(t, fx, idx, 1, 1, [32]byte{2}) // signed over a different hash

	_, _, err := acc.Add(hdr, badSig)
	assert.Error(t, err)
}

func TestAccumulatorTieBreakFirstHashWins(t *testing.T) {
	fx := setup(t, 5)
	acc := New(fx.scheme, fx.c)

	members := 0
	for i := range fx.pks {
		if fx.c.IsMember(fx.pks[i]) {
			members++
		}
	}
	require.GreaterOrEqual(t, members, 2, "need at least two committee members for a tie-break scenario")

	var firedHash [32]byte
	var firedOnce bool

	hashA := [32]byte{0xA}
	hashB := [32]byte{0xB}

	for i := range fx.pks {
		if !fx.c.IsMember(fx.pks[i]) {
			continue
		}
		hdr, sig := voteFrom(t, fx, i, 1, 1, hashA)
		result, ok, err := acc.Add(hdr, sig)
		require.NoError(t, err)
		if ok && !firedOnce {
			firedOnce = true
			firedHash = result.BlockHash
		}
	}

	for i := range fx.pks {
		if !fx.c.IsMember(fx.pks[i]) {
			continue
		}
		hdr, sig := voteFrom(t, fx, i, 1, 1, hashB)
		result, ok, err := acc.Add(hdr, sig)
		require.NoError(t, err)
		if ok {
			assert.Equal(t, firedHash, result.BlockHash, "only the first hash to cross quorum may ever fire")
		}
	}
}
