// Package bls is the consensus core's crypto boundary: key
// generation, single-message sign/verify, and signature aggregation
// over a pairing-based scheme. The core consensus packages only ever
// see the Signer interface; bls.Scheme is the one concrete adapter,
// backed by github.com/herumi/bls-eth-go-binary/bls — the BLS12-381
// binding prysmaticlabs-prysm uses for the same committee-signature
// role in its own beacon-chain consensus.
package bls

import (
	"sync"

	herumi "github.com/herumi/bls-eth-go-binary/bls"
	"github.com/pkg/errors"
)

// PublicKeySize and SignatureSize match the wire sizes used on the
// network: a 96-byte compressed G2 point for the public key and a 48-byte
// compressed G1 point for the signature (the min-signature-size
// BLS12-381 parameterization the original dusk-crypto/bls used).
const (
	PublicKeySize = 96
	SignatureSize = 48
)

var initOnce sync.Once

func mustInit() {
	initOnce.Do(func() {
		if err := herumi.Init(herumi.BLS12_381); err != nil {
			panic(errors.Wrap(err, "bls: pairing init failed"))
		}
		if err := herumi.SetETHmode(herumi.EthModeDraft07); err != nil {
			panic(errors.Wrap(err, "bls: eth mode init failed"))
		}
	})
}

// SecretKey is a scalar; it never crosses the crypto boundary except
// to produce signatures.
type SecretKey struct{ inner herumi.SecretKey }

// PublicKey is a compressed, totally-ordered-by-encoding G2 point.
type PublicKey struct{ inner herumi.PublicKey }

// Signature is a compressed G1 point.
type Signature struct{ inner herumi.Sign }

// Signer is the abstract interface the consensus core programs
// against; every collaborator needing sign/verify/aggregate goes
// through it instead of a concrete crypto library.
type Signer interface {
	Sign(sk SecretKey, msg []byte) Signature
	Verify(pk PublicKey, msg []byte, sig Signature) error
	Aggregate(sigs []Signature) Signature
	AggregateVerify(pks []PublicKey, msg []byte, aggregated Signature) error
}

// Scheme is the herumi-backed Signer implementation.
type Scheme struct{}

// NewScheme returns the production Signer, initializing the
// underlying pairing library on first use.
func NewScheme() Scheme {
	mustInit()
	return Scheme{}
}

// Generate derives a deterministic keypair from a 32-byte seed, used
// by tests and the bundled harness to build reproducible committees.
func Generate(seed [32]byte) (SecretKey, PublicKey) {
	mustInit()

	var sk herumi.SecretKey
	sk.SetByCSPRNG()

	// Re-derive deterministically from the seed so repeated test runs
	// see stable committees: the seed bytes are read as a
	// little-endian scalar (reduced mod the group order).
	sk.SetLittleEndian(seed[:])

	pk := *sk.GetPublicKey()
	return SecretKey{inner: sk}, PublicKey{inner: pk}
}

// Bytes returns the canonical compressed encoding of pk.
func (pk PublicKey) Bytes() []byte {
	return pk.inner.Serialize()
}

// Equal reports whether two public keys encode the same point.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.inner.IsEqual(&other.inner)
}

// Less orders public keys by their canonical byte encoding, giving
// Provisioners and Committee a stable total order.
func (pk PublicKey) Less(other PublicKey) bool {
	a, b := pk.Bytes(), other.Bytes()
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PublicKeyFromBytes decodes a compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk herumi.PublicKey
	if err := pk.Deserialize(b); err != nil {
		return PublicKey{}, errors.Wrap(err, "bls: decode public key")
	}
	return PublicKey{inner: pk}, nil
}

// Bytes returns the canonical compressed encoding of sig.
func (sig Signature) Bytes() []byte {
	return sig.inner.Serialize()
}

// SignatureFromBytes decodes a compressed signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig herumi.Sign
	if err := sig.Deserialize(b); err != nil {
		return Signature{}, errors.Wrap(err, "bls: decode signature")
	}
	return Signature{inner: sig}, nil
}

// Sign produces a signature of msg under sk.
func (Scheme) Sign(sk SecretKey, msg []byte) Signature {
	sig := sk.inner.SignByte(msg)
	return Signature{inner: *sig}
}

// Verify checks a single-message signature against pk.
func (Scheme) Verify(pk PublicKey, msg []byte, sig Signature) error {
	if !sig.inner.VerifyByte(&pk.inner, msg) {
		return errors.New("bls: signature verification failed")
	}
	return nil
}

// Aggregate homomorphically combines sigs into one signature.
func (Scheme) Aggregate(sigs []Signature) Signature {
	if len(sigs) == 0 {
		return Signature{}
	}

	agg := sigs[0].inner
	for _, s := range sigs[1:] {
		agg.Add(&s.inner)
	}
	return Signature{inner: agg}
}

// AggregateVerify checks an aggregated signature against the set of
// public keys that (by construction) all signed the same msg: it
// aggregates the public keys and performs a single pairing check,
// which is valid precisely because every signer votes on an
// identical sign-payload.
func (Scheme) AggregateVerify(pks []PublicKey, msg []byte, aggregated Signature) error {
	if len(pks) == 0 {
		return errors.New("bls: aggregate verify against empty key set")
	}

	aggPk := pks[0].inner
	for _, pk := range pks[1:] {
		aggPk.Add(&pk.inner)
	}

	if !aggregated.inner.VerifyByte(&aggPk, msg) {
		return errors.New("bls: aggregate signature verification failed")
	}
	return nil
}
