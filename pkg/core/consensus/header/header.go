// Package header defines the common message Header and the canonical
// sign-payload encoding every BLS signature in this engine is
// computed over.
package header

import (
	"bytes"
	"encoding/binary"

	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
)

// Version is the wire protocol version this engine emits.
const Version = uint8(1)

// Header is the common envelope carried by every consensus message:
// version, round, step, block hash, and the sender's BLS public key.
type Header struct {
	Version   uint8
	Round     uint64
	Step      uint8
	BlockHash [32]byte
	PubKeyBLS bls.PublicKey
}

// SignPayload returns the canonical bytes signed/verified for this
// header: round_le || step || block_hash. The topic byte is
// deliberately not included; the signer's identity is carried by
// PubKeyBLS, not by the payload.
func (h Header) SignPayload() []byte {
	buf := new(bytes.Buffer)

	var roundBuf [8]byte
	binary.LittleEndian.PutUint64(roundBuf[:], h.Round)
	buf.Write(roundBuf[:])

	buf.WriteByte(h.Step)
	buf.Write(h.BlockHash[:])

	return buf.Bytes()
}

// Equal reports whether two headers address the same (round, step,
// block_hash, signer) tuple. Duplicate votes are dropped on DedupKey,
// not on Equal.
func (h Header) Equal(other Header) bool {
	return h.Round == other.Round &&
		h.Step == other.Step &&
		h.BlockHash == other.BlockHash &&
		h.PubKeyBLS.Equal(other.PubKeyBLS)
}

// DedupKey returns the (signer, step, block_hash) key used to drop
// duplicate inbound votes. Fields are fixed-width (a BLS public key is
// always bls.PublicKeySize bytes, a block hash always 32) so plain
// concatenation can't produce a collision between distinct tuples the
// way joining on a literal separator byte could.
func (h Header) DedupKey() string {
	buf := make([]byte, 0, bls.PublicKeySize+1+32)
	buf = append(buf, h.PubKeyBLS.Bytes()...)
	buf = append(buf, h.Step)
	buf = append(buf, h.BlockHash[:]...)
	return string(buf)
}
