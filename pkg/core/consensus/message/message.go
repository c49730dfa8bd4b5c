// Package message defines the message taxonomy: Header + Payload
// variants (NewBlock, Reduction, Agreement, AggrAgreement), their
// canonical wire encoding, and the topic byte discriminator.
package message

import (
	"bytes"
	"encoding/binary"

	"github.com/dusk-protocol/consensus/pkg/core/consensus/candidate"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/header"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/pkg/errors"
)

func pubKeyFromBytes(b []byte) (bls.PublicKey, error) {
	return bls.PublicKeyFromBytes(b)
}

// Topic is the single-byte wire discriminator.
type Topic uint8

// The four topics the core exchanges.
const (
	TopicNewBlock Topic = iota
	TopicReduction
	TopicAgreement
	TopicAggrAgreement
)

// StepVotes is a (bitset over a committee, aggregated signature)
// pair, the unit carried per Reduction step inside an Agreement.
type StepVotes struct {
	BitSet    uint64
	Signature [48]byte
}

// NewBlock is the Selection step's payload: a candidate block plus
// its signed hash.
type NewBlock struct {
	PrevHash    [32]byte
	Candidate   candidate.Block
	SignedHash  [48]byte
}

// Reduction is a signed vote for a block hash at (round, step).
type Reduction struct {
	SignedHash [48]byte
}

// Agreement bundles the two Reduction StepVotes of one round, signed
// by the agreeing node.
type Agreement struct {
	Signature [48]byte
	FirstStep  StepVotes
	SecondStep StepVotes
}

// AggrAgreement is an Agreement plus the outer bitset/signature
// certifying a finalized round.
type AggrAgreement struct {
	Agreement     Agreement
	AggrSignature [48]byte
	BitSet        uint64
}

// Message is the top-level envelope: a Header plus exactly one of the
// four payload variants, selected by Topic.
type Message struct {
	Header        header.Header
	Topic         Topic
	NewBlock      *NewBlock
	Reduction     *Reduction
	Agreement     *Agreement
	AggrAgreement *AggrAgreement
}

// NewBlockMessage builds a NewBlock-topic message.
func NewBlockMessage(hdr header.Header, payload NewBlock) Message {
	return Message{Header: hdr, Topic: TopicNewBlock, NewBlock: &payload}
}

// ReductionMessage builds a Reduction-topic message.
func ReductionMessage(hdr header.Header, payload Reduction) Message {
	return Message{Header: hdr, Topic: TopicReduction, Reduction: &payload}
}

// AgreementMessage builds an Agreement-topic message.
func AgreementMessage(hdr header.Header, payload Agreement) Message {
	return Message{Header: hdr, Topic: TopicAgreement, Agreement: &payload}
}

// AggrAgreementMessage builds an AggrAgreement-topic message.
func AggrAgreementMessage(hdr header.Header, payload AggrAgreement) Message {
	return Message{Header: hdr, Topic: TopicAggrAgreement, AggrAgreement: &payload}
}

// ErrInvalidMsgType is returned when a payload variant does not match
// the header's declared topic, or vice versa.
var ErrInvalidMsgType = errors.New("message: payload variant does not match topic")

// Marshal encodes m into its canonical wire form:
// Header | topic:u8 | Payload.
func Marshal(m Message) ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := marshalHeader(buf, m.Header); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(m.Topic))

	switch m.Topic {
	case TopicNewBlock:
		if m.NewBlock == nil {
			return nil, ErrInvalidMsgType
		}
		if err := marshalNewBlock(buf, *m.NewBlock); err != nil {
			return nil, err
		}
	case TopicReduction:
		if m.Reduction == nil {
			return nil, ErrInvalidMsgType
		}
		buf.Write(m.Reduction.SignedHash[:])
	case TopicAgreement:
		if m.Agreement == nil {
			return nil, ErrInvalidMsgType
		}
		marshalAgreement(buf, *m.Agreement)
	case TopicAggrAgreement:
		if m.AggrAgreement == nil {
			return nil, ErrInvalidMsgType
		}
		marshalAgreement(buf, m.AggrAgreement.Agreement)
		buf.Write(m.AggrAgreement.AggrSignature[:])
		writeUint64(buf, m.AggrAgreement.BitSet)
	default:
		return nil, ErrInvalidMsgType
	}

	return buf.Bytes(), nil
}

func marshalHeader(buf *bytes.Buffer, hdr header.Header) error {
	buf.WriteByte(hdr.Version)
	writeUint64(buf, hdr.Round)
	buf.WriteByte(hdr.Step)
	buf.Write(hdr.BlockHash[:])
	buf.Write(hdr.PubKeyBLS.Bytes())
	return nil
}

func marshalNewBlock(buf *bytes.Buffer, nb NewBlock) error {
	buf.Write(nb.PrevHash[:])

	cb, err := candidate.Marshal(nb.Candidate)
	if err != nil {
		return errors.Wrap(err, "message: marshal candidate")
	}
	writeUint64(buf, uint64(len(cb)))
	buf.Write(cb)

	buf.Write(nb.SignedHash[:])
	return nil
}

func marshalAgreement(buf *bytes.Buffer, a Agreement) {
	buf.Write(a.Signature[:])
	marshalStepVotes(buf, a.FirstStep)
	marshalStepVotes(buf, a.SecondStep)
}

func marshalStepVotes(buf *bytes.Buffer, sv StepVotes) {
	writeUint64(buf, sv.BitSet)
	buf.Write(sv.Signature[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// Unmarshal decodes a wire-format message, the inverse of Marshal.
func Unmarshal(raw []byte) (Message, error) {
	r := bytes.NewReader(raw)

	hdr, err := unmarshalHeader(r)
	if err != nil {
		return Message{}, err
	}

	topicByte, err := r.ReadByte()
	if err != nil {
		return Message{}, errors.Wrap(err, "message: read topic")
	}
	topic := Topic(topicByte)

	m := Message{Header: hdr, Topic: topic}

	switch topic {
	case TopicNewBlock:
		nb, err := unmarshalNewBlock(r)
		if err != nil {
			return Message{}, err
		}
		m.NewBlock = &nb
	case TopicReduction:
		var red Reduction
		if _, err := readFull(r, red.SignedHash[:]); err != nil {
			return Message{}, errors.Wrap(err, "message: read reduction")
		}
		m.Reduction = &red
	case TopicAgreement:
		a, err := unmarshalAgreement(r)
		if err != nil {
			return Message{}, err
		}
		m.Agreement = &a
	case TopicAggrAgreement:
		a, err := unmarshalAgreement(r)
		if err != nil {
			return Message{}, err
		}
		var aggr AggrAgreement
		aggr.Agreement = a
		if _, err := readFull(r, aggr.AggrSignature[:]); err != nil {
			return Message{}, errors.Wrap(err, "message: read aggr signature")
		}
		bitset, err := readUint64(r)
		if err != nil {
			return Message{}, err
		}
		aggr.BitSet = bitset
		m.AggrAgreement = &aggr
	default:
		return Message{}, ErrInvalidMsgType
	}

	return m, nil
}

func unmarshalHeader(r *bytes.Reader) (header.Header, error) {
	var hdr header.Header

	v, err := r.ReadByte()
	if err != nil {
		return hdr, errors.Wrap(err, "message: read version")
	}
	hdr.Version = v

	round, err := readUint64(r)
	if err != nil {
		return hdr, err
	}
	hdr.Round = round

	step, err := r.ReadByte()
	if err != nil {
		return hdr, errors.Wrap(err, "message: read step")
	}
	hdr.Step = step

	if _, err := readFull(r, hdr.BlockHash[:]); err != nil {
		return hdr, errors.Wrap(err, "message: read block hash")
	}

	pkBuf := make([]byte, 96)
	if _, err := readFull(r, pkBuf); err != nil {
		return hdr, errors.Wrap(err, "message: read pubkey")
	}

	pk, err := pubKeyFromBytes(pkBuf)
	if err != nil {
		return hdr, err
	}
	hdr.PubKeyBLS = pk

	return hdr, nil
}

func unmarshalNewBlock(r *bytes.Reader) (NewBlock, error) {
	var nb NewBlock

	if _, err := readFull(r, nb.PrevHash[:]); err != nil {
		return nb, errors.Wrap(err, "message: read prev hash")
	}

	cbLen, err := readUint64(r)
	if err != nil {
		return nb, err
	}

	cb := make([]byte, cbLen)
	if _, err := readFull(r, cb); err != nil {
		return nb, errors.Wrap(err, "message: read candidate")
	}

	blk, err := candidate.Unmarshal(cb)
	if err != nil {
		return nb, errors.Wrap(err, "message: unmarshal candidate")
	}
	nb.Candidate = blk

	if _, err := readFull(r, nb.SignedHash[:]); err != nil {
		return nb, errors.Wrap(err, "message: read signed hash")
	}

	return nb, nil
}

func unmarshalAgreement(r *bytes.Reader) (Agreement, error) {
	var a Agreement

	if _, err := readFull(r, a.Signature[:]); err != nil {
		return a, errors.Wrap(err, "message: read agreement signature")
	}

	first, err := unmarshalStepVotes(r)
	if err != nil {
		return a, err
	}
	a.FirstStep = first

	second, err := unmarshalStepVotes(r)
	if err != nil {
		return a, err
	}
	a.SecondStep = second

	return a, nil
}

func unmarshalStepVotes(r *bytes.Reader) (StepVotes, error) {
	var sv StepVotes

	bitset, err := readUint64(r)
	if err != nil {
		return sv, err
	}
	sv.BitSet = bitset

	if _, err := readFull(r, sv.Signature[:]); err != nil {
		return sv, errors.Wrap(err, "message: read step votes signature")
	}

	return sv, nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "message: read uint64")
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, errors.New("message: short read")
	}
	return n, nil
}
