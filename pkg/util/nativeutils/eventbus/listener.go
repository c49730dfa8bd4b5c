// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

package eventbus

import "github.com/dusk-protocol/consensus/pkg/core/consensus/message"

// Topic identifies an internal notification channel the round driver
// and its collaborators publish on — distinct from message.Topic,
// which discriminates wire payloads. The round-level notifications
// (RoundUpdate, WinningBlockHash, outbound messages) travel over
// these.
type Topic uint8

// The notification topics the round driver publishes.
const (
	// TopicRoundUpdate carries a consensus.RoundUpdate marking the
	// start of a new round.
	TopicRoundUpdate Topic = iota
	// TopicWinningBlockHash carries the [32]byte hash of a finalized
	// round's winning block.
	TopicWinningBlockHash
	// TopicOutbound carries a message.Message this node has produced
	// and wants broadcast to its peers.
	TopicOutbound
	// TopicInbound carries a message.Message received from a peer,
	// destined for the round driver's step/agreement tasks.
	TopicInbound
)

// Listener reacts to one notification delivered on a subscribed topic.
type Listener interface {
	Notify(Event) error
}

// Event is the payload carried across the bus: exactly one of its
// fields is populated, selected by the Topic it was published under.
type Event struct {
	RoundUpdate  interface{}
	BlockHash    [32]byte
	Message      message.Message
}

// ChanListener forwards every Event it is notified of onto a channel,
// dropping the event if the channel is full rather than blocking the
// publisher.
type ChanListener struct {
	ch chan<- Event
}

// NewChanListener returns a Listener that forwards onto ch.
func NewChanListener(ch chan<- Event) *ChanListener {
	return &ChanListener{ch: ch}
}

// Notify implements Listener.
func (c *ChanListener) Notify(e Event) error {
	select {
	case c.ch <- e:
	default:
		return errChannelFull
	}
	return nil
}

// CallbackListener invokes an arbitrary function for every Event.
type CallbackListener struct {
	callback func(Event) error
}

// NewCallbackListener returns a Listener wrapping cb.
func NewCallbackListener(cb func(Event) error) *CallbackListener {
	return &CallbackListener{callback: cb}
}

// Notify implements Listener.
func (c *CallbackListener) Notify(e Event) error {
	return c.callback(e)
}

type listenerErr string

func (e listenerErr) Error() string { return string(e) }

const errChannelFull listenerErr = "eventbus: subscriber channel full, event dropped"
