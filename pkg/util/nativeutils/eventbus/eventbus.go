// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Package eventbus is the round driver's internal publish/subscribe
// fabric: the driver publishes RoundUpdate, WinningBlockHash and
// outbound-message notifications on it for local subscribers such as
// a harness or a test. The step handlers do not use it.
package eventbus

import lg "github.com/sirupsen/logrus"

var logEB = lg.WithField("process", "eventbus")

// EventBus fans a published Event out to every Listener subscribed to
// its Topic.
type EventBus struct {
	listeners *listenerMap
}

// New returns an empty EventBus.
func New() *EventBus {
	return &EventBus{listeners: newListenerMap()}
}

// Publish delivers e to every current subscriber of topic. A
// subscriber whose Notify returns an error is logged and skipped;
// Publish never blocks on a slow subscriber (ChanListener drops
// instead).
func (bus *EventBus) Publish(topic Topic, e Event) {
	for _, l := range bus.listeners.Load(topic) {
		if err := l.Listener.Notify(e); err != nil {
			logEB.WithError(err).WithField("topic", topic).Warn("eventbus: listener notify failed")
		}
	}
}
