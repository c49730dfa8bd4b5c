package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToChanListener(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	bus.Subscribe(TopicWinningBlockHash, NewChanListener(ch))

	bus.Publish(TopicWinningBlockHash, Event{BlockHash: [32]byte{9}})

	select {
	case e := <-ch:
		assert.Equal(t, [32]byte{9}, e.BlockHash)
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishDeliversToCallbackListener(t *testing.T) {
	bus := New()

	var got Event
	var called bool
	bus.Subscribe(TopicRoundUpdate, NewCallbackListener(func(e Event) error {
		called = true
		got = e
		return nil
	}))

	bus.Publish(TopicRoundUpdate, Event{RoundUpdate: 42})

	require.True(t, called)
	assert.Equal(t, 42, got.RoundUpdate)
}

func TestPublishOnlyReachesMatchingTopic(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	bus.Subscribe(TopicOutbound, NewChanListener(ch))

	bus.Publish(TopicInbound, Event{})

	select {
	case <-ch:
		t.Fatal("listener on a different topic must not be notified")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	id := bus.Subscribe(TopicOutbound, NewChanListener(ch))

	bus.Unsubscribe(TopicOutbound, id)
	bus.Publish(TopicOutbound, Event{})

	select {
	case <-ch:
		t.Fatal("unsubscribed listener must not be notified")
	default:
	}
}

func TestChanListenerDropsWhenChannelFull(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	bus.Subscribe(TopicOutbound, NewChanListener(ch))

	bus.Publish(TopicOutbound, Event{})
	bus.Publish(TopicOutbound, Event{}) // should be dropped, not block

	assert.Len(t, ch, 1)
}

func TestMultipleListenersOnSameTopicAllNotified(t *testing.T) {
	bus := New()
	chA := make(chan Event, 1)
	chB := make(chan Event, 1)

	bus.Subscribe(TopicOutbound, NewChanListener(chA))
	bus.Subscribe(TopicOutbound, NewChanListener(chB))

	bus.Publish(TopicOutbound, Event{})

	assert.Len(t, chA, 1)
	assert.Len(t, chB, 1)
}
