package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishTagsMessagesWithTopic(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe(4, EventRobotStarted)
	defer unsub()

	bus.Publish(EventRobotStarted, RobotEvent{UserID: "user-1", RobotID: "robot-1", Action: "start"})

	msg := <-stream
	assert.Equal(t, EventRobotStarted, msg.Topic)
	payload, ok := msg.Payload.(RobotEvent)
	require.True(t, ok)
	assert.Equal(t, "robot-1", payload.RobotID)
}

func TestMultiTopicSubscription(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe(4, EventRobotStarted, EventTradesClosed)
	defer unsub()

	bus.Publish(EventRobotStarted, RobotEvent{RobotID: "robot-1"})
	bus.Publish(EventBalanceSynced, BalanceEvent{Balance: 100}) // not subscribed
	bus.Publish(EventTradesClosed, TradesEvent{Count: 2})

	first := <-stream
	second := <-stream
	assert.Equal(t, EventRobotStarted, first.Topic)
	assert.Equal(t, EventTradesClosed, second.Topic)
	assert.Empty(t, stream, "unsubscribed topics never arrive")
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe(1, EventTradesSynced)
	defer unsub()

	// Second publish overflows the buffer and must be dropped, not block.
	bus.Publish(EventTradesSynced, TradesEvent{Count: 1})
	bus.Publish(EventTradesSynced, TradesEvent{Count: 2})

	msg := <-stream
	payload := msg.Payload.(TradesEvent)
	assert.Equal(t, 1, payload.Count)
	assert.Empty(t, stream)
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe(1, EventRobotStopped, EventTradesClosed)

	unsub()
	unsub() // repeat calls are safe

	_, open := <-stream
	assert.False(t, open, "unsubscribed channel is closed")

	// Publishing after unsubscribe reaches nobody and must not panic.
	bus.Publish(EventRobotStopped, RobotEvent{})
}
