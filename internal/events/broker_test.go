package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	b.Publish(Update{Message: &types.CanonicalMessage{ID: "m1", Tag: "filesystem"}})

	u := <-ch
	require.NotNil(t, u.Message)
	assert.Equal(t, "m1", u.Message.ID)
	assert.Equal(t, "filesystem", u.Message.Tag)
}

func TestBrokerDropsOnSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Update{Finding: &types.Finding{ID: "f1"}})
	b.Publish(Update{Finding: &types.Finding{ID: "f2"}})
	b.Publish(Update{Finding: &types.Finding{ID: "f3"}})

	assert.Equal(t, int64(2), b.DroppedCount())

	u := <-ch
	require.NotNil(t, u.Finding)
	assert.Equal(t, "f1", u.Finding.ID)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(0)
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(Update{Finding: &types.Finding{ID: "f1"}})
}
