package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	id1, err := pub.Publish(context.Background(), "records.high-priority", map[string]string{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "records.high-priority", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "records.high-priority", msgs[0].Topic)

	msgs[0].Topic = "modified"
	assert.NotEqual(t, "modified", pub.Messages()[0].Topic)
}

func TestNoopPublisher(t *testing.T) {
	t.Parallel()

	id, err := NewNoop().Publish(context.Background(), "t", "p")
	require.NoError(t, err)
	assert.Empty(t, id)
}
