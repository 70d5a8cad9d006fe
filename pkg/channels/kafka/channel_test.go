package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers("a:9092, b:9092,"))
	assert.Empty(t, ParseBrokers(""))
	assert.Empty(t, ParseBrokers(" , "))
}

func TestCreateChannel_NoBrokers(t *testing.T) {
	pub, sub, err := CreateChannel(watermill.NopLogger{}, nil, "pipeflow")
	require.ErrorIs(t, err, ErrNoBrokers)
	assert.Nil(t, pub)
	assert.Nil(t, sub)
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("msg-1", nil)

	key, err := partitionKey(events.Topic, msg)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", key)

	msg.Metadata.Set(events.EventMetadataKey, "contact-7")

	key, err = partitionKey(events.Topic, msg)
	require.NoError(t, err)
	assert.Equal(t, "contact-7", key)
}
