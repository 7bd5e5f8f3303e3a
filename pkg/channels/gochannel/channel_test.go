package gochannel_test

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/actiond/pkg/channels/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_Delivers(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	t.Cleanup(func() { _ = pub.Close() })

	messages, err := sub.Subscribe(t.Context(), "actiond.events")
	require.NoError(t, err)

	require.NoError(t, pub.Publish("actiond.events", message.NewMessage("m1", []byte(`{}`))))

	select {
	case msg := <-messages:
		assert.Equal(t, "m1", msg.UUID)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
