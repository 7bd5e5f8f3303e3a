// Package gochannel provides the in-process pub/sub used by single-node
// deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// executedEventBuffer holds executed-action events while the subscriber is
// busy; a full buffer blocks the after-commit hook of the publishing worker.
const executedEventBuffer = 1024

// CreateChannel returns one GoChannel serving as both publisher and
// subscriber. Events published before Subscribe are lost.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: executedEventBuffer}, logger)

	return pubSub, pubSub, nil
}
