// Package gochannel provides the in-process pub/sub used by single-process
// deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// outputBuffer absorbs bursts of domain events while the evaluator catches up.
const outputBuffer = 1024

// CreateChannel returns one GoChannel as both publisher and subscriber.
// Messages published before Subscribe are dropped.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: outputBuffer,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
