// Package eventstreamutils is the eventstream utility package
package eventstreamutils

import (
	"fmt"

	"github.com/papercomputeco/matchbot/pkg/eventstream"
	"github.com/papercomputeco/matchbot/pkg/eventstream/kafka"
	"github.com/papercomputeco/matchbot/pkg/eventstream/nop"
)

type NewPublisherOpts struct {
	ProviderType string
	Brokers      []string
	Topic        string
}

func NewPublisher(o *NewPublisherOpts) (eventstream.Publisher, error) {
	switch o.ProviderType {
	case "", "none":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers: o.Brokers,
			Topic:   o.Topic,
		})
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", o.ProviderType)
	}
}
