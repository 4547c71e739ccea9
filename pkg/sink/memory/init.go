package memory

import (
	"context"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

func init() {
	_ = sink.Register(Name, func(context.Context, config.DestinationConfig) (sink.Sink, error) {
		return New(), nil
	})
}
