package files

import (
	"context"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

func init() {
	_ = sink.Register(Name, func(ctx context.Context, cfg config.DestinationConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}
