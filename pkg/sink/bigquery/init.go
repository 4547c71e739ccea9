package bigquery

import (
	"context"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

func init() {
	_ = sink.Register(Name, func(ctx context.Context, cfg config.DestinationConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})

	// Also register as "bq" for convenience
	_ = sink.Register("bq", func(ctx context.Context, cfg config.DestinationConfig) (sink.Sink, error) {
		cfg.Type = Name
		return New(ctx, cfg)
	})
}
