package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/internal/pipeline"
	"github.com/ajitpratap0/adsync/pkg/clients"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/extract"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/resources"
	"github.com/ajitpratap0/adsync/pkg/schema"
	"github.com/ajitpratap0/adsync/pkg/sink"
	"github.com/ajitpratap0/adsync/pkg/state"
	"github.com/ajitpratap0/adsync/pkg/window"
)

// closeTimeout bounds sink and store shutdown after a run
const closeTimeout = 30 * time.Second

// httpConfig maps the reliability and timeout settings onto the API
// transport, keeping the transport defaults for unset values
func httpConfig(cfg *config.Config) *clients.HTTPConfig {
	h := clients.DefaultHTTPConfig()
	if cfg.Timeouts.Connection > 0 {
		h.DialTimeout = cfg.Timeouts.Connection
		h.TLSHandshakeTimeout = cfg.Timeouts.Connection
	}
	if cfg.Timeouts.ResponseHeader > 0 {
		h.ResponseHeaderTimeout = cfg.Timeouts.ResponseHeader
	}
	h.RateLimit = cfg.Reliability.RateLimitPerSec
	h.RateBurst = cfg.Reliability.RateBurst
	h.CircuitBreakerEnabled = cfg.Reliability.CircuitBreaker
	if cfg.Reliability.FailureThreshold > 0 {
		h.FailureThreshold = cfg.Reliability.FailureThreshold
	}
	if cfg.Reliability.SuccessThreshold > 0 {
		h.SuccessThreshold = cfg.Reliability.SuccessThreshold
	}
	if cfg.Reliability.OpenTimeout > 0 {
		h.OpenTimeout = cfg.Reliability.OpenTimeout
	}
	return h
}

// newClient builds the authenticated API client
func newClient(ctx context.Context, cfg *config.Config) (*googleads.Client, error) {
	creds, err := googleads.CredentialsFromConfig(cfg.GoogleAds)
	if err != nil {
		return nil, err
	}
	ts, err := creds.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return googleads.NewClient(googleads.Options{
		DeveloperToken:  cfg.GoogleAds.DeveloperToken,
		LoginCustomerID: cfg.GoogleAds.LoginCustomerID,
		Endpoint:        cfg.GoogleAds.Endpoint,
		APIVersion:      cfg.GoogleAds.APIVersion,
		TokenSource:     ts,
		HTTP:            httpConfig(cfg),
	})
}

// newDriver builds a driver over client. The client may be nil for
// commands that only plan.
func newDriver(cfg *config.Config, client googleads.APIClient) (*extract.Driver, error) {
	loc, err := cfg.Run.Location()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid time zone").
			WithDetail("time_zone", cfg.Run.TimeZone)
	}
	planner := window.NewPlanner(window.SystemClock{Location: loc})
	return extract.NewDriver(client, schema.Open(cfg.Schemas.Dir), resources.Default(), planner), nil
}

// runOnce executes one full run with freshly opened connections
func runOnce(ctx context.Context, cfg *config.Config) (*pipeline.Result, error) {
	log := logger.Get().With(zap.String("component", "adsync"))

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	driver, err := newDriver(cfg, client)
	if err != nil {
		return nil, err
	}

	store, err := state.New(ctx, cfg.State)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close state store", zap.Error(err))
		}
	}()

	dst, err := sink.New(ctx, cfg.Destination)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := dst.Close(closeCtx); err != nil {
			log.Warn("failed to close sink", zap.String("sink", dst.Name()), zap.Error(err))
		}
	}()

	result, err := pipeline.NewRunner(driver, dst, store, opts).Run(ctx)
	if rss, serr := metrics.SampleProcess(); serr == nil {
		log.Debug("process memory", zap.Uint64("rss_bytes", rss))
	}
	log.Debug("api transport", zap.Any("stats", client.Stats()))
	return result, err
}
