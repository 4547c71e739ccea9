package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Extract and load once",
		Long: `Extract every selected resource for every customer and load it into the
configured destination. The command fails when any resource fails; the
others are still loaded.

Example:
  adsync run --config adsync.yaml --customer-ids 1234567890 --resources campaign,ad_group`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.Timeouts.Run > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Run)
				defer cancel()
			}

			flush, err := setupObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer flush()

			result, err := runOnce(ctx, cfg)
			if gw := cfg.Observability.PushGateway; gw != "" {
				if perr := metrics.Push(gw, cfg.Name); perr != nil {
					logger.Warn("failed to push metrics", zap.String("gateway", gw), zap.Error(perr))
				}
			}
			if result != nil {
				printResult(cmd.OutOrStdout(), result)
			}
			if err != nil {
				return err
			}
			return result.Err()
		},
	}
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on a cron schedule and serve metrics",
		Long: `Run extractions on schedule.cron until interrupted. A run still in progress
when the next one is due makes the scheduler skip it. Metrics are served on
observability.metrics_addr under /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(v)
			if err != nil {
				return err
			}
			if cfg.Schedule.Cron == "" {
				return errors.New(errors.ErrorTypeConfig, "schedule.cron is required to serve")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			flush, err := setupObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer flush()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the scheduler and the metrics server until ctx is done
func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Get().With(zap.String("component", "scheduler"))
	loc, err := cfg.Run.Location()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid time zone")
	}

	job := func() {
		runCtx := ctx
		if cfg.Timeouts.Run > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Run)
			defer cancel()
		}
		result, err := runOnce(runCtx, cfg)
		if err == nil {
			err = result.Err()
		}
		if err != nil {
			log.Error("scheduled run failed", zap.Error(err))
			return
		}
		log.Info("scheduled run finished",
			zap.String("run_id", result.RunID),
			zap.Int64("rows", result.Rows()),
			zap.Duration("duration", result.Duration))
	}

	sched := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{log.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log.Sugar()})),
	)
	if _, err := sched.AddFunc(cfg.Schedule.Cron, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid cron expression").
			WithDetail("cron", cfg.Schedule.Cron)
	}

	var server *http.Server
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", addr))
	}

	sched.Start()
	log.Info("scheduler started", zap.String("cron", cfg.Schedule.Cron), zap.String("time_zone", loc.String()))
	var wg sync.WaitGroup
	if cfg.Schedule.RunOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job()
		}()
	}

	<-ctx.Done()
	log.Info("stopping scheduler")
	// Stop waits for scheduled jobs already running
	<-sched.Stop().Done()
	wg.Wait()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// cronLogger routes scheduler logs to zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
