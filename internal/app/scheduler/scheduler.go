package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/rapidahost/billinghub/internal/app/service/retryproc"
	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
)

// Run wires an in-process cron that drains due retry jobs on an interval.
// The HTTP /retry/process endpoint stays available for external schedulers;
// set retry.cron_spec to "" to run with the external trigger only.
func Run(lc fx.Lifecycle, cfg *cfgpkg.Config, log *zap.SugaredLogger, proc *retryproc.Processor) {
	spec := cfg.Retry.CronSpec
	if spec == "" {
		log.Infow("retry cron disabled")
		return
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		report, err := proc.ProcessDue(ctx, cfg.Retry.BatchSize)
		if err != nil {
			log.Errorw("retry_cron_error", "err", err)
			return
		}
		if report.Processed > 0 {
			log.Infow("retry_cron_pass", "processed", report.Processed, "succeeded", report.Succeeded, "rescheduled", report.Rescheduled, "failed", report.Failed)
		}
	})
	if err != nil {
		log.Errorw("invalid retry cron spec", "spec", spec, "err", err)
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("retry cron started", "spec", spec)
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Invoke(Run),
)
