package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rapidahost/billinghub/docs"
	"github.com/rapidahost/billinghub/internal/app/api/handlers"
	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/dedupe"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/app/service/retryproc"
	"github.com/rapidahost/billinghub/internal/app/service/retryqueue"
	"github.com/rapidahost/billinghub/internal/platform/paypalapi"
	"github.com/rapidahost/billinghub/internal/platform/stripeverify"
	cfgpkg "github.com/rapidahost/billinghub/pkg/config"

	mw "github.com/rapidahost/billinghub/internal/app/api/middleware"

	metrics "github.com/rapidahost/billinghub/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Tracing goes on the engine so every group shares the trace id;
	// request logger and access log are attached per group below.
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(
	r *gin.Engine,
	log *zap.SugaredLogger,
	cfg *cfgpkg.Config,
	sv *stripeverify.Verifier,
	pv *paypalapi.Client,
	guard *dedupe.Service,
	co *checkout.Service,
	logs *eventlog.Service,
	queue *retryqueue.Service,
	proc *retryproc.Processor,
) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Provider webhooks: signature-verified, no shared-secret auth
	wh := r.Group("/webhook")
	wh.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterWebhookRoutes(wh, sv, pv, guard, co, logs)

	// Scheduler/admin endpoints behind the shared-secret header
	ops := r.Group("/")
	ops.Use(
		mw.RequestLoggerMiddleware(log),
		mw.AccessLogMiddleware(),
		mw.SharedSecretMiddleware(log, cfg.Admin.CronSecret, cfg.Admin.AdminKey),
	)
	handlers.RegisterOpsRoutes(ops, queue, proc, logs)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
