package app

import (
	"time"

	"github.com/rapidahost/billinghub/internal/app/api/server"
	"github.com/rapidahost/billinghub/internal/app/scheduler"
	"github.com/rapidahost/billinghub/internal/app/service/checkout"
	"github.com/rapidahost/billinghub/internal/app/service/dedupe"
	"github.com/rapidahost/billinghub/internal/app/service/eventlog"
	"github.com/rapidahost/billinghub/internal/app/service/retryflow"
	"github.com/rapidahost/billinghub/internal/app/service/retryproc"
	"github.com/rapidahost/billinghub/internal/app/service/retryqueue"
	"github.com/rapidahost/billinghub/internal/platform/db"
	"github.com/rapidahost/billinghub/internal/platform/paypalapi"
	"github.com/rapidahost/billinghub/internal/platform/sendgridmail"
	"github.com/rapidahost/billinghub/internal/platform/stripeverify"
	"github.com/rapidahost/billinghub/internal/platform/whmcs"
	"github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,

	// provider and gateway clients
	stripeverify.Module,
	paypalapi.Module,
	whmcs.Module,
	sendgridmail.Module,

	// domain services
	eventlog.Module,
	dedupe.Module,
	retryqueue.Module,
	checkout.Module,
	retryflow.Module,
	retryproc.Module,

	scheduler.Module,
	server.Module,
)
