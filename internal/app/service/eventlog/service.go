package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/logctx"
	"github.com/rapidahost/billinghub/pkg/tool"
)

// Service is the append-only log store. One row per lifecycle event, never
// updated, queried most-recent-first by trace id.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

func normalize(ev *models.LogEvent) {
	if ev.ID == "" {
		ev.ID = tool.GenerateUUIDV7()
	}
	if ev.Level == "" {
		ev.Level = models.LogLevelInfo
	}
	if ev.Status == "" {
		ev.Status = models.LogStatusPending
	}
	if ev.Source == "" {
		ev.Source = models.LogSourceSystem
	}
}

// Append persists one log event synchronously. Used on paths where the log
// row must exist before the request completes (failure records, retry audit).
func (s *Service) Append(ctx context.Context, ev *models.LogEvent) error {
	return s.AppendTx(s.db.WithContext(ctx), ev)
}

// AppendTx persists a log event inside an existing transaction so a failure
// record and its retry job commit atomically.
func (s *Service) AppendTx(tx *gorm.DB, ev *models.LogEvent) error {
	if ev == nil {
		return nil
	}
	normalize(ev)
	return tx.Create(ev).Error
}

// AppendAsync persists a breadcrumb event in the background. Loss on crash
// is acceptable for these rows; errors are logged, not surfaced.
func (s *Service) AppendAsync(ctx context.Context, ev *models.LogEvent) {
	go func() {
		if ev == nil {
			return
		}
		normalize(ev)
		if err := s.db.Create(ev).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to append log event: %v", err)
		}
	}()
}

// LatestByTrace returns the most recent log event for a trace id, or nil
// when the trace has no rows.
func (s *Service) LatestByTrace(ctx context.Context, traceID string) (*models.LogEvent, error) {
	var ev models.LogEvent
	err := s.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("created_at DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListByTrace returns up to limit log events for a trace id,
// most-recent-first.
func (s *Service) ListByTrace(ctx context.Context, traceID string, limit int) ([]*models.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*models.LogEvent
	err := s.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// JSONPayload marshals v for a log event payload/meta column. Marshal errors
// degrade to an error note instead of dropping the row.
func JSONPayload(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(`{"marshal_error":true}`)
	}
	return datatypes.JSON(b)
}

// Event builds a log event row with the common fields filled in.
func Event(traceID, source, name string, level models.LogLevel, status models.LogStatus, payload any) *models.LogEvent {
	return &models.LogEvent{
		TraceID:   traceID,
		Source:    source,
		Event:     name,
		Level:     level,
		Status:    status,
		Payload:   JSONPayload(payload),
		CreatedAt: time.Now(),
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
