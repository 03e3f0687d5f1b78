package dedupe

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rapidahost/billinghub/internal/models"
	"github.com/rapidahost/billinghub/pkg/logctx"
)

// Service is the idempotency guard. Payment providers redeliver webhooks on
// any non-2xx or timeout; a processed-event marker makes redelivery a no-op.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// WasProcessed reports whether the provider event id already has a marker.
// Checked after signature verification and before any side-effecting call.
func (s *Service) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records the marker. Called only after the event's business
// flow reaches success or a terminal decision, so a crash mid-flow leaves the
// event unmarked and the provider's redelivery re-drives it.
func (s *Service) MarkProcessed(ctx context.Context, eventID, provider string, raw []byte) error {
	row := &models.ProcessedEvent{
		EventID:     eventID,
		Provider:    provider,
		RawPayload:  datatypes.JSON(raw),
		ProcessedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("mark_processed_failed", "event_id", eventID, "err", err)
	}
	return err
}

var Module = fx.Options(
	fx.Provide(New),
)
