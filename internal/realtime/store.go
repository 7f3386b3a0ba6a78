package realtime

import (
	"context"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/repository"

	"go.uber.org/zap"
)

// EventPublisher announces a stored event
type EventPublisher interface {
	Publish(ctx context.Context, ev models.AlarmEvent) error
}

// PublishingStore is the alarm_event repository with an insert notification. The
// row is committed before it is announced; a failed announcement is logged only,
// agents still see the row through polling.
type PublishingStore struct {
	*repository.EventRepository
	publisher EventPublisher
	logger    *zap.Logger
}

// NewPublishingStore wraps repo. publisher may be nil.
func NewPublishingStore(repo *repository.EventRepository, publisher EventPublisher, logger *zap.Logger) *PublishingStore {
	return &PublishingStore{
		EventRepository: repo,
		publisher:       publisher,
		logger:          logger,
	}
}

func (s *PublishingStore) Insert(ctx context.Context, ev models.AlarmEvent) (*models.AlarmEvent, error) {
	stored, err := s.EventRepository.Insert(ctx, ev)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, *stored); err != nil {
			s.logger.Warn("Failed to announce inserted event",
				zap.String("id", stored.ID),
				zap.String("type", string(stored.Type)),
				zap.Error(err),
			)
		}
	}
	return stored, nil
}
