package outbox

import (
	"context"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/ringdesk/ringdesk-backend/pkg/logger"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 5 * time.Second
)

// TopicPublisher is the Pub/Sub surface the drain loop needs.
type TopicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher drains pending outbox rows to the lifecycle topic.
type Publisher struct {
	repo     *Repository
	topic    TopicPublisher
	logg     *logger.Logger
	batch    int
	interval time.Duration
}

func NewPublisher(repo *Repository, topic TopicPublisher, logg *logger.Logger) *Publisher {
	return &Publisher{
		repo:     repo,
		topic:    topic,
		logg:     logg,
		batch:    defaultBatchSize,
		interval: defaultPollInterval,
	}
}

// Run polls for pending rows until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.DrainOnce(ctx); err != nil {
				p.logg.Error(ctx, "outbox drain failed", err)
			}
		}
	}
}

// DrainOnce publishes one batch of pending rows.
func (p *Publisher) DrainOnce(ctx context.Context) error {
	rows, err := p.repo.FetchPending(p.batch)
	if err != nil {
		return err
	}

	for _, row := range rows {
		result := p.topic.Publish(ctx, &pubsub.Message{
			Data: row.Payload,
			Attributes: map[string]string{
				"event_type": row.EventType.String(),
				"account_id": row.AccountID.String(),
			},
		})
		if _, err := result.Get(ctx); err != nil {
			if markErr := p.repo.MarkFailed(row.ID); markErr != nil {
				p.logg.Error(ctx, "mark outbox row failed", markErr)
			}
			p.logg.Error(p.logg.WithEventID(ctx, row.ID.String()), "publish outbox row", err)
			continue
		}
		if err := p.repo.MarkPublished(row.ID); err != nil {
			p.logg.Error(ctx, "mark outbox row published", err)
		}
	}
	return nil
}
