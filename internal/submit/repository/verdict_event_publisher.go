package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codearena/internal/common/mq"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
)

// VerdictEventFinal marks the terminal event of a submission.
const VerdictEventFinal = "final"

// VerdictEvent is the payload published for downstream consumers.
type VerdictEvent struct {
	Type      string              `json:"type"`
	Record    model.VerdictRecord `json:"record"`
	CreatedAt int64               `json:"createdAt"`
}

// VerdictEventPublisher publishes final verdicts for async processing.
type VerdictEventPublisher interface {
	PublishFinal(ctx context.Context, rec model.VerdictRecord) error
}

// MQVerdictEventPublisher publishes verdict events to a message queue.
type MQVerdictEventPublisher struct {
	queue mq.Producer
	topic string
}

// NewMQVerdictEventPublisher creates a new MQ verdict event publisher.
func NewMQVerdictEventPublisher(queue mq.Producer, topic string) *MQVerdictEventPublisher {
	return &MQVerdictEventPublisher{queue: queue, topic: topic}
}

// PublishFinal publishes a final verdict event keyed by contest so a
// contest's events stay ordered on one partition.
func (p *MQVerdictEventPublisher) PublishFinal(ctx context.Context, rec model.VerdictRecord) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("verdict topic is required")
	}
	if rec.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := VerdictEvent{
		Type:      VerdictEventFinal,
		Record:    rec,
		CreatedAt: time.Now().Unix(),
	}
	event.Record.Result = nil
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = rec.SubmissionID
	message.Key = rec.ContestID
	message.SetHeader("verdict", string(rec.Verdict))
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish verdict event failed")
	}
	return nil
}
