package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/core/mq"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// Handler feeds sync requests read from the broker into a Dispatcher.
// Malformed messages are logged and committed so they do not block the
// partition; a full queue is reported back so the consumer retries the
// message in place before committing anything after it.
type Handler struct {
	next Dispatcher
}

var _ mq.Handler = (*Handler)(nil)

func NewHandler(next Dispatcher) *Handler {
	return &Handler{next: next}
}

func (h *Handler) Handle(ctx context.Context, msg mq.Message) error {
	p, err := DecodePayload(msg.Value)
	if err != nil {
		zlog.Warn("dropping malformed sync request",
			zap.String("topic", msg.Topic), zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}
	if err := h.next.Dispatch(ctx, p); err != nil {
		if errors.Is(err, core.ErrInvalidPayload) {
			zlog.Warn("dropping invalid sync request", zap.String("sourceId", p.SourceID), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// DecodePayload parses and validates a JSON task payload.
func DecodePayload(data []byte) (models.TaskPayload, error) {
	var p models.TaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.TaskPayload{}, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	if err := Validate(p); err != nil {
		return models.TaskPayload{}, err
	}
	return p, nil
}

// Publisher dispatches payloads by publishing them to a topic, keyed by
// source id so one source's requests stay ordered.
type Publisher struct {
	pub   mq.Publisher
	topic string
}

var _ Dispatcher = (*Publisher)(nil)

func NewPublisher(pub mq.Publisher, topic string) (*Publisher, error) {
	if pub == nil {
		return nil, errors.New("tasks: publisher is required")
	}
	if topic == "" {
		return nil, errors.New("tasks: topic is required")
	}
	return &Publisher{pub: pub, topic: topic}, nil
}

func (p *Publisher) Dispatch(ctx context.Context, payload models.TaskPayload) error {
	if err := Validate(payload); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := p.pub.Publish(ctx, mq.Message{
		Topic:   p.topic,
		Key:     []byte(payload.SourceID),
		Value:   body,
		Headers: map[string]string{"content-type": "application/json"},
	})
	if err != nil {
		return fmt.Errorf("publish sync request: %w", err)
	}
	zlog.Debug("sync request published",
		zap.String("sourceId", payload.SourceID),
		zap.Int32("partition", res.Partition),
		zap.Int64("offset", res.Offset))
	return nil
}
