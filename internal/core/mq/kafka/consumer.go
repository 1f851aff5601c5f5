package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core/mq"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
}

func (c ConsumerConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return errors.New("kafka consumer group id is empty")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka topics is empty")
	}
	return nil
}

type saramaConsumer struct {
	cg     sarama.ConsumerGroup
	topics []string
}

// NewConsumer joins the consumer group. Offsets start at the oldest message
// so requests published before the first deployment are not lost.
func NewConsumer(cfg ConsumerConfig) (mq.Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}
	return &saramaConsumer{cg: cg, topics: cfg.Topics}, nil
}

func (c *saramaConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := &consumerGroupHandler{h: handler, newBackOff: defaultBackOff}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.cg.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
	}
}

func (c *saramaConsumer) Close() error {
	if c == nil {
		return nil
	}
	return c.cg.Close()
}

// defaultBackOff paces redelivery of a message the handler could not take.
// It never gives up on its own; the session context ends the wait.
func defaultBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
}

type consumerGroupHandler struct {
	h          mq.Handler
	newBackOff func() backoff.BackOff
}

func (consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim hands messages to the handler in offset order. Offsets are
// committed cumulatively, so a message is retried in place until the handler
// accepts it; the claim stops without marking it when the session ends, and
// the next owner of the partition reads it again.
func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for m := range claim.Messages() {
		if err := h.handle(ctx, m); err != nil {
			zlog.Info("stopping claim with an unhandled message",
				zap.String("topic", m.Topic),
				zap.Int32("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			return nil
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

func (h *consumerGroupHandler) handle(ctx context.Context, m *sarama.ConsumerMessage) error {
	msg := toMessage(m)
	op := func() error { return h.h.Handle(ctx, msg) }
	notify := func(err error, wait time.Duration) {
		zlog.Warn("kafka message not handled, retrying",
			zap.String("topic", m.Topic),
			zap.Int32("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(h.newBackOff(), ctx), notify)
}

func toMessage(m *sarama.ConsumerMessage) mq.Message {
	msg := mq.Message{
		Topic: m.Topic,
		Key:   m.Key,
		Value: m.Value,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return msg
}
