package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbsync/internal/core/mq"
)

func TestConsumerConfigValidate(t *testing.T) {
	ok := ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g", Topics: []string{"t"}}
	assert.NoError(t, ok.validate())

	noBrokers := ok
	noBrokers.Brokers = nil
	assert.Error(t, noBrokers.validate())

	noGroup := ok
	noGroup.GroupID = "  "
	assert.Error(t, noGroup.validate())

	noTopics := ok
	noTopics.Topics = nil
	assert.Error(t, noTopics.validate())
}

func TestNewPublisherRequiresBrokers(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{})
	assert.Error(t, err)
}

func TestPublishSendsKeyedMessage(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		assert.JSONEq(t, `{"sourceId":"p1"}`, string(val))
		return nil
	})
	pub := &saramaPublisher{p: producer}
	defer pub.Close()

	_, err := pub.Publish(context.Background(), mq.Message{
		Topic:   "kbsync.sync-requests",
		Key:     []byte("p1"),
		Value:   []byte(`{"sourceId":"p1"}`),
		Headers: map[string]string{"content-type": "application/json"},
	})
	require.NoError(t, err)
}

func TestPublishRejectsEmptyTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := &saramaPublisher{p: producer}
	defer pub.Close()

	_, err := pub.Publish(context.Background(), mq.Message{Value: []byte("x")})
	assert.Error(t, err)
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := &saramaPublisher{p: producer}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pub.Publish(ctx, mq.Message{Topic: "t"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToMessageCopiesHeaders(t *testing.T) {
	msg := toMessage(&sarama.ConsumerMessage{
		Topic: "t",
		Key:   []byte("k"),
		Value: []byte("v"),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("trace"), Value: []byte("abc")},
			{Key: nil, Value: []byte("dropped")},
			nil,
		},
	})
	assert.Equal(t, "t", msg.Topic)
	assert.Equal(t, []byte("k"), msg.Key)
	assert.Equal(t, map[string]string{"trace": "abc"}, msg.Headers)
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, m.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func newFakeClaim(offsets ...int64) *fakeClaim {
	c := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(offsets))}
	for _, off := range offsets {
		c.msgs <- &sarama.ConsumerMessage{Topic: "kbsync.sync-requests", Offset: off, Value: []byte("{}")}
	}
	close(c.msgs)
	return c
}

func (c *fakeClaim) Topic() string                            { return "kbsync.sync-requests" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

var errBusy = errors.New("queue full")

func TestConsumeClaimRetriesMessageBeforeMovingOn(t *testing.T) {
	calls := 0
	failures := 2
	handler := mq.HandlerFunc(func(context.Context, mq.Message) error {
		calls++
		if failures > 0 {
			failures--
			return errBusy
		}
		return nil
	})
	h := &consumerGroupHandler{h: handler, newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}
	sess := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.ConsumeClaim(sess, newFakeClaim(10, 11)))

	assert.Equal(t, 4, calls, "first message handled three times, second once")
	assert.Equal(t, []int64{10, 11}, sess.marked)
}

func TestConsumeClaimLeavesUnhandledMessageUnmarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	handler := mq.HandlerFunc(func(context.Context, mq.Message) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return errBusy
	})
	h := &consumerGroupHandler{h: handler, newBackOff: func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}}
	sess := &fakeSession{ctx: ctx}
	claim := newFakeClaim(20, 21)

	require.NoError(t, h.ConsumeClaim(sess, claim))

	assert.Equal(t, 3, calls)
	assert.Empty(t, sess.marked, "the offset must not move past an unhandled request")
	var offsets []int64
	for m := range claim.msgs {
		offsets = append(offsets, m.Offset)
	}
	assert.Equal(t, []int64{21}, offsets, "later messages are left for the next owner")
}
