package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/core/mq"
	"github.com/markdave123-py/kbsync/internal/models"
)

type recordingDispatcher struct {
	got []models.TaskPayload
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, p models.TaskPayload) error {
	if d.err != nil {
		return d.err
	}
	d.got = append(d.got, p)
	return nil
}

type recordingPublisher struct {
	msgs []mq.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg mq.Message) (mq.PublishResult, error) {
	p.msgs = append(p.msgs, msg)
	return mq.PublishResult{Partition: 0, Offset: int64(len(p.msgs))}, nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestHandlerDispatchesValidPayload(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewHandler(d)

	err := h.Handle(context.Background(), mq.Message{
		Value: []byte(`{"sourceId":"p1","organizationId":"org1","sourceType":"policy"}`),
	})
	require.NoError(t, err)
	require.Len(t, d.got, 1)
	assert.Equal(t, payload(), d.got[0])
}

func TestHandlerCommitsMalformedMessages(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewHandler(d)

	assert.NoError(t, h.Handle(context.Background(), mq.Message{Value: []byte("not json")}))
	assert.NoError(t, h.Handle(context.Background(), mq.Message{Value: []byte(`{"sourceId":"p1"}`)}))
	assert.Empty(t, d.got)
}

func TestHandlerReturnsQueueFullToConsumer(t *testing.T) {
	h := NewHandler(&recordingDispatcher{err: ErrQueueFull})

	err := h.Handle(context.Background(), mq.Message{
		Value: []byte(`{"sourceId":"p1","organizationId":"org1","sourceType":"policy"}`),
	})
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestDecodePayload(t *testing.T) {
	_, err := DecodePayload([]byte(`{"sourceId":"p1","organizationId":"org1","sourceType":"nope"}`))
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	p, err := DecodePayload([]byte(`{"sourceId":"k1","organizationId":"org1","sourceType":"knowledge_base_document","action":"purge"}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskActionPurge, p.Action)
}

func TestPublisherDispatch(t *testing.T) {
	rec := &recordingPublisher{}
	pub, err := NewPublisher(rec, "kbsync.sync-requests")
	require.NoError(t, err)

	require.NoError(t, pub.Dispatch(context.Background(), payload()))
	require.Len(t, rec.msgs, 1)
	msg := rec.msgs[0]
	assert.Equal(t, "kbsync.sync-requests", msg.Topic)
	assert.Equal(t, []byte("p1"), msg.Key)

	var got models.TaskPayload
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, payload(), got)

	assert.ErrorIs(t, pub.Dispatch(context.Background(), models.TaskPayload{}), core.ErrInvalidPayload)
	assert.Len(t, rec.msgs, 1)
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(nil, "t")
	assert.Error(t, err)
	_, err = NewPublisher(&recordingPublisher{}, "")
	assert.Error(t, err)
}
