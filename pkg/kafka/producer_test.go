package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestPublishJobEvent(t *testing.T) {
	writer := &fakeWriter{}
	p := newProducer(writer, "reconciliation.events", testLogger())

	err := p.PublishJobEvent(context.Background(), &JobEvent{
		EventType: "job.progress",
		JobID:     "job-1",
		Sequence:  3,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "reconciliation.events", msg.Topic)
	assert.Equal(t, []byte("job-1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("job.progress"), msg.Headers[0].Value)

	var decoded JobEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(3), decoded.Sequence)
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestPublishJobEvents_KeyedByReconciliationKeyWithoutJob(t *testing.T) {
	writer := &fakeWriter{}
	p := newProducer(writer, "t", testLogger())

	require.NoError(t, p.PublishJobEvents(context.Background(), []*JobEvent{
		{EventType: "key.status_changed", Key: "R1"},
		{EventType: "key.status_changed", Key: "R2"},
	}))
	require.Len(t, writer.messages, 2)
	assert.Equal(t, []byte("R1"), writer.messages[0].Key)
	assert.Equal(t, []byte("R2"), writer.messages[1].Key)
}

func TestPublishJobEvents_Empty(t *testing.T) {
	writer := &fakeWriter{}
	p := newProducer(writer, "t", testLogger())
	require.NoError(t, p.PublishJobEvents(context.Background(), nil))
	assert.Empty(t, writer.messages)
}

func TestPublishJobEvents_WriterError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(writer, "t", testLogger())
	err := p.PublishJobEvent(context.Background(), &JobEvent{EventType: "job.failed", JobID: "j"})
	assert.EqualError(t, err, "broker down")

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestProducer_PingWithoutBrokers(t *testing.T) {
	p := newProducer(&fakeWriter{}, "events", ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	err := p.PingContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no kafka brokers")
}
