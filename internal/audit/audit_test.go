package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestEmitStampsAndSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := &recordingSink{err: errors.New("down")}

	Emit(context.Background(), sink, log, Event{Operation: "transfer", Actor: "a"})

	require.Len(t, sink.events, 1)
	assert.Equal(t, OutcomeOK, sink.events[0].Outcome)
	assert.False(t, sink.events[0].At.IsZero())
	assert.Contains(t, buf.String(), "audit publish failed")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("bad")}
	err := Multi{ok, nil, bad}.Publish(context.Background(), Failure("wager", "a", errors.New("x")))
	require.Error(t, err)
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)
	assert.Equal(t, OutcomeFailed, ok.events[0].Outcome)
}

func TestLogSinkWritesFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, sink.Publish(context.Background(), Event{Operation: "deposit", Actor: "a", Delta: 10, Outcome: OutcomeOK}))
	out := buf.String()
	assert.True(t, strings.Contains(out, `"operation":"deposit"`), out)
	assert.True(t, strings.Contains(out, `"delta":10`), out)
}

func TestKafkaSinkSendsJSONKeyedByActor(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "acct-1" {
			return errors.New("unexpected key " + string(key))
		}
		raw, _ := msg.Value.Encode()
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.Operation != "transfer" || ev.Delta != -50 {
			return errors.New("unexpected payload " + string(raw))
		}
		return nil
	})

	sink := NewKafkaSink(producer, "")
	require.NoError(t, sink.Publish(context.Background(), Event{Operation: "transfer", Actor: "acct-1", Delta: -50}))
	require.NoError(t, sink.Close())
}

func TestKafkaSinkReportsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "topic")
	err := sink.Publish(context.Background(), Event{Operation: "wager", Actor: "a"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}
