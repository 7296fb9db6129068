package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/pkg/tasks"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type counter struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *counter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[key]++
	return c.n[key], nil
}

func (c *counter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.n, key)
	return nil
}

type processorFunc func(context.Context, tasks.CleanupTask) error

func (f processorFunc) Process(ctx context.Context, t tasks.CleanupTask) error { return f(ctx, t) }

func message(t *testing.T, offset int64, task tasks.CleanupTask) kafka.Message {
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader, wantCommits int) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) >= wantCommits
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, r.closed)
}

func TestProducerEnqueueKeysByTask(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)
	task := tasks.CleanupTask{Stage: tasks.StageVectors, UserID: "u", SessionID: "s"}

	require.NoError(t, p.Enqueue(context.Background(), task))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "vectors:u:s", string(w.msgs[0].Key))

	var got tasks.CleanupTask
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, task, got)
}

func TestConsumerRetriesUntilSuccess(t *testing.T) {
	task := tasks.CleanupTask{Stage: tasks.StageFiles, UserID: "u", SessionID: "s"}
	r := &fakeReader{queue: []kafka.Message{message(t, 7, task)}}
	cnt := &counter{n: map[string]int64{}}
	var calls int
	c := NewConsumerWithReader(r, processorFunc(func(context.Context, tasks.CleanupTask) error {
		calls++
		if calls < 2 {
			return errors.New("mysql down")
		}
		return nil
	}), cnt, 3)
	c.backoff = time.Millisecond

	runUntilDrained(t, c, r, 1)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{7}, r.committed)
	assert.Empty(t, cnt.n, "counter reset after success")
}

func TestConsumerGivesUpAfterMaxAttempts(t *testing.T) {
	task := tasks.CleanupTask{Stage: tasks.StageObjects, UserID: "u", SessionID: "s"}
	r := &fakeReader{queue: []kafka.Message{message(t, 1, task), {Offset: 2, Value: []byte("{not json")}}}
	var calls int
	c := NewConsumerWithReader(r, processorFunc(func(context.Context, tasks.CleanupTask) error {
		calls++
		return errors.New("still failing")
	}), &counter{n: map[string]int64{}}, 3)
	c.backoff = time.Millisecond

	runUntilDrained(t, c, r, 2)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{1, 2}, r.committed, "exhausted and malformed messages are committed")
}
