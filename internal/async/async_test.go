package async

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/parts-intake/internal/common"
	"github.com/joseph-ayodele/parts-intake/internal/pipeline"
)

type recordingProcessor struct {
	mu      sync.Mutex
	indices []int
	traces  []string
	failOn  int
}

func (r *recordingProcessor) ProcessEmail(ctx context.Context, index int) (pipeline.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices = append(r.indices, index)
	r.traces = append(r.traces, common.RequestIDFromContext(ctx))
	if index == r.failOn {
		return pipeline.Summary{Index: index}, errors.New("boom")
	}
	return pipeline.Summary{Index: index}, nil
}

func (r *recordingProcessor) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]int(nil), r.indices...)
	sort.Ints(out)
	return out
}

func TestProcessorQueue_FailedEmailDoesNotStopQueue(t *testing.T) {
	proc := &recordingProcessor{failOn: 2}
	q := NewProcessorQueue(context.Background(), proc, nil, WithWorkers(2), WithQueueSize(4))

	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{Index: i, TraceID: "t"}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.Equal(t, []int{1, 2, 3, 4}, proc.seen())
	assert.Contains(t, proc.traces, "t")
}

func TestProcessorQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(context.Background(), &recordingProcessor{}, nil)
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{Index: 1})
	require.ErrorIs(t, err, ErrQueueClosed)
}

type fakeCounter struct {
	mu    sync.Mutex
	total int
	err   error
}

func (f *fakeCounter) TotalMessageCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.err
}

func (f *fakeCounter) set(n int) {
	f.mu.Lock()
	f.total = n
	f.mu.Unlock()
}

type sliceQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func (s *sliceQueue) Enqueue(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *sliceQueue) Shutdown(context.Context) {}

func (s *sliceQueue) indices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, j := range s.jobs {
		out = append(out, j.Index)
	}
	return out
}

func TestPoller_QueuesFromStartIndex(t *testing.T) {
	counter := &fakeCounter{total: 5}
	q := &sliceQueue{}
	p := NewPoller(counter, q, 3, time.Second, nil)

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{3, 4, 5}, q.indices())

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new")

	counter.set(7)
	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, q.indices())
	assert.Equal(t, 8, p.Next())

	for _, j := range q.jobs {
		assert.NotEmpty(t, j.TraceID)
	}
}

func TestPoller_MailboxShrinks(t *testing.T) {
	counter := &fakeCounter{total: 4}
	q := &sliceQueue{}
	p := NewPoller(counter, q, 1, time.Second, nil)
	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	counter.set(2)
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, p.Next())
}

func TestPoller_CountError(t *testing.T) {
	p := NewPoller(&fakeCounter{err: errors.New("connection reset")}, &sliceQueue{}, 1, time.Second, nil)
	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, p.Next())
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	counter := &fakeCounter{total: 1}
	q := &sliceQueue{}
	p := NewPoller(counter, q, 1, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(q.indices()) == 1 }, time.Second, 5*time.Millisecond)
	counter.set(2)
	require.Eventually(t, func() bool { return len(q.indices()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
