package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"khoaugment/internal/config"
)

type fakeSweeper struct {
	mu        sync.Mutex
	sweptAt   []time.Time
	olderThan []time.Duration
	sweepErr  error
	panicPoll bool
}

func (f *fakeSweeper) SweepExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweptAt = append(f.sweptAt, now)
	return 2, f.sweepErr
}

func (f *fakeSweeper) PollPending(_ context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicPoll {
		panic("provider exploded")
	}
	f.olderThan = append(f.olderThan, olderThan)
	return 1, nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs map[string]int
}

func (r *fakeRecorder) JobRun(job, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[string]int{}
	}
	r.runs[job+":"+outcome]++
}

func testConfig() config.PaymentConfig {
	return config.PaymentConfig{
		SweepSpec: "*/30 * * * * *",
		PollSpec:  "0 */2 * * * *",
		PollAfter: 5 * time.Minute,
	}
}

func TestJobsCallSweeper(t *testing.T) {
	sweeper := &fakeSweeper{}
	rec := &fakeRecorder{}
	s := New(testConfig(), sweeper, rec, zap.NewNop())
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.expireIntents()
	s.pollPendingIntents()

	assert.Equal(t, []time.Time{fixed}, sweeper.sweptAt)
	assert.Equal(t, []time.Duration{5 * time.Minute}, sweeper.olderThan)
	assert.Equal(t, 1, rec.runs["expire_intents:ok"])
	assert.Equal(t, 1, rec.runs["poll_pending_intents:ok"])
}

func TestJobErrorsAndPanicsAreContained(t *testing.T) {
	sweeper := &fakeSweeper{sweepErr: errors.New("db gone"), panicPoll: true}
	rec := &fakeRecorder{}
	s := New(testConfig(), sweeper, rec, zap.NewNop())

	assert.NotPanics(t, s.expireIntents)
	assert.NotPanics(t, s.pollPendingIntents)
	assert.Equal(t, 1, rec.runs["expire_intents:error"])
	assert.Equal(t, 1, rec.runs["poll_pending_intents:panic"])
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := testConfig()
	cfg.PollSpec = "every now and then"
	s := New(cfg, &fakeSweeper{}, nil, zap.NewNop())

	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), jobPollPending)
}

func TestStartAndStop(t *testing.T) {
	s := New(testConfig(), &fakeSweeper{}, nil, zap.NewNop())
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 2)

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
