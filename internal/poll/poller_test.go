package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/collab/internal/worker"
)

// scripted returns canned results in order and records every request.
type scripted struct {
	results  []worker.Result
	requests []worker.Request
	events   *[]string
}

func (s *scripted) Invoke(_ context.Context, req worker.Request) (worker.Result, error) {
	s.requests = append(s.requests, req)
	if s.events != nil {
		*s.events = append(*s.events, "check")
	}
	if len(s.results) == 0 {
		return nil, errors.New("script exhausted")
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res, nil
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) PollCheck() {
	m.Called()
}

func recordingSleep(events *[]string, durations *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*events = append(*events, "sleep")
		*durations = append(*durations, d)
		return nil
	}
}

func TestWaitForReply_SleepsBeforeEachCheck(t *testing.T) {
	var events []string
	var durations []time.Duration
	w := &scripted{
		events: &events,
		results: []worker.Result{
			{"has_response": false},
			{"has_response": false},
			{"has_response": true, "response_text": "Use Redis", "responder_handle": "@bob"},
		},
	}
	obs := &mockObserver{}
	obs.On("PollCheck").Return().Times(3)

	p := New(w, time.Minute, 2*time.Minute, zap.NewNop(),
		WithSleep(recordingSleep(&events, &durations)), WithObserver(obs))

	reply, err := p.WaitForReply(context.Background(), Thread{
		ChannelID: "C12345", ThreadRef: "111.002", Target: "@bob", Owner: "@alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "Use Redis", reply)
	assert.Equal(t, []string{"sleep", "check", "sleep", "check", "sleep", "check"}, events)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, durations)
	obs.AssertExpectations(t)

	require.Len(t, w.requests, 3)
	req := w.requests[0]
	assert.Equal(t, ThreadResponseSchema, req.Schema)
	assert.Equal(t, 2*time.Minute, req.Timeout)
	assert.Contains(t, req.Prompt, "channel C12345, thread 111.002")
	assert.Contains(t, req.Prompt, "@bob (or the owner @alice)")
	assert.Contains(t, req.Prompt, "SECURITY")
}

func TestWaitForDecision(t *testing.T) {
	tests := []struct {
		name    string
		results []worker.Result
		want    Decision
		checks  int
	}{
		{
			name:    "approved first",
			results: []worker.Result{{"approved": true}},
			want:    Decision{Approved: true},
			checks:  1,
		},
		{
			name: "no answer then feedback",
			results: []worker.Result{
				{"approved": false, "feedback": nil},
				{"approved": false, "feedback": "  "},
				{"approved": false, "feedback": "Rename the endpoint"},
			},
			want:   Decision{Feedback: "Rename the endpoint"},
			checks: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []string
			var durations []time.Duration
			w := &scripted{results: tt.results}
			p := New(w, time.Second, time.Minute, zap.NewNop(), WithSleep(recordingSleep(&events, &durations)))

			d, err := p.WaitForDecision(context.Background(), "review.poll", "Check approval")
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.Len(t, w.requests, tt.checks)
			assert.Len(t, durations, tt.checks)
			assert.Equal(t, DecisionSchema, w.requests[0].Schema)
			assert.Equal(t, "review.poll", w.requests[0].Label)
		})
	}
}

func TestUntil_WorkerErrorStops(t *testing.T) {
	w := worker.WorkerFunc(func(context.Context, worker.Request) (worker.Result, error) {
		return nil, &worker.Error{Kind: worker.KindTimeout, Label: "poll.reply"}
	})
	p := New(w, time.Second, time.Minute, zap.NewNop(),
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	_, err := p.WaitForReply(context.Background(), Thread{ThreadRef: "1.0"})

	var werr *worker.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, worker.KindTimeout, werr.Kind)
}

func TestUntil_CancelledDuringSleep(t *testing.T) {
	w := &scripted{}
	p := New(w, time.Hour, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.WaitForDecision(ctx, "qa.poll", "check")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.requests)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestNew_NilLogger(t *testing.T) {
	w := &scripted{results: []worker.Result{{"approved": true}}}
	noSleep := func(context.Context, time.Duration) error { return nil }
	p := New(w, time.Second, time.Minute, nil, WithSleep(noSleep))

	d, err := p.WaitForDecision(context.Background(), "qa.poll", "check QA")
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "ça v", clip("ça va bien", 4))
}
