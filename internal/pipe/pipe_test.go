package pipe_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbotic/runtime/internal/action"
	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/expr"
	"github.com/flowbotic/runtime/internal/pipe"
)

type fakeTransport struct {
	connectErr   error
	connectCount int32
	done         chan struct{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connectCount, 1)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.done = make(chan struct{})
	go func() {
		<-ctx.Done()
		close(f.done)
	}()
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close() error { return nil }

func newTestRouter() *event.Router {
	reg := action.NewRegistry()
	ex := action.NewExecutor(reg, expr.New(), errs.NewHandler(errs.SeverityDebug, errs.BehaviorSilent, nil))
	return event.NewRouter(ex, expr.New(), nil, 0)
}

func TestPipe_ConnectsSuccessfullyReachesConnectedState(t *testing.T) {
	ft := &fakeTransport{}
	router := newTestRouter()
	p := pipe.New("test", ft, router, nil, pipe.WithBackoffDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return p.State() == pipe.StateConnected }, time.Second, 5*time.Millisecond)
}

func TestPipe_FailedConnectEntersBackoffThenRetries(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("refused")}
	router := newTestRouter()
	p := pipe.New("test", ft, router, nil, pipe.WithBackoffDelay(10*time.Millisecond), pipe.WithMaxAttempts(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool { return p.State() == pipe.StateClosed }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&ft.connectCount), int32(3))
}

func TestPipe_StopIsIdempotentAndClosesState(t *testing.T) {
	ft := &fakeTransport{}
	router := newTestRouter()
	p := pipe.New("test", ft, router, nil)

	ctx := context.Background()
	p.Start(ctx)
	require.Eventually(t, func() bool { return p.State() == pipe.StateConnected }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.Equal(t, pipe.StateClosed, p.State())
}

func TestMatchTopic_SingleLevelWildcard(t *testing.T) {
	assert.True(t, pipe.MatchTopic("home/+/temperature", "home/kitchen/temperature"))
	assert.False(t, pipe.MatchTopic("home/+/temperature", "home/kitchen/bedroom/temperature"))
}

func TestMatchTopic_MultiLevelWildcard(t *testing.T) {
	assert.True(t, pipe.MatchTopic("home/#", "home/kitchen/temperature"))
	assert.True(t, pipe.MatchTopic("home/#", "home"))
	assert.False(t, pipe.MatchTopic("home/#", "office/kitchen"))
}

func TestMatchTopic_ExactMatch(t *testing.T) {
	assert.True(t, pipe.MatchTopic("home/kitchen", "home/kitchen"))
	assert.False(t, pipe.MatchTopic("home/kitchen", "home/bedroom"))
}
