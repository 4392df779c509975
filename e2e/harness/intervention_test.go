package harness

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	children map[int][]int
	running  map[string]bool
	err      error
}

func (f *fakeInspector) ChildrenOf(pid int) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.children[pid], nil
}

func (f *fakeInspector) ExistsByName(name string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.running[name], nil
}

type sent struct {
	pids []int
	sig  syscall.Signal
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSignaler) Send(pids []int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{pids: pids, sig: sig})
	return f.err
}

func TestCompose(t *testing.T) {
	var order []string
	step := func(name string, err error) Action {
		return func(ctx context.Context, pid int) error {
			order = append(order, name)
			return err
		}
	}

	t.Run("runs in order", func(t *testing.T) {
		order = nil
		err := Compose(step("a", nil), step("b", nil), step("c", nil))(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("stops at first error", func(t *testing.T) {
		order = nil
		boom := errors.New("boom")
		err := Compose(step("a", nil), step("b", boom), step("c", nil))(context.Background(), 42)
		assert.Same(t, boom, err)
		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("empty chain", func(t *testing.T) {
		assert.NoError(t, Compose()(context.Background(), 42))
	})
}

func TestActions(t *testing.T) {
	inspector := &fakeInspector{
		children: map[int][]int{100: {101, 102}},
		running:  map[string]bool{"sleep": true},
	}

	tests := []struct {
		name      string
		action    func(a *Actions) Action
		wantErr   bool
		assertion bool
	}{
		{name: "alive and running", action: func(a *Actions) Action { return a.AssertAlive("sleep") }},
		{name: "alive but missing", action: func(a *Actions) Action { return a.AssertAlive("cat") }, wantErr: true, assertion: true},
		{name: "gone and missing", action: func(a *Actions) Action { return a.AssertGone("cat") }},
		{name: "gone but running", action: func(a *Actions) Action { return a.AssertGone("sleep") }, wantErr: true, assertion: true},
		{name: "children match", action: func(a *Actions) Action { return a.AssertChildren(2) }},
		{name: "children differ", action: func(a *Actions) Action { return a.AssertChildren(0) }, wantErr: true, assertion: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewActions(inspector, &fakeSignaler{})
			err := tt.action(a)(context.Background(), 100)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ae *AssertionError
			assert.Equal(t, tt.assertion, errors.As(err, &ae))
			if ae != nil {
				assert.Equal(t, 100, ae.Pid)
			}
		})
	}
}

func TestActionsInspectorFailure(t *testing.T) {
	boom := errors.New("procfs unavailable")
	a := NewActions(&fakeInspector{err: boom}, &fakeSignaler{})

	for name, action := range map[string]Action{
		"alive":    a.AssertAlive("sleep"),
		"gone":     a.AssertGone("sleep"),
		"children": a.AssertChildren(1),
		"signal":   a.SignalChildren(syscall.SIGINT),
	} {
		t.Run(name, func(t *testing.T) {
			err := action(context.Background(), 1)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestSignalChildren(t *testing.T) {
	signaler := &fakeSignaler{}
	a := NewActions(&fakeInspector{children: map[int][]int{100: {101, 102}}}, signaler)

	require.NoError(t, a.SignalChildren(syscall.SIGINT)(context.Background(), 100))
	require.Len(t, signaler.sent, 1)
	assert.Equal(t, []int{101, 102}, signaler.sent[0].pids)
	assert.Equal(t, syscall.SIGINT, signaler.sent[0].sig)

	signaler.err = errors.New("EPERM")
	assert.Error(t, a.SignalChildren(syscall.SIGINT)(context.Background(), 100))
}

func TestScheduleNil(t *testing.T) {
	task := Schedule(context.Background(), 1, time.Now(), nil)
	assert.NoError(t, task.Wait())
	assert.NoError(t, task.WaitTimeout(time.Millisecond))

	task = Schedule(context.Background(), 1, time.Now(), &Intervention{})
	assert.NoError(t, task.Wait())
}

func TestScheduleDelayFromStart(t *testing.T) {
	started := time.Now()
	var ranAt time.Time
	var gotPid int
	iv := &Intervention{
		Delay: 100 * time.Millisecond,
		Action: func(ctx context.Context, pid int) error {
			ranAt = time.Now()
			gotPid = pid
			return nil
		},
	}

	// Scheduling late must not push the action past started+Delay.
	time.Sleep(60 * time.Millisecond)
	task := Schedule(context.Background(), 7, started, iv)
	require.NoError(t, task.Wait())

	assert.Equal(t, 7, gotPid)
	elapsed := ranAt.Sub(started)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestScheduleCanceledBeforeDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	iv := &Intervention{
		Delay:  time.Hour,
		Action: func(ctx context.Context, pid int) error { ran = true; return nil },
	}

	task := Schedule(ctx, 1, time.Now(), iv)
	cancel()

	assert.ErrorIs(t, task.WaitTimeout(time.Second), context.Canceled)
	assert.False(t, ran)
}

func TestScheduleActionError(t *testing.T) {
	boom := errors.New("boom")
	iv := &Intervention{Action: func(ctx context.Context, pid int) error { return boom }}

	task := Schedule(context.Background(), 1, time.Now(), iv)
	assert.Same(t, boom, task.Wait())
}

func TestSchedulePanic(t *testing.T) {
	iv := &Intervention{Action: func(ctx context.Context, pid int) error { panic("kaboom") }}

	task := Schedule(context.Background(), 1, time.Now(), iv)
	err := task.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	iv := &Intervention{Action: func(ctx context.Context, pid int) error {
		<-release
		return nil
	}}

	task := Schedule(context.Background(), 1, time.Now(), iv)
	start := time.Now()
	err := task.WaitTimeout(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrGuardTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPause(t *testing.T) {
	start := time.Now()
	require.NoError(t, Pause(30*time.Millisecond)(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pause(time.Hour)(ctx, 1), context.Canceled)
}
