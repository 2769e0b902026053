package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/playwatch/internal/classifier"
	"github.com/loykin/playwatch/internal/process"
)

func game(pid int, name string) process.Record {
	return process.Record{
		PID:            pid,
		Name:           name,
		ExecutablePath: `C:\Program Files (x86)\Steam\steamapps\common\` + name + `\` + name,
		SessionID:      1,
	}
}

func notepad(pid int) process.Record {
	return process.Record{PID: pid, Name: "notepad.exe", ExecutablePath: `C:\Windows\notepad.exe`, SessionID: 1}
}

// scripted returns one snapshot per call and repeats the last one.
type scripted struct {
	mu    sync.Mutex
	steps [][]process.Record
	errs  []error
	calls int
}

func (s *scripted) List(context.Context) ([]process.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.steps)-1)
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.steps[i], err
}

func newMonitor(l process.Lister) *Monitor {
	return New(l, classifier.DefaultRules(), Options{Interval: 10 * time.Millisecond, Timeout: time.Second})
}

func TestPoll_TransitionSequence(t *testing.T) {
	a := game(300, "hades.exe")
	b := game(400, "celeste.exe")
	l := &scripted{steps: [][]process.Record{
		{notepad(1)},
		{notepad(1), a},
		{notepad(1), a},
		{b},
		{notepad(1)},
	}}
	m := newMonitor(l)
	ctx := context.Background()

	var events []*Tracked
	for range l.steps {
		ch, err := m.Poll(ctx)
		require.NoError(t, err)
		if ch.Changed {
			events = append(events, ch.Current)
		}
	}
	require.Len(t, events, 3)
	assert.Equal(t, 300, events[0].Process.PID)
	assert.Equal(t, 400, events[1].Process.PID)
	assert.Nil(t, events[2])
	assert.Nil(t, m.Tracked())
}

func TestPoll_SameWinnerIsNotAChange(t *testing.T) {
	a := game(300, "hades.exe")
	m := newMonitor(&scripted{steps: [][]process.Record{{a}}})
	ctx := context.Background()

	ch, err := m.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ch.Changed)
	since := ch.Current.Since
	assert.False(t, since.IsZero())

	for i := 0; i < 3; i++ {
		ch, err = m.Poll(ctx)
		require.NoError(t, err)
		assert.False(t, ch.Changed)
		require.NotNil(t, ch.Current)
		assert.Equal(t, since, ch.Current.Since)
	}
}

func TestPoll_LowestPidWins(t *testing.T) {
	m := newMonitor(&scripted{steps: [][]process.Record{{game(900, "b.exe"), notepad(5), game(120, "a.exe")}}})
	ch, err := m.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ch.Current)
	assert.Equal(t, 120, ch.Current.Process.PID)
}

func TestPoll_ReusedPidIsANewProcess(t *testing.T) {
	first := game(300, "hades.exe")
	first.StartedAt = time.Unix(1000, 0)
	second := game(300, "hades.exe")
	second.StartedAt = time.Unix(2000, 0)
	m := newMonitor(&scripted{steps: [][]process.Record{{first}, {second}}})

	_, err := m.Poll(context.Background())
	require.NoError(t, err)
	ch, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, ch.Changed)
}

func TestPoll_EnumerationFailureKeepsState(t *testing.T) {
	a := game(300, "hades.exe")
	l := &scripted{
		steps: [][]process.Record{{a}, nil, {a}},
		errs:  []error{nil, errors.New("powershell exited 1")},
	}
	m := newMonitor(l)
	ctx := context.Background()

	ch, err := m.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ch.Changed)

	ch, err = m.Poll(ctx)
	require.ErrorIs(t, err, process.ErrEnumeration)
	assert.False(t, ch.Changed)
	require.NotNil(t, m.Tracked())

	ch, err = m.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, ch.Changed, "a failed cycle is not a stop")
}

type blockingLister struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLister) List(ctx context.Context) ([]process.Record, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPoll_SingleFlight(t *testing.T) {
	l := &blockingLister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := newMonitor(l)
	done := make(chan error, 1)
	go func() {
		_, err := m.Poll(context.Background())
		done <- err
	}()
	<-l.entered

	_, err := m.Poll(context.Background())
	assert.ErrorIs(t, err, ErrPollInFlight)

	close(l.release)
	require.NoError(t, <-done)

	// guard is released afterwards
	_, err = m.Poll(context.Background())
	assert.NoError(t, err)
}

func TestPoll_TimeoutIsEnumerationFailure(t *testing.T) {
	l := &blockingLister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := New(l, classifier.DefaultRules(), Options{Timeout: 20 * time.Millisecond})
	_, err := m.Poll(context.Background())
	assert.ErrorIs(t, err, process.ErrEnumeration)
}

func TestSnapshotAndCandidates(t *testing.T) {
	m := newMonitor(&scripted{steps: [][]process.Record{{game(50, "x.exe"), notepad(7)}}})
	all, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 7, all[0].Process.PID)
	assert.False(t, all[0].Classification.LikelyGame)

	c, err := m.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, c, 1)
	assert.Equal(t, 50, c[0].Process.PID)
}

func TestStart_FiresOnTransitionsOnly(t *testing.T) {
	a := game(300, "hades.exe")
	m := newMonitor(&scripted{steps: [][]process.Record{{a}}})

	var calls atomic.Int32
	cancel := m.Start(context.Background(), func(tr *Tracked) {
		calls.Add(1)
	})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.Equal(t, int32(1), calls.Load())
	// cancel is idempotent
	cancel()
}

func TestStart_NoCallbacksAfterCancel(t *testing.T) {
	a := game(300, "hades.exe")
	// alternate between a game and nothing so every poll is a transition
	var n atomic.Int64
	l := process.ListerFunc(func(context.Context) ([]process.Record, error) {
		if n.Add(1)%2 == 1 {
			return []process.Record{a}, nil
		}
		return nil, nil
	})
	m := New(l, classifier.DefaultRules(), Options{Interval: time.Millisecond})

	var calls atomic.Int32
	cancel := m.Start(context.Background(), func(*Tracked) { calls.Add(1) })
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestStart_StopsWithParentContext(t *testing.T) {
	m := newMonitor(&scripted{steps: [][]process.Record{nil}})
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancel := m.Start(ctx, nil)
	cancelCtx()
	finished := make(chan struct{})
	go func() { cancel(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
