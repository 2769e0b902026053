package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/playwatch/internal/classifier"
	"github.com/loykin/playwatch/internal/history"
	"github.com/loykin/playwatch/internal/monitor"
	"github.com/loykin/playwatch/internal/process"
	"github.com/loykin/playwatch/internal/steam"
	"github.com/loykin/playwatch/internal/store"
	"github.com/loykin/playwatch/internal/store/sqlite"
)

var (
	hades = process.Record{
		PID: 100, Name: "Hades.exe", SessionID: 1,
		ExecutablePath: `C:\Program Files (x86)\Steam\steamapps\common\Hades\x64\Hades.exe`,
	}
	cyber = process.Record{
		PID: 200, Name: "Cyber.exe", SessionID: 1,
		ExecutablePath: `D:\Games\Cyber\bin\x64\cyber.exe`, CommandLine: "-vulkan",
	}
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func upsert(t *testing.T, repo store.Repository, g store.Game) {
	t.Helper()
	_, err := repo.Upsert(context.Background(), g)
	require.NoError(t, err)
}

// scripted returns each snapshot once and then repeats the last one.
func scripted(steps ...[]process.Record) process.Lister {
	var i atomic.Int32
	return process.ListerFunc(func(context.Context) ([]process.Record, error) {
		n := int(i.Add(1)) - 1
		if n >= len(steps) {
			n = len(steps) - 1
		}
		return steps[n], nil
	})
}

func newMonitor(l process.Lister) *monitor.Monitor {
	return monitor.New(l, classifier.DefaultRules(), monitor.Options{Interval: 5 * time.Millisecond, Timeout: time.Second})
}

type fakeScanner struct {
	mu    sync.Mutex
	calls int
	errs  []error
	res   steam.ScanResult
}

func (f *fakeScanner) ScanCatalog(_ context.Context, _ store.Repository) (steam.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return steam.ScanResult{}, err
	}
	return f.res, nil
}

func (f *fakeScanner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Events() []history.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Event(nil), s.events...)
}

type collector struct {
	mu  sync.Mutex
	got []IntervalResponse
}

func (c *collector) add(r IntervalResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, r)
}

func (c *collector) All() []IntervalResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]IntervalResponse(nil), c.got...)
}

func runInBackground(t *testing.T, o *Orchestrator) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

func TestBuildAndJSON(t *testing.T) {
	stopped, err := json.Marshal(Stopped())
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"stopped","appId":null,"source":null,"name":null}`, string(stopped))

	r := Build(hades, store.Game{AppID: "1145360", Source: "steam", Name: "Hades"}, true)
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"started","appId":"1145360","source":"steam","name":"Hades"}`, string(b))

	unmatched := Build(cyber, store.Game{}, false)
	assert.Nil(t, unmatched.AppID)
	assert.Nil(t, unmatched.Source)
	require.NotNil(t, unmatched.Name)
	assert.Equal(t, "Cyber.exe", *unmatched.Name)

	nameless := Build(hades, store.Game{AppID: "1", Source: "steam"}, true)
	assert.Equal(t, "Hades.exe", *nameless.Name)
}

func TestResolve_PathMatchLearnsExecutable(t *testing.T) {
	repo := newRepo(t)
	upsert(t, repo, store.Game{AppID: "1145360", Source: "steam", Name: "Hades", Path: "steamapps/common/hades"})
	o, err := New(Options{Repo: repo, Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)
	ctx := context.Background()

	g, ok := o.Resolve(ctx, hades)
	require.True(t, ok)
	assert.Equal(t, "1145360", g.AppID)
	assert.Equal(t, "hades.exe", g.Executable)

	stored, err := repo.GetByExecutable(ctx, "hades.exe")
	require.NoError(t, err)
	assert.Equal(t, "Hades", stored.Name, "enrichment keeps the name")
	assert.Equal(t, "steamapps/common/hades", stored.Path)

	// now found by executable alone
	moved := hades
	moved.ExecutablePath = ""
	g, ok = o.Resolve(ctx, moved)
	require.True(t, ok)
	assert.Equal(t, "1145360", g.AppID)
}

func TestResolve_LongestPathWins(t *testing.T) {
	repo := newRepo(t)
	upsert(t, repo, store.Game{AppID: "launcher", Source: "epic", Name: "Epic", Path: "epic games"})
	upsert(t, repo, store.Game{AppID: "fn", Source: "epic", Name: "Fortnite", Path: "epic games/fortnite"})
	o, err := New(Options{Repo: repo, Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)

	rec := process.Record{PID: 1, Name: "FortniteClient.exe", ExecutablePath: `D:\Epic Games\Fortnite\FortniteGame\Binaries\Win64\FortniteClient.exe`}
	g, ok := o.Resolve(context.Background(), rec)
	require.True(t, ok)
	assert.Equal(t, "fn", g.AppID)
}

func TestResolve_NoMatch(t *testing.T) {
	repo := newRepo(t)
	upsert(t, repo, store.Game{AppID: "1", Source: "steam", Name: "Hades II", Path: "steamapps/common/hades ii"})
	o, err := New(Options{Repo: repo, Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)

	_, ok := o.Resolve(context.Background(), hades)
	assert.False(t, ok, "directory prefixes must match whole segments")
	_, ok = o.Resolve(context.Background(), process.Record{PID: 3})
	assert.False(t, ok)

	degraded, err := New(Options{Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)
	_, ok = degraded.Resolve(context.Background(), hades)
	assert.False(t, ok)
	assert.True(t, degraded.Degraded())
}

func TestSteamInstallDir(t *testing.T) {
	tests := map[string]string{
		"/c:/steam/steamapps/common/hades/x64/hades.exe": "steamapps/common/hades",
		"/d:/lib/steamapps/common/hollow knight/hk.exe":  "steamapps/common/hollow knight",
		"/d:/games/foo.exe":                              "",
		"/c:/steam/steamapps/common/":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, steamInstallDir(in), in)
	}
	assert.Equal(t, "/c:/a/b.exe", normalizePath(`C:\A\b.exe`))
	assert.Empty(t, normalizePath("  "))
}

func TestNew_RequiresMonitor(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestRun_TransitionSequence(t *testing.T) {
	repo := newRepo(t)
	upsert(t, repo, store.Game{AppID: "1145360", Source: "steam", Name: "Hades", Path: "steamapps/common/hades"})
	sink := &recordingSink{}
	scanner := &fakeScanner{res: steam.ScanResult{Root: "/steam"}}
	o, err := New(Options{
		Repo:    repo,
		Scanner: scanner,
		Monitor: newMonitor(scripted(nil, []process.Record{hades}, []process.Record{hades}, []process.Record{cyber}, nil)),
		Sinks:   []history.Sink{sink},
	})
	require.NoError(t, err)
	var c collector
	o.Subscribe(c.add)

	stop := runInBackground(t, o)
	require.Eventually(t, func() bool { return len(c.All()) >= 3 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, stop())

	got := c.All()
	require.Len(t, got, 3, "a re-confirming poll never notifies")
	assert.Equal(t, Started("1145360", "steam", "Hades"), got[0])
	assert.Equal(t, Started("", "", "Cyber.exe"), got[1])
	assert.Equal(t, Stopped(), got[2])
	assert.Equal(t, Stopped(), o.Current())

	events := sink.Events()
	require.Len(t, events, 4)
	assert.Equal(t, []history.EventType{history.EventStarted, history.EventStopped, history.EventStarted, history.EventStopped},
		[]history.EventType{events[0].Type, events[1].Type, events[2].Type, events[3].Type})
	assert.Equal(t, events[0].SessionID, events[1].SessionID)
	assert.Equal(t, events[2].SessionID, events[3].SessionID)
	assert.NotEqual(t, events[0].SessionID, events[2].SessionID)
	assert.Equal(t, "1145360", events[0].AppID)
	assert.Equal(t, "Hades.exe", events[0].Executable)

	root, err := repo.GetSetting(context.Background(), SettingSteamRoot)
	require.NoError(t, err)
	assert.Equal(t, "/steam", root)
	_, err = repo.GetSetting(context.Background(), SettingLastScan)
	require.NoError(t, err)
	res, ok := o.LastScan()
	require.True(t, ok)
	assert.Equal(t, "/steam", res.Root)
}

func TestRun_RetriesWhileClientMissing(t *testing.T) {
	repo := newRepo(t)
	scanner := &fakeScanner{
		errs: []error{steam.ErrClientNotFound, steam.ErrClientNotFound},
		res:  steam.ScanResult{Root: "/late"},
	}
	o, err := New(Options{Repo: repo, Scanner: scanner, Monitor: newMonitor(scripted(nil)), ScanRetry: 10 * time.Millisecond})
	require.NoError(t, err)

	stop := runInBackground(t, o)
	require.Eventually(t, func() bool { _, ok := o.LastScan(); return ok }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, 3, scanner.Calls(), "retries stop after the first success")
}

func TestRun_WriteFailure(t *testing.T) {
	writeErr := fmt.Errorf("%w: disk full", store.ErrWrite)

	o, err := New(Options{Repo: newRepo(t), Scanner: &fakeScanner{errs: []error{writeErr}}, Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)
	err = o.Run(context.Background())
	require.ErrorIs(t, err, store.ErrWrite)

	o, err = New(Options{
		Repo: newRepo(t), Scanner: &fakeScanner{errs: []error{writeErr}},
		Monitor:       newMonitor(scripted([]process.Record{hades})),
		AllowDegraded: true,
	})
	require.NoError(t, err)
	var c collector
	o.Subscribe(c.add)
	stop := runInBackground(t, o)
	require.Eventually(t, func() bool { return len(c.All()) >= 1 }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, o.Degraded())
	assert.Equal(t, Started("", "", "Hades.exe"), c.All()[0])
	require.NoError(t, stop())
}

func TestRun_ClosesOpenSessionOnShutdown(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	o, err := New(Options{Monitor: newMonitor(scripted([]process.Record{hades})), Sinks: []history.Sink{sink}})
	require.NoError(t, err)
	var c collector
	o.Subscribe(c.add)
	stop := runInBackground(t, o)
	require.Eventually(t, func() bool { return len(c.All()) >= 1 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	events := sink.Events()
	require.Len(t, events, 2, "sink failures do not block later events")
	assert.Equal(t, history.EventStopped, events[1].Type)
	assert.Equal(t, events[0].SessionID, events[1].SessionID)
}

func TestRun_NotReentrant(t *testing.T) {
	polled := make(chan struct{}, 1)
	l := process.ListerFunc(func(context.Context) ([]process.Record, error) {
		select {
		case polled <- struct{}{}:
		default:
		}
		return nil, nil
	})
	o, err := New(Options{Monitor: newMonitor(l)})
	require.NoError(t, err)
	stop := runInBackground(t, o)
	select {
	case <-polled:
	case <-time.After(3 * time.Second):
		t.Fatal("monitor never polled")
	}
	require.Error(t, o.Run(context.Background()))
	require.NoError(t, stop())
}

func TestSubscribe_PanicsAndUnsubscribe(t *testing.T) {
	o, err := New(Options{Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)
	var first, second collector
	o.Subscribe(func(IntervalResponse) { panic("bad listener") })
	unsub := o.Subscribe(first.add)
	o.Subscribe(second.add)

	tr := &monitor.Tracked{Process: hades}
	o.handle(context.Background(), tr)
	unsub()
	unsub()
	o.handle(context.Background(), nil)

	assert.Len(t, first.All(), 1)
	assert.Len(t, second.All(), 2)
}

func TestScanCatalog_Errors(t *testing.T) {
	degraded, err := New(Options{Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)
	_, err = degraded.ScanCatalog(context.Background())
	require.ErrorIs(t, err, ErrNoRepository)

	noScanner, err := New(Options{Repo: newRepo(t), Monitor: newMonitor(scripted(nil))})
	require.NoError(t, err)
	_, err = noScanner.ScanCatalog(context.Background())
	require.ErrorIs(t, err, steam.ErrClientNotFound)
}
