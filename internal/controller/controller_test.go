package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/controller/internal/config"
	"github.com/footron/controller/internal/environment"
	"github.com/footron/controller/internal/types"
)

type fakeEnv struct {
	mu        sync.Mutex
	state     environment.State
	startErr  error
	startWait time.Duration
	available bool
}

func (f *fakeEnv) setState(s environment.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeEnv) Start(ctx context.Context, previous *types.Experience) error {
	if f.startWait > 0 {
		time.Sleep(f.startWait)
	}
	if f.startErr != nil {
		f.setState(environment.StateFailed)
		return f.startErr
	}
	f.setState(environment.StateRunning)
	return nil
}

func (f *fakeEnv) Stop(ctx context.Context, next *types.Experience) error {
	f.setState(environment.StateStopped)
	return nil
}

func (f *fakeEnv) State() environment.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEnv) Available(ctx context.Context) bool { return f.available }

type fakeFactory struct {
	newFunc func(kind types.Kind) (environment.Environment, error)
}

func (f *fakeFactory) New(kind types.Kind) (environment.Environment, error) {
	return f.newFunc(kind)
}

func newTestController(t *testing.T, newFunc func(kind types.Kind) (environment.Environment, error)) *Controller {
	t.Helper()
	if newFunc == nil {
		newFunc = func(types.Kind) (environment.Environment, error) { return &fakeEnv{}, nil }
	}
	c := New(config.ControllerConfig{}, &fakeFactory{newFunc: newFunc}, nil, nil, nil, nil, nil)
	c.experiences = map[string]types.Experience{
		"a": {ID: "a", Kind: types.KindWeb, Lifetime: 60},
		"b": {ID: "b", Kind: types.KindWeb, Lifetime: 60},
	}
	return c
}

func TestSetCurrentSingleCurrent(t *testing.T) {
	c := newTestController(t, nil)
	id := "a"
	require.NoError(t, c.SetCurrent(context.Background(), &id, 0, true))

	snap := c.Current()
	require.NotNil(t, snap)
	assert.Equal(t, "a", snap.Experience.ID)
}

// TestSetCurrentNonQueuing verifies that two overlapping set_current calls
// resolve to exactly one winner and the loser returns ErrBusy (spec §8
// "Non-queuing").
func TestSetCurrentNonQueuing(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	first := true
	var mu sync.Mutex

	newFunc := func(types.Kind) (environment.Environment, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			entered <- struct{}{}
			<-release
		}
		return &fakeEnv{}, nil
	}
	c := newTestController(t, newFunc)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		a := "a"
		results <- c.SetCurrent(context.Background(), &a, 0, true)
	}()

	<-entered // first call is inside the critical section, holding mu

	b := "b"
	err := c.SetCurrent(context.Background(), &b, 0, true)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	wg.Wait()
	assert.NoError(t, <-results)

	snap := c.Current()
	require.NotNil(t, snap)
	assert.Equal(t, "a", snap.Experience.ID)
}

func TestSetCurrentThrottleMonotonicity(t *testing.T) {
	c := newTestController(t, nil)
	a, b := "a", "b"

	require.NoError(t, c.SetCurrent(context.Background(), &a, time.Hour, true))
	err := c.SetCurrent(context.Background(), &b, time.Hour, true)
	assert.ErrorIs(t, err, ErrThrottled)

	snap := c.Current()
	require.NotNil(t, snap)
	assert.Equal(t, "a", snap.Experience.ID, "throttled call must not modify state")
}

func TestSetCurrentUnknownExperience(t *testing.T) {
	c := newTestController(t, nil)
	id := "missing"
	err := c.SetCurrent(context.Background(), &id, 0, true)
	assert.ErrorIs(t, err, ErrUnknownExperience)
	assert.Nil(t, c.Current())
}

func TestSetCurrentStartFailureClearsCurrent(t *testing.T) {
	c := newTestController(t, func(types.Kind) (environment.Environment, error) {
		return &fakeEnv{startErr: assert.AnError}, nil
	})
	id := "a"
	err := c.SetCurrent(context.Background(), &id, 0, true)
	assert.Error(t, err)
	assert.Nil(t, c.Current())
}

func TestSetCurrentSameIDIsNoop(t *testing.T) {
	c := newTestController(t, nil)
	id := "a"
	require.NoError(t, c.SetCurrent(context.Background(), &id, 0, true))
	before := c.Current()

	require.NoError(t, c.SetCurrent(context.Background(), &id, 0, true))
	after := c.Current()
	assert.Equal(t, before.StartTime, after.StartTime, "re-setting the same id must not restart the environment")
}

func TestLockToggleSemantics(t *testing.T) {
	c := newTestController(t, nil)
	id := "a"
	require.NoError(t, c.SetCurrent(context.Background(), &id, 0, true))

	require.NoError(t, c.UpdateLock("a", types.LockOpen()))
	firstUpdate := c.Current().Lock.LastUpdate
	assert.Nil(t, firstUpdate, "setting lock to its current value (open) must not record an update")

	require.NoError(t, c.UpdateLock("a", types.LockClosed()))
	closedUpdate := c.Current().Lock.LastUpdate
	require.NotNil(t, closedUpdate)

	time.Sleep(time.Millisecond)
	require.NoError(t, c.UpdateLock("a", types.LockClosed()))
	stillClosedUpdate := c.Current().Lock.LastUpdate
	assert.Equal(t, *closedUpdate, *stillClosedUpdate, "setting lock to its current value must not update last_update")

	require.NoError(t, c.UpdateLock("a", types.LockOpen()))
	reopenedUpdate := c.Current().Lock.LastUpdate
	assert.True(t, reopenedUpdate.After(*closedUpdate))
}

func TestUpdateEndTimeMismatchedID(t *testing.T) {
	c := newTestController(t, nil)
	id := "a"
	require.NoError(t, c.SetCurrent(context.Background(), &id, 0, true))

	now := time.Now()
	err := c.UpdateEndTime("b", &now)
	assert.ErrorIs(t, err, ErrExperienceMismatch)
}

func TestUpdateEndTimeNoCurrent(t *testing.T) {
	c := newTestController(t, nil)
	now := time.Now()
	err := c.UpdateEndTime("a", &now)
	assert.ErrorIs(t, err, ErrNoCurrent)
}

func TestSetCurrentToNilClearsCurrent(t *testing.T) {
	c := newTestController(t, nil)
	id := "a"
	require.NoError(t, c.SetCurrent(context.Background(), &id, 0, true))
	require.NoError(t, c.SetCurrent(context.Background(), nil, 0, true))
	assert.Nil(t, c.Current())
	c.Shutdown()
}

// TestDropUnavailableExcludesFromCatalog pins down spec §7's
// EnvironmentInitializationError behavior: an experience whose environment
// reports itself unavailable is excluded from the catalog at load time,
// not merely flagged.
func TestDropUnavailableExcludesFromCatalog(t *testing.T) {
	c := newTestController(t, func(kind types.Kind) (environment.Environment, error) {
		return &fakeEnv{available: kind != types.KindDocker}, nil
	})

	experiences := map[string]types.Experience{
		"a": {ID: "a", Kind: types.KindWeb},
		"b": {ID: "b", Kind: types.KindDocker},
	}
	c.dropUnavailable(context.Background(), experiences)

	assert.Contains(t, experiences, "a")
	assert.NotContains(t, experiences, "b")
}
