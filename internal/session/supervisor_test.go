package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type supervisorFixture struct {
	factory  *fakeFactory
	registry *Registry
	guard    *Guard
	router   *Router
	realtime *recordingRealtime
	webhook  *recordingWebhook
	sup      *Supervisor
}

func newSupervisorFixture(t *testing.T, mutate func(*SupervisorConfig)) *supervisorFixture {
	t.Helper()

	f := &supervisorFixture{
		factory:  &fakeFactory{},
		registry: NewRegistry(),
		guard:    NewGuard(t.TempDir()),
		realtime: &recordingRealtime{},
		webhook:  &recordingWebhook{},
	}
	f.router = NewRouter(RouterConfig{
		EnabledEvents: []string{"qr", "ready", "disconnected", "message"},
		Webhook:       f.webhook,
		Realtime:      f.realtime,
	})
	t.Cleanup(f.router.Close)

	cfg := SupervisorConfig{
		Factory:          f.factory.new,
		Registry:         f.registry,
		Guard:            f.guard,
		Router:           f.router,
		Validator:        NewValidator(f.registry),
		Realtime:         f.realtime,
		ResolveWebhook:   func(string) string { return "https://hooks.example.com/default" },
		ReleaseStaleLock: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.sup = NewSupervisor(cfg)
	return f
}

func (f *supervisorFixture) mkFolder(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.guard.Root(), name), 0o755))
}

func TestSetup_DuplicateIDFailsFast(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	res, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, f.registry.Get("s1"))

	original := f.registry.Get("s1")

	res, err = f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "already exists")

	// The original handle is unchanged and no second client initialized it.
	require.Same(t, original, f.registry.Get("s1"))
	require.Len(t, f.factory.created(), 1)
}

func TestSetup_InvalidID(t *testing.T) {
	f := newSupervisorFixture(t, nil)

	res, err := f.sup.Setup(context.Background(), "../escape")
	require.ErrorIs(t, err, ErrInvalidSessionID)
	require.False(t, res.Success)
	require.Zero(t, f.registry.Len())
}

func TestSetup_InitFailureLeavesNoRegistryEntry(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	f.factory.prepare = func(c *fakeClient) { c.initErr = errBoom }

	res, err := f.sup.Setup(context.Background(), "s1")
	require.False(t, res.Success)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, "s1", initErr.ID)
	require.Nil(t, f.registry.Get("s1"))
}

func TestRestore_SetsUpOnlyPrefixedFolders(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	f.mkFolder(t, FolderPrefix+"alpha")
	f.mkFolder(t, FolderPrefix+"beta")
	f.mkFolder(t, "scratch")

	require.NoError(t, f.sup.Restore(context.Background()))

	clients := f.factory.created()
	require.Len(t, clients, 2)
	ids := map[string]bool{}
	for _, c := range clients {
		ids[c.opts.SessionID] = true
	}
	require.True(t, ids["alpha"])
	require.True(t, ids["beta"])
	require.NotNil(t, f.registry.Get("alpha"))
	require.NotNil(t, f.registry.Get("beta"))
	require.Nil(t, f.registry.Get("scratch"))
}

func TestRestore_OneFailureDoesNotAbortTheRest(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	f.mkFolder(t, FolderPrefix+"bad")
	f.mkFolder(t, FolderPrefix+"good")
	f.factory.prepare = func(c *fakeClient) {
		if c.opts.SessionID == "bad" {
			c.initErr = errBoom
		}
	}

	require.NoError(t, f.sup.Restore(context.Background()))
	require.Nil(t, f.registry.Get("bad"))
	require.NotNil(t, f.registry.Get("good"))
}

func TestReload_GracefulCloseAndReplace(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	old := f.registry.Get("s1")
	oldClient := f.factory.created()[0]

	require.NoError(t, f.sup.Reload(ctx, "s1"))

	require.Len(t, f.factory.created(), 2)
	require.NotSame(t, old, f.registry.Get("s1"))
	require.Equal(t, 1, oldClient.surface.gracefulCloses)
	require.Zero(t, oldClient.surface.kills)
}

func TestReload_KillsOnGracefulCloseFailure(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	oldClient := f.factory.created()[0]
	oldClient.surface.closeErr = errBoom

	require.NoError(t, f.sup.Reload(ctx, "s1"))
	require.Equal(t, 1, oldClient.surface.kills)
	require.Len(t, f.factory.created(), 2)
}

func TestDestroy_TearsDownAndKeepsFolder(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	f.mkFolder(t, FolderPrefix+"s1")

	require.NoError(t, f.sup.Destroy(ctx, "s1"))

	_, logouts, destroys := f.factory.created()[0].counts()
	require.Zero(t, logouts)
	require.Equal(t, 1, destroys)
	require.Nil(t, f.registry.Get("s1"))
	require.Equal(t, []string{"s1"}, f.realtime.disconnected())

	// Credentials survive a destroy.
	_, statErr := os.Stat(f.guard.Path("s1"))
	require.NoError(t, statErr)
}

func TestDestroy_AbsentIDIsNoOp(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	require.NoError(t, f.sup.Destroy(context.Background(), "nope"))
}

func TestDelete_LogsOutWhenLive(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	f.mkFolder(t, FolderPrefix+"s1")

	require.NoError(t, f.sup.Delete(ctx, "s1", LivenessResult{Success: true}))

	_, logouts, destroys := f.factory.created()[0].counts()
	require.Equal(t, 1, logouts)
	require.Zero(t, destroys)
	require.Nil(t, f.registry.Get("s1"))

	_, statErr := os.Stat(f.guard.Path("s1"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDelete_DestroysWhenPresentButNotConnected(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	f.mkFolder(t, FolderPrefix+"s1")

	require.NoError(t, f.sup.Delete(ctx, "s1", LivenessResult{Success: false, Reason: "protocol state OPENING"}))

	_, logouts, destroys := f.factory.created()[0].counts()
	require.Zero(t, logouts)
	require.Equal(t, 1, destroys)
}

func TestDelete_AbsentIDOnlyRemovesFolder(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	f.mkFolder(t, FolderPrefix+"ghost")

	require.NoError(t, f.sup.Delete(context.Background(), "ghost", LivenessResult{Reason: "unknown session"}))
	_, statErr := os.Stat(f.guard.Path("ghost"))
	require.True(t, os.IsNotExist(statErr))

	// Repeating is idempotent.
	require.NoError(t, f.sup.Delete(context.Background(), "ghost", LivenessResult{Reason: "unknown session"}))
}

func TestFlush_OnlyInactiveKeepsHealthySessions(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	for _, id := range []string{"live", "dead"} {
		_, err := f.sup.Setup(ctx, id)
		require.NoError(t, err)
		f.mkFolder(t, FolderPrefix+id)
	}
	// Orphan folder from a prior crash: no registry entry.
	f.mkFolder(t, FolderPrefix+"orphan")

	for _, c := range f.factory.created() {
		if c.opts.SessionID == "dead" {
			c.surface.closed = true
		}
	}

	require.NoError(t, f.sup.Flush(ctx, true))

	require.NotNil(t, f.registry.Get("live"))
	require.Nil(t, f.registry.Get("dead"))

	_, err := os.Stat(f.guard.Path("live"))
	require.NoError(t, err)
	for _, id := range []string{"dead", "orphan"} {
		_, err := os.Stat(f.guard.Path(id))
		require.True(t, os.IsNotExist(err), "folder for %s should be gone", id)
	}
}

func TestFlush_AllRemovesEverything(t *testing.T) {
	f := newSupervisorFixture(t, nil)
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "live")
	require.NoError(t, err)
	f.mkFolder(t, FolderPrefix+"live")

	require.NoError(t, f.sup.Flush(ctx, false))
	require.Zero(t, f.registry.Len())

	ids, err := f.guard.List()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestRecovery_ExactlyOneSetupAfterCrash(t *testing.T) {
	f := newSupervisorFixture(t, func(cfg *SupervisorConfig) {
		cfg.RecoverOnCrash = true
	})
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	old := f.registry.Get("s1")

	f.factory.created()[0].crash("browser closed")

	require.Eventually(t, func() bool {
		h := f.registry.Get("s1")
		return h != nil && h != old
	}, 2*time.Second, 10*time.Millisecond)

	// A second hook firing must not trigger another setup.
	f.factory.created()[0].crash("browser closed")
	time.Sleep(100 * time.Millisecond)
	require.Len(t, f.factory.created(), 2)
}

func TestTeardown_DetachesRecoveryHook(t *testing.T) {
	f := newSupervisorFixture(t, func(cfg *SupervisorConfig) {
		cfg.RecoverOnCrash = true
	})
	ctx := context.Background()

	_, err := f.sup.Setup(ctx, "s1")
	require.NoError(t, err)
	client := f.factory.created()[0]

	require.NoError(t, f.sup.Destroy(ctx, "s1"))

	// Crash after destroy must not resurrect the session.
	client.crash("late crash")
	time.Sleep(100 * time.Millisecond)
	require.Nil(t, f.registry.Get("s1"))
	require.Len(t, f.factory.created(), 1)
}
