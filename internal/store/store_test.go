package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoagit/x121-sub001/internal/database"
)

type storeFactory func(t *testing.T) Store

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	s := NewSQLiteStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMemoryStore(t *testing.T) Store {
	return NewMemoryStore()
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	factories := map[string]storeFactory{
		"memory": newTestMemoryStore,
		"sqlite": newTestSQLiteStore,
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func seedInstance(t *testing.T, s Store, name string, enabled bool) *Instance {
	t.Helper()
	inst, err := s.CreateInstance(context.Background(), NewInstance{
		Name:    name,
		WSURL:   "ws://" + name + ":8188",
		APIURL:  "http://" + name + ":8188",
		Enabled: enabled,
	})
	require.NoError(t, err)
	return inst
}

func TestStore_Instances(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a := seedInstance(t, s, "gpu-a", true)
		seedInstance(t, s, "gpu-b", false)
		c := seedInstance(t, s, "gpu-c", true)

		assert.True(t, a.Enabled)
		assert.Equal(t, "ws://gpu-a:8188", a.WSURL)

		all, err := s.ListInstances(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		enabled, err := s.ListEnabledInstances(ctx)
		require.NoError(t, err)
		require.Len(t, enabled, 2)
		assert.Equal(t, a.ID, enabled[0].ID)
		assert.Equal(t, c.ID, enabled[1].ID)

		_, err = s.CreateInstance(ctx, NewInstance{Name: "gpu-a", WSURL: "ws://x", APIURL: "http://x"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestStore_ConnectionBookkeeping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, "gpu-a", true)

		require.NoError(t, s.IncrementReconnectAttempts(ctx, inst.ID))
		require.NoError(t, s.IncrementReconnectAttempts(ctx, inst.ID))

		list, err := s.ListInstances(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, list[0].ReconnectAttempts)
		assert.Nil(t, list[0].LastConnectedAt)

		require.NoError(t, s.RecordConnection(ctx, inst.ID))
		list, err = s.ListInstances(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, list[0].ReconnectAttempts)
		assert.NotNil(t, list[0].LastConnectedAt)

		require.NoError(t, s.RecordDisconnection(ctx, inst.ID))
		list, err = s.ListInstances(ctx)
		require.NoError(t, err)
		assert.NotNil(t, list[0].LastDisconnectedAt)

		assert.ErrorIs(t, s.RecordConnection(ctx, 9999), ErrNotFound)
		assert.ErrorIs(t, s.RecordDisconnection(ctx, 9999), ErrNotFound)
		assert.ErrorIs(t, s.IncrementReconnectAttempts(ctx, 9999), ErrNotFound)
	})
}

func TestStore_CreateAndFindExecution(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, "gpu-a", true)

		e, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 42, PromptID: "abc"})
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, e.Status)
		assert.Equal(t, int16(0), e.ProgressPercent)
		assert.False(t, e.SubmittedAt.IsZero())
		assert.Nil(t, e.StartedAt)

		byJob, err := s.FindExecutionByPlatformJobID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, e.ID, byJob.ID)
		assert.Equal(t, "abc", byJob.PromptID)

		byPrompt, err := s.FindExecutionByPromptID(ctx, inst.ID, "abc")
		require.NoError(t, err)
		assert.Equal(t, e.ID, byPrompt.ID)

		_, err = s.FindExecutionByPromptID(ctx, inst.ID+1, "abc")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindExecutionByPlatformJobID(ctx, 7)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 43, PromptID: "abc"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestStore_FindExecutionByPlatformJobID_ReturnsLatest(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, "gpu-a", true)

		_, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 42, PromptID: "first"})
		require.NoError(t, err)
		second, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 42, PromptID: "second"})
		require.NoError(t, err)

		got, err := s.FindExecutionByPlatformJobID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.Equal(t, "second", got.PromptID)
	})
}

func TestStore_ExecutionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, "gpu-a", true)
		e, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 1, PromptID: "p1"})
		require.NoError(t, err)

		require.NoError(t, s.MarkExecutionStarted(ctx, e.ID))
		require.NoError(t, s.UpdateExecutionNode(ctx, e.ID, "3"))
		require.NoError(t, s.UpdateExecutionProgress(ctx, e.ID, 40, ""))

		got, err := s.FindExecutionByPromptID(ctx, inst.ID, "p1")
		require.NoError(t, err)
		assert.NotNil(t, got.StartedAt)
		assert.Equal(t, int16(40), got.ProgressPercent)
		require.NotNil(t, got.CurrentNode)
		assert.Equal(t, "3", *got.CurrentNode, "empty node keeps the previous one")

		require.NoError(t, s.UpdateExecutionProgress(ctx, e.ID, 60, "5"))
		got, err = s.FindExecutionByPromptID(ctx, inst.ID, "p1")
		require.NoError(t, err)
		assert.Equal(t, "5", *got.CurrentNode)

		require.NoError(t, s.MarkExecutionCompleted(ctx, e.ID))
		got, err = s.FindExecutionByPromptID(ctx, inst.ID, "p1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, int16(100), got.ProgressPercent)
		assert.NotNil(t, got.CompletedAt)
		assert.True(t, got.Status.Terminal())
	})
}

func TestStore_TerminalExecutionIgnoresLateUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, "gpu-a", true)
		e, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 1, PromptID: "p1"})
		require.NoError(t, err)

		require.NoError(t, s.MarkExecutionFailed(ctx, e.ID, "CUDA out of memory"))
		require.NoError(t, s.UpdateExecutionProgress(ctx, e.ID, 90, "8"))
		require.NoError(t, s.MarkExecutionCompleted(ctx, e.ID))

		got, err := s.FindExecutionByPromptID(ctx, inst.ID, "p1")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "CUDA out of memory", *got.ErrorMessage)
		assert.Equal(t, int16(0), got.ProgressPercent)
	})
}

func TestStore_MarkExecutionCancelled(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		inst := seedInstance(t, s, "gpu-a", true)
		e, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 1, PromptID: "p1"})
		require.NoError(t, err)

		require.NoError(t, s.MarkExecutionCancelled(ctx, e.ID))
		got, err := s.FindExecutionByPlatformJobID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.NotNil(t, got.CancelledAt)
		assert.NotNil(t, got.CompletedAt)

		// A completion racing the cancel does not win.
		require.NoError(t, s.MarkExecutionCompleted(ctx, e.ID))
		got, err = s.FindExecutionByPlatformJobID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})
}

func TestStore_MutationsOnMissingExecution(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const missing = int64(12345)

		assert.ErrorIs(t, s.MarkExecutionStarted(ctx, missing), ErrNotFound)
		assert.ErrorIs(t, s.UpdateExecutionNode(ctx, missing, "1"), ErrNotFound)
		assert.ErrorIs(t, s.UpdateExecutionProgress(ctx, missing, 10, ""), ErrNotFound)
		assert.ErrorIs(t, s.MarkExecutionCompleted(ctx, missing), ErrNotFound)
		assert.ErrorIs(t, s.MarkExecutionFailed(ctx, missing, "x"), ErrNotFound)
		assert.ErrorIs(t, s.MarkExecutionCancelled(ctx, missing), ErrNotFound)
	})
}

func TestStore_CreateExecutionUnknownInstance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.CreateExecution(context.Background(), NewExecution{InstanceID: 999, PlatformJobID: 1, PromptID: "p"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Ping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	inst := seedInstance(t, s, "gpu-a", true)
	e, err := s.CreateExecution(ctx, NewExecution{InstanceID: inst.ID, PlatformJobID: 1, PromptID: "p1"})
	require.NoError(t, err)

	e.Status = StatusFailed
	got, err := s.FindExecutionByPromptID(ctx, inst.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}
