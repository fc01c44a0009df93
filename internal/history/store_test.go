package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpdash/internal/api"
)

func openTestStore(t *testing.T, bound int) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), bound)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testInvocation(n int) api.Invocation {
	return api.Invocation{
		ID:         fmt.Sprintf("inv-%03d", n),
		TargetID:   "srv1",
		Capability: "search",
		Args:       api.Args{{Name: "query", Value: fmt.Sprintf("q%d", n)}},
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second),
		Outcome:    api.InvocationSuccess,
		Result:     "ok",
		DurationMs: 42,
	}
}

func TestAppendAndList(t *testing.T) {
	store := openTestStore(t, DefaultBound)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testInvocation(1)))
	require.NoError(t, store.Append(ctx, testInvocation(2)))

	invocations, err := store.List(ctx, "srv1", "search")
	require.NoError(t, err)
	require.Len(t, invocations, 2)

	// Newest first.
	assert.Equal(t, "inv-002", invocations[0].ID)
	assert.Equal(t, "inv-001", invocations[1].ID)
	assert.Equal(t, api.InvocationSuccess, invocations[0].Outcome)
	assert.Equal(t, int64(42), invocations[0].DurationMs)
}

func TestBoundEvictsOldestInInsertionOrder(t *testing.T) {
	store := openTestStore(t, 20)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		require.NoError(t, store.Append(ctx, testInvocation(i)))
	}

	invocations, err := store.List(ctx, "srv1", "search")
	require.NoError(t, err)
	require.Len(t, invocations, 20)

	// The 20 newest survive; inv-001 through inv-005 are gone.
	assert.Equal(t, "inv-025", invocations[0].ID)
	assert.Equal(t, "inv-006", invocations[19].ID)

	for i := 1; i <= 5; i++ {
		_, found, err := store.LoadForReplay(ctx, fmt.Sprintf("inv-%03d", i))
		require.NoError(t, err)
		assert.False(t, found)
	}
}

func TestBoundEnforcedPerKey(t *testing.T) {
	store := openTestStore(t, 2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		inv := testInvocation(i)
		require.NoError(t, store.Append(ctx, inv))

		other := testInvocation(i + 100)
		other.Capability = "fetch"
		require.NoError(t, store.Append(ctx, other))
	}

	searches, err := store.List(ctx, "srv1", "search")
	require.NoError(t, err)
	assert.Len(t, searches, 2)

	fetches, err := store.List(ctx, "srv1", "fetch")
	require.NoError(t, err)
	assert.Len(t, fetches, 2)
}

func TestLoadForReplayRoundTrip(t *testing.T) {
	store := openTestStore(t, DefaultBound)
	ctx := context.Background()

	inv := testInvocation(1)
	inv.Args = api.Args{
		{Name: "query", Value: "kubernetes"},
		{Name: "limit", Value: float64(10)},
		{Name: "deep", Value: true},
	}
	require.NoError(t, store.Append(ctx, inv))

	args, found, err := store.LoadForReplay(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, inv.Args.Equal(args), "replay snapshot must be structurally equal, got %v", args)

	// Order survives the round-trip.
	assert.Equal(t, "query", args[0].Name)
	assert.Equal(t, "limit", args[1].Name)
	assert.Equal(t, "deep", args[2].Name)
}

func TestLoadForReplayAbsent(t *testing.T) {
	store := openTestStore(t, DefaultBound)

	args, found, err := store.LoadForReplay(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, args)
}

func TestClear(t *testing.T) {
	store := openTestStore(t, DefaultBound)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, testInvocation(1)))
	other := testInvocation(2)
	other.Capability = "fetch"
	require.NoError(t, store.Append(ctx, other))

	require.NoError(t, store.Clear(ctx, "srv1", "search"))

	searches, err := store.List(ctx, "srv1", "search")
	require.NoError(t, err)
	assert.Empty(t, searches)

	// Other keys are untouched.
	fetches, err := store.List(ctx, "srv1", "fetch")
	require.NoError(t, err)
	assert.Len(t, fetches, 1)
}

func TestCancelledInvocationsRejected(t *testing.T) {
	store := openTestStore(t, DefaultBound)

	inv := testInvocation(1)
	inv.Outcome = api.InvocationCancelled
	err := store.Append(context.Background(), inv)
	assert.True(t, api.IsValidation(err))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path, DefaultBound)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, testInvocation(1)))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path, DefaultBound)
	require.NoError(t, err)
	defer reopened.Close()

	invocations, err := reopened.List(ctx, "srv1", "search")
	require.NoError(t, err)
	require.Len(t, invocations, 1)
	assert.Equal(t, "inv-001", invocations[0].ID)
}
