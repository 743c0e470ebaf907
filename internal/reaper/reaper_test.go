package reaper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/metastore"
	"github.com/p-arndt/texcompile/internal/sandbox"
	"github.com/p-arndt/texcompile/internal/session"
)

const testInstanceKey = "instance-under-test"

func newTestSetup(t *testing.T, ttlSec int) (*session.Manager, metastore.Store, *clock.Test) {
	t.Helper()
	fs, err := sandbox.New(filepath.Join(t.TempDir(), "working"))
	require.NoError(t, err)
	store, err := metastore.NewSQLite(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clk := clock.NewTest(1000)
	mgr := session.NewManager(fs, testInstanceKey, ttlSec, store, clk, []string{"xelatex"})
	return mgr, store, clk
}

func TestSweepDeletesExpiredSessions(t *testing.T) {
	mgr, _, clk := newTestSetup(t, 100)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "xelatex", "main.tex", nil)
	require.NoError(t, err)

	clk.Advance(101)

	r := New(mgr, clk, time.Second, nil)
	r.Sweep(ctx)

	_, found, err := mgr.LoadSession(ctx, s.Key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSweepKeepsLiveSessions(t *testing.T) {
	mgr, _, clk := newTestSetup(t, 100)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "xelatex", "main.tex", nil)
	require.NoError(t, err)

	clk.Advance(50)

	r := New(mgr, clk, time.Second, nil)
	r.Sweep(ctx)

	_, found, err := mgr.LoadSession(ctx, s.Key)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSweepSelfHealsDanglingSetEntry(t *testing.T) {
	mgr, store, clk := newTestSetup(t, 100)
	ctx := context.Background()

	// A set member with no backing record: the crash-between-writes case
	// delete_session's invariant calls out.
	require.NoError(t, store.SAdd(ctx, testInstanceKey, "deadbeefdeadbeef"))

	r := New(mgr, clk, time.Second, nil)
	r.Sweep(ctx)

	ids, err := mgr.GetAllSessionIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "deadbeefdeadbeef")
}
