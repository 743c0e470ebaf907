package api

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/metastore"
	"github.com/p-arndt/texcompile/internal/render"
	"github.com/p-arndt/texcompile/internal/sandbox"
	"github.com/p-arndt/texcompile/internal/session"
	"github.com/p-arndt/texcompile/internal/taskqueue"
)

// noopCompiler satisfies render.CommandRunner without shelling out to a
// real TeX toolchain, matching the fakeCompiler approach already used in
// internal/render's own tests.
type noopCompiler struct{}

func (noopCompiler) Run(ctx context.Context, dir, name string, args ...string) error {
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "working")
	fs, err := sandbox.New(dir)
	require.NoError(t, err)

	store, err := metastore.NewSQLite(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := clock.NewTest(1000)
	mgr := session.NewManager(fs, "instance-under-test", 300, store, clk, []string{"xelatex", "pdflatex"})
	renderer := render.NewRenderer(mgr, noopCompiler{}, 5*time.Second)
	queue := taskqueue.New(1, 8, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	t.Cleanup(queue.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewServer(mgr, renderer, queue, clk, logger)
}

func mustCreateSession(t *testing.T, s *Server) *session.Session {
	t.Helper()
	sess, err := s.manager.CreateSession(context.Background(), "xelatex", "main.tex", nil)
	require.NoError(t, err)
	return sess
}
