//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/texcompile/internal/api"
	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/reaper"
	"github.com/p-arndt/texcompile/internal/render"
	"github.com/p-arndt/texcompile/internal/sandbox"
	"github.com/p-arndt/texcompile/internal/session"
	"github.com/p-arndt/texcompile/internal/taskqueue"
	"github.com/p-arndt/texcompile/internal/testutil"
)

// badClassMarker, embedded in an uploaded or expanded .tex file, tells
// fakeTeXRunner to emulate xelatex/pdflatex's behavior on a missing
// document class: no product, and the log line these tests assert on
// (scenario 2 of spec.md §8).
const badClassMarker = "\\documentclass{notarealarticle}"

// fakeTeXRunner stands in for a real TeX toolchain (not something this
// suite can assume is installed), judging success the same way the real
// render.Renderer does: by inspecting the files a compile run leaves
// behind, not by interpreting markup.
type fakeTeXRunner struct{}

func (fakeTeXRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	if name == "pdftoppm" {
		format := args[1][1:]
		basename := args[len(args)-1]
		return os.WriteFile(filepath.Join(dir, basename+"."+format), bytes.Repeat([]byte{0xFF}, 4096), 0o644)
	}

	var jobname, target string
	for _, a := range args {
		switch {
		case len(a) > len("-jobname=") && a[:len("-jobname=")] == "-jobname=":
			jobname = a[len("-jobname="):]
		case !strings.HasPrefix(a, "-"):
			target = a
		}
	}

	src, err := os.ReadFile(filepath.Join(dir, target))
	if err != nil {
		return err
	}

	if bytes.Contains(src, []byte(badClassMarker)) {
		logMsg := "LaTeX Error: File `notarealarticle.cls' not found."
		return os.WriteFile(filepath.Join(dir, jobname+".log"), []byte(logMsg), 0o644)
	}

	if err := os.WriteFile(filepath.Join(dir, jobname+".log"), []byte("compiled ok"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, jobname+".pdf"), bytes.Repeat([]byte{0x25, 0x50, 0x44, 0x46}, 1000), 0o644)
}

// testHarness bundles the running HTTP server with the internals a
// scenario needs to poke directly (the test clock, to drive the sweeper;
// the reaper, to trigger a sweep on demand rather than waiting on its
// ticker).
type testHarness struct {
	baseURL string
	clk     *clock.Test
	reaper  *reaper.Reaper
	client  *http.Client
}

func startTestHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg := testutil.TestConfig(t)
	fs, err := sandbox.New(cfg.WorkingDirectory)
	require.NoError(t, err)

	store := testutil.NewTestMetaStore(t)

	clk := clock.NewTest(0)
	mgr := session.NewManager(fs, cfg.InstanceKey, cfg.SessionTTLSec, store, clk, []string{"xelatex", "pdflatex", "lualatex"})
	renderer := render.NewRenderer(mgr, fakeTeXRunner{}, 5*time.Second)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	queue := taskqueue.New(2, 16, logger)
	t.Cleanup(queue.Close)

	srv := api.NewServer(mgr, renderer, queue, clk, logger)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	rpr := reaper.New(mgr, clk, time.Hour, logger)

	return &testHarness{
		baseURL: httpSrv.URL,
		clk:     clk,
		reaper:  rpr,
		client:  httpSrv.Client(),
	}
}

func (h *testHarness) doJSON(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.baseURL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (h *testHarness) uploadFile(t *testing.T, sessionKey, fieldName, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fieldName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", h.baseURL+fmt.Sprintf("/api/sessions/%s/files", sessionKey), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// pollUntilTerminal polls GET /api/sessions/{key} until status leaves
// "finalized" or the deadline passes, returning the last view observed.
func (h *testHarness) pollUntilTerminal(t *testing.T, key string) session.PublicView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var view session.PublicView
	for time.Now().Before(deadline) {
		resp := h.doJSON(t, "GET", "/api/sessions/"+key, nil)
		decodeBody(t, resp, &view)
		if view.Status == session.StatusSuccess || view.Status == session.StatusError {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach a terminal status in time, last seen %q", key, view.Status)
	return view
}
