package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/p-arndt/texcompile/internal/session"
)

// compilers is the set of supported typesetting toolchains — unchanged
// from original_source/latex/rendering.py's COMPILERS constant (this repo
// additionally enforces the allow-list at session-creation time, via
// session.Manager's own compilers set, so this is a second, redundant
// defense in depth rather than the sole check).
var compilers = map[string]bool{"xelatex": true, "pdflatex": true, "lualatex": true}

const maxCompileAttempts = 5

// Result mirrors RenderResult from original_source/latex/rendering.py.
type Result struct {
	Success bool
	Product string // relative to source/
	Log     string // relative to source/
}

// Renderer drives the five-step pipeline: load, expand templates, compile
// to fixed point, optionally rasterize, commit.
type Renderer struct {
	Manager     *session.Manager
	Runner      CommandRunner
	ExecTimeout time.Duration
}

// NewRenderer builds a Renderer with the given CommandRunner backend and
// a per-subprocess timeout (spec.md §5's "recommended, not required"
// per-invocation ceiling, implemented here via context.WithTimeout).
func NewRenderer(mgr *session.Manager, runner CommandRunner, execTimeout time.Duration) *Renderer {
	return &Renderer{Manager: mgr, Runner: runner, ExecTimeout: execTimeout}
}

// Render is the TaskQueue job body: load the session by key, run the
// compile pipeline, and commit the outcome. It is invoked with
// (session_key, working_root, instance_key) conceptually — here
// sessionKey alone, since Renderer already owns the Manager wired to the
// right working root and instance key.
func (r *Renderer) Render(ctx context.Context, sessionKey string) (Result, error) {
	s, found, err := r.Manager.LoadSession(ctx, sessionKey)
	if err != nil {
		return Result{}, fmt.Errorf("render: load session %s: %w", sessionKey, err)
	}
	if !found {
		return Result{}, fmt.Errorf("%w: session %s", session.ErrNotFound, sessionKey)
	}

	result, err := r.renderAndCompile(ctx, s)
	if err != nil {
		return Result{}, err
	}

	if result.Success {
		if err := s.SetComplete(result.Product, result.Log); err != nil {
			return result, fmt.Errorf("render: commit success: %w", err)
		}
	} else {
		if err := s.SetErrored(result.Log); err != nil {
			return result, fmt.Errorf("render: commit failure: %w", err)
		}
	}
	return result, nil
}

func (r *Renderer) renderAndCompile(ctx context.Context, s *session.Session) (Result, error) {
	if !compilers[s.Compiler] {
		return Result{}, fmt.Errorf("render: compiler %q not supported", s.Compiler)
	}

	if err := r.expandTemplates(s); err != nil {
		return Result{Log: ""}, err
	}

	sourceDirPath := s.SourceFiles().Root

	jobname := s.Key
	logName := jobname + ".log"
	productName := jobname + ".pdf"

	for attempt := 0; attempt < maxCompileAttempts; attempt++ {
		if err := r.runWithTimeout(ctx, sourceDirPath, s.Compiler,
			"-interaction=nonstopmode", "-jobname="+jobname, s.Target); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				appendToLog(filepath.Join(sourceDirPath, logName),
					fmt.Sprintf("\ncompile attempt %d timed out after %s", attempt+1, r.ExecTimeout))
				return Result{Success: false, Log: logName}, nil
			}
			return Result{Log: logName}, fmt.Errorf("render: compile attempt %d: %w", attempt+1, err)
		}

		logBytes, err := os.ReadFile(filepath.Join(sourceDirPath, logName))
		if err != nil {
			// No log at all means the compiler never ran to completion;
			// treat as a failed attempt and stop retrying.
			break
		}
		if !strings.Contains(string(logBytes), "Rerun") {
			break
		}
	}

	productPath := filepath.Join(sourceDirPath, productName)
	if _, err := os.Stat(productPath); err != nil {
		return Result{Success: false, Log: logName}, nil
	}

	result := Result{Success: true, Product: productName, Log: logName}

	if s.Convert != nil {
		converted, err := r.rasterize(ctx, s, sourceDirPath, productName)
		if err != nil || !converted.ok {
			note := "\nconversion failed: "
			if err != nil {
				note += err.Error()
			} else {
				note += "rasterizer did not produce exactly one new file"
			}
			appendToLog(filepath.Join(sourceDirPath, logName), note)
			return Result{Success: false, Log: logName}, nil
		}
		result.Product = converted.path
	}

	return result, nil
}

func (r *Renderer) runWithTimeout(ctx context.Context, dir, name string, args ...string) error {
	if r.ExecTimeout <= 0 {
		return r.Runner.Run(ctx, dir, name, args...)
	}
	cctx, cancel := context.WithTimeout(ctx, r.ExecTimeout)
	defer cancel()
	return r.Runner.Run(cctx, dir, name, args...)
}

// expandTemplates implements step 2: parse every templates/*.json doc and
// write its expanded text to source/<target>.
func (r *Renderer) expandTemplates(s *session.Session) error {
	docs, err := s.Templates()
	if err != nil {
		return fmt.Errorf("render: read templates: %w", err)
	}
	for target, doc := range docs {
		expanded, err := Expand(doc.Text, doc.Data)
		if err != nil {
			return fmt.Errorf("render: expand template %s: %w", target, err)
		}
		if err := s.SourceFiles().WriteFile(target, []byte(expanded), 0o644); err != nil {
			return fmt.Errorf("render: write expanded %s: %w", target, err)
		}
	}
	return nil
}

type rasterizeResult struct {
	ok   bool
	path string // relative to source/
}

// rasterize implements step 4: snapshot source/, run pdftoppm, diff the
// listing, require exactly one new file.
func (r *Renderer) rasterize(ctx context.Context, s *session.Session, sourceDirPath, productName string) (rasterizeResult, error) {
	before, err := listDir(sourceDirPath)
	if err != nil {
		return rasterizeResult{}, fmt.Errorf("snapshot source dir: %w", err)
	}

	basename := strings.TrimSuffix(productName, filepath.Ext(productName))
	dpi := fmt.Sprintf("%d", s.Convert.DPI)
	if err := r.runWithTimeout(ctx, sourceDirPath, "pdftoppm",
		"-singlefile", "-"+s.Convert.Format, "-r", dpi, productName, basename); err != nil {
		return rasterizeResult{}, fmt.Errorf("run rasterizer: %w", err)
	}

	after, err := listDir(sourceDirPath)
	if err != nil {
		return rasterizeResult{}, fmt.Errorf("list source dir: %w", err)
	}

	var newFiles []string
	for name := range after {
		if !before[name] {
			newFiles = append(newFiles, name)
		}
	}
	if len(newFiles) != 1 {
		return rasterizeResult{ok: false}, nil
	}
	return rasterizeResult{ok: true, path: newFiles[0]}, nil
}

func listDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name()] = true
	}
	return out, nil
}

func appendToLog(path, note string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(note)
}
