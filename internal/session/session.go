// Package session implements the Session state machine and the
// SessionManager that creates, loads, saves, and deletes sessions, per
// spec.md §§3-4.4-4.5. It follows the shape of
// original_source/latex/session.py closely: a Session value object wired to
// a save-callback for write visibility, and a SessionManager that owns the
// working directory and the MetaStore-backed per-instance key set.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/p-arndt/texcompile/internal/sandbox"
)

// Status is the session lifecycle state. Transitions are monotone:
// editable -> finalized -> (success | error).
type Status string

const (
	StatusEditable  Status = "editable"
	StatusFinalized Status = "finalized"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Convert is the optional rasterization spec.
type Convert struct {
	Format string `json:"format"`
	DPI    int    `json:"dpi"`
}

// Record is the full, serializable session record, including the fields
// (Product, Log) that are only ever set by the Renderer.
type Record struct {
	Key       string   `json:"key"`
	Compiler  string   `json:"compiler"`
	Target    string   `json:"target"`
	Created   float64  `json:"created"`
	ExpiresAt float64  `json:"expires_at"`
	Status    Status   `json:"status"`
	Convert   *Convert `json:"convert,omitempty"`
	Product   string   `json:"product,omitempty"`
	Log       string   `json:"log,omitempty"`
}

// TemplateDoc is the on-disk representation of one templates/*.json file.
type TemplateDoc struct {
	Target string         `json:"target"`
	Text   string         `json:"text"`
	Data   map[string]any `json:"data"`
}

// PublicView is the stable JSON-shaped view of non-secret fields returned
// over the HTTP API. It carries no product or log path and no links to
// them; those files are served only by the session's /product and /log
// endpoints.
type PublicView struct {
	Key       string                 `json:"key"`
	Created   float64                `json:"created"`
	ExpiresAt float64                `json:"expires_at"`
	Compiler  string                 `json:"compiler"`
	Target    string                 `json:"target"`
	Files     []string               `json:"files"`
	Templates map[string]TemplateDoc `json:"templates"`
	Convert   *Convert               `json:"convert,omitempty"`
	Status    Status                 `json:"status"`
}

const (
	sourceDir    = "source"
	templateDir  = "templates"
)

// Session is a single compilation/rendering task: its metadata, plus a
// sandboxed handle onto its source/ and templates/ subdirectories.
type Session struct {
	Record

	fs            *sandbox.FS
	sourceFiles   *sandbox.FS
	templateFiles *sandbox.FS
	save          func(*Session) error
}

// newSession wires a Record to its on-disk working directory, creating
// source/ and templates/ if they don't exist yet (matching the Python
// Session.__init__'s eager makedirs).
func newSession(rec Record, fs *sandbox.FS, save func(*Session) error) (*Session, error) {
	if !fs.Exists(sourceDir) {
		if err := fs.Makedirs(sourceDir); err != nil {
			return nil, fmt.Errorf("session: create source dir: %w", err)
		}
	}
	if !fs.Exists(templateDir) {
		if err := fs.Makedirs(templateDir); err != nil {
			return nil, fmt.Errorf("session: create templates dir: %w", err)
		}
	}
	src, err := fs.CreateFrom(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("session: root source fs: %w", err)
	}
	tmpl, err := fs.CreateFrom(templateDir)
	if err != nil {
		return nil, fmt.Errorf("session: root templates fs: %w", err)
	}
	return &Session{
		Record:        rec,
		fs:            fs,
		sourceFiles:   src,
		templateFiles: tmpl,
		save:          save,
	}, nil
}

// SourceFiles returns the sandboxed handle onto source/.
func (s *Session) SourceFiles() *sandbox.FS { return s.sourceFiles }

// TemplateFiles returns the sandboxed handle onto templates/.
func (s *Session) TemplateFiles() *sandbox.FS { return s.templateFiles }

// IsEditable reports whether client-facing mutations are still allowed.
func (s *Session) IsEditable() bool { return s.Status == StatusEditable }

// Files lists every file under source/, relative to it, depth-first.
func (s *Session) Files() ([]string, error) {
	files, err := s.sourceFiles.GetAllFiles(".")
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}

// Templates reconstructs the target->document mapping by reading every
// file under templates/, matching Session.templates in the original.
func (s *Session) Templates() (map[string]TemplateDoc, error) {
	names, err := s.templateFiles.GetAllFiles(".")
	if err != nil {
		return nil, err
	}
	out := make(map[string]TemplateDoc)
	for _, name := range names {
		data, err := s.templateFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("session: read template %s: %w", name, err)
		}
		var doc TemplateDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("session: parse template %s: %w", name, err)
		}
		if doc.Target != "" {
			out[doc.Target] = doc
		}
	}
	return out, nil
}

// Public builds the stable client-facing view.
func (s *Session) Public() (PublicView, error) {
	files, err := s.Files()
	if err != nil {
		return PublicView{}, err
	}
	templates, err := s.Templates()
	if err != nil {
		return PublicView{}, err
	}
	return PublicView{
		Key:       s.Key,
		Created:   s.Created,
		ExpiresAt: s.ExpiresAt,
		Compiler:  s.Compiler,
		Target:    s.Target,
		Files:     files,
		Templates: templates,
		Convert:   s.Convert,
		Status:    s.Status,
	}, nil
}

// Finalize transitions editable -> finalized. Requires status == editable.
func (s *Session) Finalize() error {
	if s.Status != StatusEditable {
		return fmt.Errorf("%w: session is %s, not editable", ErrInvalidState, s.Status)
	}
	s.Status = StatusFinalized
	return s.save(s)
}

// SetComplete transitions finalized -> success, recording the product and
// log paths. Requires status == finalized.
func (s *Session) SetComplete(product, log string) error {
	if s.Status != StatusFinalized {
		return fmt.Errorf("%w: session is %s, not finalized", ErrInvalidState, s.Status)
	}
	s.Product = product
	s.Log = log
	s.Status = StatusSuccess
	return s.save(s)
}

// SetErrored transitions finalized -> error, recording the log path.
// Requires status == finalized.
func (s *Session) SetErrored(log string) error {
	if s.Status != StatusFinalized {
		return fmt.Errorf("%w: session is %s, not finalized", ErrInvalidState, s.Status)
	}
	s.Log = log
	s.Status = StatusError
	return s.save(s)
}
