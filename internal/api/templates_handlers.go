package api

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/p-arndt/texcompile/internal/session"
)

// createTemplateRequest mirrors spec.md §6's POST .../templates body.
type createTemplateRequest struct {
	Target string         `json:"target" validate:"required"`
	Text   string         `json:"text" validate:"required"`
	Data   map[string]any `json:"data,omitempty"`
}

func (s *Server) handleGetTemplates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, found, err := s.manager.LoadSession(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if !found {
		writeAPIError(w, session.ErrNotFound)
		return
	}
	templates, err := sess.Templates()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// handlePostTemplate stores one template document under templates/, named
// by the hex of MD5(target) per spec.md §6's on-disk layout note, so that
// re-posting the same target overwrites rather than accumulates.
func (s *Server) handlePostTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, found, err := s.manager.LoadSession(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if !found {
		writeAPIError(w, session.ErrNotFound)
		return
	}
	if !sess.IsEditable() {
		writeAPIError(w, fmt.Errorf("%w: session is not editable", session.ErrInvalidState))
		return
	}

	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	doc := session.TemplateDoc{Target: req.Target, Text: req.Text, Data: req.Data}
	raw, err := json.Marshal(doc)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	sum := md5.Sum([]byte(req.Target))
	name := hex.EncodeToString(sum[:]) + ".json"
	if err := sess.TemplateFiles().WriteFile(name, raw, 0o644); err != nil {
		writeAPIError(w, err)
		return
	}

	templates, err := sess.Templates()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, templates)
}
