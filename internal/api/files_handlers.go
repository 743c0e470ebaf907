package api

import (
	"fmt"
	"net/http"

	"github.com/p-arndt/texcompile/internal/session"
)

const maxUploadBytes = 64 * 1024 * 1024

func (s *Server) handleGetFiles(w http.ResponseWriter, r *http.Request) {
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
	files, err := sess.Files()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handlePostFiles accepts a multipart upload, writing every part under
// source/ at the path given by its field name (spec.md §6: "field name =
// destination path inside source/").
func (s *Server) handlePostFiles(w http.ResponseWriter, r *http.Request) {
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

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeValidationError(w, "invalid multipart body: "+err.Error())
		return
	}

	for fieldName, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeValidationError(w, "open upload part: "+err.Error())
				return
			}
			err = sess.SourceFiles().WriteFromReader(fieldName, f, 0o644)
			f.Close()
			if err != nil {
				writeAPIError(w, err)
				return
			}
		}
	}

	files, err := sess.Files()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, files)
}
