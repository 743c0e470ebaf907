package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/p-arndt/texcompile/internal/session"
)

// createSessionRequest mirrors spec.md §6's POST /api/sessions body.
type createSessionRequest struct {
	Compiler string           `json:"compiler" validate:"required"`
	Target   string           `json:"target" validate:"required"`
	Convert  *session.Convert `json:"convert,omitempty"`
}

func (s *Server) handleAPIHome(w http.ResponseWriter, r *http.Request) {
	form := map[string]any{
		"create_session": map[string]any{
			"href":   "/api/sessions",
			"rel":    []string{"create-form"},
			"method": "POST",
			"value": []map[string]any{
				{"name": "compiler", "required": true, "label": "compiler, use 'xelatex', 'pdflatex', or 'lualatex'"},
				{"name": "target", "required": true, "label": "main target file to run through the compiler"},
			},
		},
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleSessionsRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api", http.StatusFound)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	sess, err := s.manager.CreateSession(r.Context(), req.Compiler, req.Target, req.Convert)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	view, err := sess.Public()
	if err != nil {
		writeAPIError(w, err)
		return
	}

	w.Header().Set("Location", "/api/sessions/"+sess.Key)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
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
	view, err := sess.Public()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// updateSessionRequest mirrors spec.md §6's POST /api/sessions/<id> body:
// finalize triggers the compile pipeline; convert may be set alongside it
// to request rasterization for a session created without one.
type updateSessionRequest struct {
	Finalize bool             `json:"finalize"`
	Convert  *session.Convert `json:"convert,omitempty"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
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

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}

	if req.Convert != nil {
		if !sess.IsEditable() {
			writeAPIError(w, session.ErrInvalidState)
			return
		}
		convert, err := s.manager.ValidateConversionData(req.Convert)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		sess.Convert = convert
		if err := s.manager.SaveSession(r.Context(), sess); err != nil {
			writeAPIError(w, err)
			return
		}
	}

	if !req.Finalize {
		view, err := sess.Public()
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if err := sess.Finalize(); err != nil {
		writeAPIError(w, err)
		return
	}

	key := sess.Key
	s.queue.Enqueue(func(ctx context.Context) {
		if _, err := s.renderer.Render(ctx, key); err != nil {
			s.logger.Error("render", "session_key", key, "error", err)
		}
	})

	view, err := sess.Public()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}
