package api

import (
	"fmt"
	"net/http"

	"github.com/p-arndt/texcompile/internal/session"
)

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
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
	if sess.Product == "" {
		writeAPIError(w, fmt.Errorf("%w: no product available for session %s", session.ErrNotFound, id))
		return
	}
	http.ServeFile(w, r, sess.SourceFiles().AbsPath(sess.Product))
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
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
	if sess.Log == "" {
		writeAPIError(w, fmt.Errorf("%w: no log available for session %s", session.ErrNotFound, id))
		return
	}
	content, err := sess.SourceFiles().ReadFile(sess.Log)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
