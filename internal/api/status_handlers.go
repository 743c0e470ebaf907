package api

import (
	"net/http"

	"github.com/p-arndt/texcompile/internal/session"
)

type statusResponse struct {
	Time     float64                `json:"time"`
	Sessions map[session.Status]int `json:"sessions"`
}

// handleStatus tallies sessions by status, per spec.md §6. This is O(N) in
// the number of live sessions — the Design Notes call this out and accept
// it, since status is an operator-facing diagnostic, not a hot path.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := s.manager.GetAllSessionIDs(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}

	counts := make(map[session.Status]int)
	for _, id := range ids {
		sess, found, err := s.manager.LoadSession(r.Context(), id)
		if err != nil || !found {
			continue
		}
		counts[sess.Status]++
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Time:     s.clk.Now(),
		Sessions: counts,
	})
}
