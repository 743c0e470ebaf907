package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/texcompile/internal/session"
)

func TestHandleCreateSession(t *testing.T) {
	s := newTestServer(t)

	body := `{"compiler":"xelatex","target":"main.tex"}`
	req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCreateSession(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var view session.PublicView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.NotEmpty(t, view.Key)
	assert.Equal(t, session.StatusEditable, view.Status)
}

func TestHandleCreateSessionRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(`{"compiler":"xelatex"}`))
	rec := httptest.NewRecorder()

	s.handleCreateSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateSessionRejectsUnknownCompiler(t *testing.T) {
	s := newTestServer(t)

	body := `{"compiler":"notex","target":"main.tex"}`
	req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCreateSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetSession(t *testing.T) {
	s := newTestServer(t)
	sess := mustCreateSession(t, s)

	req := httptest.NewRequest("GET", "/api/sessions/"+sess.Key, nil)
	req.SetPathValue("id", sess.Key)
	rec := httptest.NewRecorder()

	s.handleGetSession(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetSessionNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/sessions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	s.handleGetSession(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateSessionFinalizeEnqueuesRender(t *testing.T) {
	s := newTestServer(t)
	sess := mustCreateSession(t, s)

	req := httptest.NewRequest("POST", "/api/sessions/"+sess.Key, strings.NewReader(`{"finalize":true}`))
	req.SetPathValue("id", sess.Key)
	rec := httptest.NewRecorder()

	s.handleUpdateSession(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var view session.PublicView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, session.StatusFinalized, view.Status)

	// The enqueued render job moves the session out of finalized; with
	// noopCompiler no product appears, so it ends in error.
	require.Eventually(t, func() bool {
		loaded, found, err := s.manager.LoadSession(context.Background(), sess.Key)
		return err == nil && found && loaded.Status == session.StatusError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleUpdateSessionSetsConvertWithoutFinalizing(t *testing.T) {
	s := newTestServer(t)
	sess := mustCreateSession(t, s)

	req := httptest.NewRequest("POST", "/api/sessions/"+sess.Key, strings.NewReader(`{"convert":{"format":"png","dpi":150}}`))
	req.SetPathValue("id", sess.Key)
	rec := httptest.NewRecorder()

	s.handleUpdateSession(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var view session.PublicView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.NotNil(t, view.Convert)
	assert.Equal(t, "png", view.Convert.Format)
	assert.Equal(t, session.StatusEditable, view.Status)
}

func TestHandleUpdateSessionRejectsBadConvert(t *testing.T) {
	s := newTestServer(t)
	sess := mustCreateSession(t, s)

	req := httptest.NewRequest("POST", "/api/sessions/"+sess.Key, strings.NewReader(`{"convert":{"format":"bmp","dpi":150}}`))
	req.SetPathValue("id", sess.Key)
	rec := httptest.NewRecorder()

	s.handleUpdateSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
