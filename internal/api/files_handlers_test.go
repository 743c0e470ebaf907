package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUploadRequest(t *testing.T, fieldName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fieldName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/sessions/x/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandlePostFilesWritesUnderSource(t *testing.T) {
	s := newTestServer(t)
	sess := mustCreateSession(t, s)

	req := newUploadRequest(t, "main.tex", `\documentclass{article}`)
	req.SetPathValue("id", sess.Key)
	rec := httptest.NewRecorder()

	s.handlePostFiles(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var files []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&files))
	assert.Contains(t, files, "main.tex")
}

func TestHandlePostFilesRejectsWhenNotEditable(t *testing.T) {
	s := newTestServer(t)
	sess := mustCreateSession(t, s)
	require.NoError(t, sess.Finalize())

	req := newUploadRequest(t, "main.tex", `\documentclass{article}`)
	req.SetPathValue("id", sess.Key)
	rec := httptest.NewRecorder()

	s.handlePostFiles(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleGetFilesNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/sessions/missing/files", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	s.handleGetFiles(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
