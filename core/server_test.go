package core

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codechat/sandbox"
)

func newTestServer(t *testing.T, model *fakeModel, runner sandbox.Runner) *Server {
	t.Helper()

	config := testConfig()
	logger := newTestLogger()
	store := NewMemoryStore(time.Hour, time.Hour, logger)
	dispatcher := NewDispatcher(runner, config.ExecTimeout, false, logger)
	cancelManager := NewCancelManager()

	return &Server{
		store:         store,
		orchestrator:  NewOrchestrator(model, NewFencedBlockDetector(), dispatcher, cancelManager, config, logger),
		cancelManager: cancelManager,
		runner:        runner,
		uploadDir:     t.TempDir(),
		config:        config,
		logger:        logger,
	}
}

func postJSON(e *echo.Echo, target, body string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req, httptest.NewRecorder()
}

func TestHandleChatPlainAnswer(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"4"}}, &fakeRunner{})
	e := echo.New()

	req, rec := postJSON(e, "/chat", `{"message":"what is 2+2"}`)
	require.NoError(t, s.handleChat(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "human", resp.Messages[0].Type)
	assert.Equal(t, "ai", resp.Messages[1].Type)
	assert.Equal(t, "4", resp.Messages[1].Content)
	assert.Nil(t, resp.Messages[1].EnhancedOutput)
}

func TestHandleChatWithExecution(t *testing.T) {
	model := &fakeModel{responses: []string{"```python\nprint(2+2)\n```"}}
	runner := &fakeRunner{execution: &sandbox.Execution{Stdout: "4\n"}}
	s := newTestServer(t, model, runner)
	e := echo.New()

	req, rec := postJSON(e, "/chat", `{"message":"compute 2+2","sessionId":"abc"}`)
	require.NoError(t, s.handleChat(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.SessionID)
	require.Len(t, resp.Messages, 2)
	require.NotNil(t, resp.Messages[1].EnhancedOutput)
	assert.Equal(t, "4\n", resp.Messages[1].EnhancedOutput.Stdout)
	assert.Empty(t, resp.Messages[1].EnhancedOutput.Error)
}

func TestHandleChatMissingMessage(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"ok"}}, &fakeRunner{})
	e := echo.New()

	req, rec := postJSON(e, "/chat", `{}`)
	require.NoError(t, s.handleChat(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatModelFailure(t *testing.T) {
	s := newTestServer(t, &fakeModel{err: assert.AnError}, &fakeRunner{})
	e := echo.New()

	req, rec := postJSON(e, "/chat", `{"message":"hello"}`)
	require.NoError(t, s.handleChat(e.NewContext(req, rec)))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["error"])
}

func TestHandleClearSession(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"ok"}}, &fakeRunner{})
	e := echo.New()

	session := s.store.GetOrCreateSession("abc")
	session.AppendMessage(Message{Role: RoleHuman, Content: "hello"})

	req := httptest.NewRequest(http.MethodPost, "/sessions/abc/clear", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sessionId")
	c.SetParamValues("abc")

	require.NoError(t, s.handleClearSession(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClearResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Zero(t, session.MessageCount())
}

func TestHandleClearUnknownSessionSucceeds(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"ok"}}, &fakeRunner{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/sessions/never-seen/clear", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sessionId")
	c.SetParamValues("never-seen")

	require.NoError(t, s.handleClearSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUploadFiles(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"ok"}}, &fakeRunner{})
	e := echo.New()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", "data.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/sessions/abc/files", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sessionId")
	c.SetParamValues("abc")

	require.NoError(t, s.handleUploadFiles(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "data.csv", resp.Files[0].Name)
	assert.Equal(t, int64(8), resp.Files[0].Size)

	session, ok := s.store.GetSession("abc")
	require.True(t, ok)
	files := session.FileList()
	require.Len(t, files, 1)
	assert.Equal(t, "data.csv", files[0].Name)
}

func TestHandleStopWithoutInFlightTurn(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"ok"}}, &fakeRunner{})
	e := echo.New()

	req, rec := postJSON(e, "/stop", `{"sessionId":"abc"}`)
	require.NoError(t, s.handleStopTurn(e.NewContext(req, rec)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Stopped)
}

func TestHandleGetSessionNotFound(t *testing.T) {
	s := newTestServer(t, &fakeModel{responses: []string{"ok"}}, &fakeRunner{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("sessionId")
	c.SetParamValues("missing")

	require.NoError(t, s.handleGetSession(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
