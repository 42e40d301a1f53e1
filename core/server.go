package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"codechat/sandbox"
)

type Server struct {
	store         *MemoryStore
	orchestrator  *Orchestrator
	cancelManager *CancelManager
	runner        sandbox.Runner
	uploadDir     string
	config        *Config
	logger        *logrus.Logger
}

// NewServer creates a new server instance with all dependencies initialized
func NewServer(config *Config, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	// Initialize session store
	store := NewMemoryStore(config.SessionMaxAge, config.CleanupInterval, logger)
	logger.WithField("sessionMaxAge", config.SessionMaxAge).Info("Session store initialized with configurable expiry")

	// Initialize model collaborator based on configured provider
	model, err := NewModel(config, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize model")
		return nil, err
	}
	logger.WithField("provider", config.LLMProvider).Info("Model initialized")

	// Initialize sandbox backend
	var runner sandbox.Runner
	switch config.SandboxBackend {
	case "http":
		runner = sandbox.NewHTTPRunner(config.SandboxEndpoint, nil)
		logger.WithField("endpoint", config.SandboxEndpoint).Info("Remote sandbox backend initialized")
	default:
		runner, err = sandbox.NewLocalRunner(config.PythonBin, "", logger)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize local sandbox")
			return nil, err
		}
		logger.WithField("pythonBin", config.PythonBin).Info("Local sandbox backend initialized")
	}

	dispatcher := NewDispatcher(runner, config.ExecTimeout, config.SandboxRetryTransport, logger)
	cancelManager := NewCancelManager()
	orchestrator := NewOrchestrator(model, NewFencedBlockDetector(), dispatcher, cancelManager, config, logger)

	// Resolve the upload directory
	uploadDir := config.UploadDir
	if uploadDir == "" {
		uploadDir, err = os.MkdirTemp("", "codechat-uploads-")
		if err != nil {
			logger.WithError(err).Error("Failed to create upload directory")
			return nil, fmt.Errorf("failed to create upload directory: %w", err)
		}
	} else if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		logger.WithError(err).Error("Failed to create upload directory")
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	logger.WithField("uploadDir", uploadDir).Info("Upload directory ready")

	logger.Info("Server initialization completed successfully")
	return &Server{
		store:         store,
		orchestrator:  orchestrator,
		cancelManager: cancelManager,
		runner:        runner,
		uploadDir:     uploadDir,
		config:        config,
		logger:        logger,
	}, nil
}

func (s *Server) handleChat(c echo.Context) error {
	requestID := c.Request().Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}

	requestLogger := s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  "/chat",
		"method":    "POST",
		"clientIP":  c.RealIP(),
	})

	requestLogger.Info("Received chat request")

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Message == "" {
		requestLogger.Warn("Empty message in chat request")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing 'message' field"})
	}

	session := s.store.GetOrCreateSession(req.SessionID)

	requestLogger.WithFields(logrus.Fields{
		"sessionID":     session.ID,
		"messageLength": len(req.Message),
		"messageCount":  session.MessageCount(),
	}).Debug("Chat request details with session info")

	// The orchestrator registers the turn for /stop cancellation once it
	// holds the session turn lock.
	startTime := time.Now()
	appended, err := s.orchestrator.RunTurn(c.Request().Context(), session, req.Message)
	turnTime := time.Since(startTime)

	if err != nil {
		requestLogger.WithError(err).WithFields(logrus.Fields{
			"sessionID": session.ID,
			"turnTime":  turnTime,
		}).Error("Turn execution failed")

		if errors.Is(err, context.Canceled) {
			return c.JSON(http.StatusOK, map[string]string{"error": "turn was stopped"})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	requestLogger.WithFields(logrus.Fields{
		"sessionID":        session.ID,
		"turnTime":         turnTime,
		"appendedMessages": len(appended),
		"messageCount":     session.MessageCount(),
	}).Info("Turn completed successfully")

	return c.JSON(http.StatusOK, ChatResponse{
		SessionID: session.ID,
		Messages:  messageViews(appended),
	})
}

// handleClearSession resets a session's history and uploaded-file metadata.
// Resetting an unknown session is a no-op success.
func (s *Server) handleClearSession(c echo.Context) error {
	sessionID := c.Param("sessionId")

	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint":  "/sessions/:sessionId/clear",
		"method":    "POST",
		"sessionID": sessionID,
		"clientIP":  c.RealIP(),
	})

	if sessionID == "" {
		requestLogger.Warn("Session ID not provided for clearing")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Session ID required"})
	}

	s.store.ResetSession(sessionID)

	requestLogger.Info("Session cleared successfully")
	return c.JSON(http.StatusOK, ClearResponse{Success: true})
}

// handleUploadFiles stores uploaded file bytes and registers their metadata
// on the session. Registration is best-effort: the response lists the files
// actually stored.
func (s *Server) handleUploadFiles(c echo.Context) error {
	sessionID := c.Param("sessionId")

	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint":  "/sessions/:sessionId/files",
		"method":    "POST",
		"sessionID": sessionID,
		"clientIP":  c.RealIP(),
	})

	if sessionID == "" {
		requestLogger.Warn("Session ID not provided for upload")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Session ID required"})
	}

	form, err := c.MultipartForm()
	if err != nil {
		requestLogger.WithError(err).Error("Failed to parse multipart form")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid multipart form"})
	}

	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		requestLogger.Warn("No files in upload request")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No files provided"})
	}

	sessionDir := filepath.Join(s.uploadDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		requestLogger.WithError(err).Error("Failed to create session upload directory")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Upload storage unavailable"})
	}

	stored := make([]UploadedFileView, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		name := filepath.Base(header.Filename)
		dst := filepath.Join(sessionDir, name)

		size, err := saveUpload(header, dst)
		if err != nil {
			requestLogger.WithError(err).WithField("fileName", name).Warn("Failed to store uploaded file")
			continue
		}

		s.store.RegisterUpload(sessionID, FileRef{Name: name, Size: size, Path: dst})
		stored = append(stored, UploadedFileView{Name: name, Size: size})
	}

	requestLogger.WithFields(logrus.Fields{
		"requestedFiles": len(fileHeaders),
		"storedFiles":    len(stored),
	}).Info("File upload processed")

	return c.JSON(http.StatusOK, UploadResponse{
		Success: len(stored) > 0,
		Files:   stored,
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sessionID := c.Param("sessionId")

	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint":  "/sessions/:sessionId",
		"method":    "GET",
		"sessionID": sessionID,
		"clientIP":  c.RealIP(),
	})

	if sessionID == "" {
		requestLogger.Warn("Session ID not provided")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Session ID required"})
	}

	session, exists := s.store.GetSession(sessionID)
	if !exists {
		requestLogger.Warn("Session not found")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}

	messages, files, created, updated := session.Snapshot()
	fileViews := make([]UploadedFileView, 0, len(files))
	for _, ref := range files {
		fileViews = append(fileViews, UploadedFileView{Name: ref.Name, Size: ref.Size})
	}

	requestLogger.WithField("messageCount", len(messages)).Info("Session information retrieved")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":           session.ID,
		"created":      created,
		"updated":      updated,
		"messageCount": len(messages),
		"messages":     messageViews(messages),
		"files":        fileViews,
	})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	sessionID := c.Param("sessionId")

	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint":  "/sessions/:sessionId",
		"method":    "DELETE",
		"sessionID": sessionID,
		"clientIP":  c.RealIP(),
	})

	if sessionID == "" {
		requestLogger.Warn("Session ID not provided for deletion")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Session ID required"})
	}

	if !s.store.DeleteSession(sessionID) {
		requestLogger.Warn("Session not found for deletion")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}

	requestLogger.Info("Session deleted successfully")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":   "Session deleted successfully",
		"sessionId": sessionID,
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/sessions",
		"method":   "GET",
		"clientIP": c.RealIP(),
	})

	sessions := s.store.GetAllSessions()
	summaries := make([]map[string]interface{}, 0, len(sessions))
	for _, session := range sessions {
		messages, files, created, updated := session.Snapshot()
		summaries = append(summaries, map[string]interface{}{
			"id":           session.ID,
			"created":      created,
			"updated":      updated,
			"messageCount": len(messages),
			"fileCount":    len(files),
		})
	}

	requestLogger.WithField("sessionCount", len(summaries)).Info("Sessions listed successfully")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": summaries,
	})
}

func (s *Server) handleStopTurn(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/stop",
		"method":   "POST",
		"clientIP": c.RealIP(),
	})

	requestLogger.Info("Received stop turn request")

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse stop request body")
		return c.JSON(http.StatusBadRequest, StopResponse{
			Success: false,
			Message: "Invalid request format",
			Stopped: false,
		})
	}

	if req.SessionID == "" {
		requestLogger.Error("Empty session ID in stop request")
		return c.JSON(http.StatusBadRequest, StopResponse{
			Success: false,
			Message: "Session ID is required",
			Stopped: false,
		})
	}

	stopped := s.cancelManager.CancelTurn(req.SessionID)
	if stopped {
		requestLogger.WithField("sessionID", req.SessionID).Info("Turn stopped successfully")
		return c.JSON(http.StatusOK, StopResponse{
			Success: true,
			Message: "Turn stopped successfully",
			Stopped: true,
		})
	}

	requestLogger.WithField("sessionID", req.SessionID).Warn("No in-flight turn for session")
	return c.JSON(http.StatusNotFound, StopResponse{
		Success: false,
		Message: "No in-flight turn for session",
		Stopped: false,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/status",
		"method":   "GET",
		"clientIP": c.RealIP(),
	})

	requestLogger.Debug("Health check requested")

	memoryStats := s.store.GetSessionStats()
	activeTurns := s.cancelManager.ActiveTurns()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"memory":      memoryStats,
		"activeTurns": activeTurns,
		"turnCount":   len(activeTurns),
	})
}

// Close releases resources held by the server's collaborators.
func (s *Server) Close() error {
	return s.runner.Close()
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	// Conversation routes
	e.POST("/chat", s.handleChat)
	e.POST("/stop", s.handleStopTurn)
	e.GET("/status", s.handleStatus)

	// Session management routes
	e.GET("/sessions", s.handleListSessions)
	e.GET("/sessions/:sessionId", s.handleGetSession)
	e.POST("/sessions/:sessionId/clear", s.handleClearSession)
	e.POST("/sessions/:sessionId/files", s.handleUploadFiles)
	e.DELETE("/sessions/:sessionId", s.handleDeleteSession)

	s.logger.Info("Routes registered successfully")
}

// saveUpload writes one multipart file to dst and returns the byte count.
func saveUpload(header *multipart.FileHeader, dst string) (int64, error) {
	src, err := header.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	size, err := io.Copy(out, src)
	if err != nil {
		return 0, err
	}
	return size, out.Close()
}
