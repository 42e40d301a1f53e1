/*
Package core provides configuration management and logging initialization
for the codechat service.

This file handles:
- Loading configuration from environment variables with sensible defaults
- Structured logging setup with configurable levels and formats
- Model, sandbox, and session management parameters
- Turn orchestration behavior controls

The configuration system follows the twelve-factor app methodology by
prioritizing environment variables for deployment flexibility while
providing reasonable defaults for development.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all configurable values for the codechat service.
// This structure centralizes server settings, model provider configuration,
// sandbox execution limits, and session management behavior.
type Config struct {
	// Server configuration
	Port string // HTTP server port number (default: "8080")

	// Model provider configuration
	LLMProvider    string        // Model provider to use: "openai" or "ollama" (default: "openai")
	OpenAIAPIKey   string        // API key for OpenAI (required when using the openai provider)
	OpenAIModel    string        // OpenAI model name (default: "gpt-3.5-turbo-0125")
	OllamaEndpoint string        // Base URL for the Ollama API service (default: "http://localhost:11434")
	OllamaModel    string        // Ollama model name (default: "qwen3")
	ModelTimeout   time.Duration // Timeout for a single model call (default: 120s)

	// Sandbox execution configuration
	SandboxBackend        string        // Execution backend: "local" or "http" (default: "local")
	SandboxEndpoint       string        // Execute endpoint of the remote sandbox (http backend only)
	SandboxRetryTransport bool          // Retry once on transport-level sandbox failures, never on code errors (default: false)
	PythonBin             string        // Interpreter binary for the local backend (default: "python3")
	ExecTimeout           time.Duration // Maximum duration for one code execution (default: 60s)

	// Turn orchestration configuration
	MaxToolRounds    int  // Model/tool round limit per turn; 1 disables result feedback (default: 1)
	CombineToolReply bool // Attach the execution result to the model's explanatory message instead of a separate one (default: true)
	ContextLimit     int  // Maximum number of history messages sent to the model (default: 20)

	// Session management configuration
	SessionMaxAge   time.Duration // How long idle sessions stay in memory (default: 24h)
	CleanupInterval time.Duration // How often to evict expired sessions (default: 1h)
	UploadDir       string        // Directory for uploaded file bytes (empty: a temp dir is created at startup)

	// Logging configuration
	LogLevel          string // Minimum log level: debug, info, warn, error (default: "info")
	LogTruncateLength int    // Maximum length for logged content previews (default: 500)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// Defaults are set first and overridden by environment variables when present;
// numeric values are validated so malformed input falls back to the default.
//
// Environment Variables:
//   - PORT: Server port (string)
//   - LLM_PROVIDER: Model provider: "openai" or "ollama" (string)
//   - OPENAI_API_KEY: OpenAI API key (string)
//   - OPENAI_MODEL: OpenAI model name (string)
//   - OLLAMA_ENDPOINT: Ollama API endpoint URL (string)
//   - OLLAMA_MODEL: Ollama model name (string)
//   - MODEL_TIMEOUT: Model call timeout in seconds (integer)
//   - SANDBOX_BACKEND: Execution backend: "local" or "http" (string)
//   - SANDBOX_ENDPOINT: Remote sandbox execute endpoint (string)
//   - SANDBOX_RETRY_TRANSPORT: Retry transport failures once (boolean: "true"/"1")
//   - PYTHON_BIN: Local interpreter binary (string)
//   - EXEC_TIMEOUT: Code execution timeout in seconds (integer)
//   - MAX_TOOL_ROUNDS: Model/tool rounds per turn (integer)
//   - COMBINE_TOOL_REPLY: One combined assistant message per turn (boolean)
//   - CONTEXT_LIMIT: Maximum context messages (integer)
//   - SESSION_MAX_AGE_HOURS: Session expiry in hours (integer)
//   - CLEANUP_INTERVAL_MINUTES: Cleanup frequency in minutes (integer)
//   - UPLOAD_DIR: Upload storage directory (string)
//   - LOG_LEVEL: Logging level (string)
//   - LOG_TRUNCATE_LENGTH: Log truncation length (integer)
func LoadConfig() *Config {
	config := &Config{
		// Server defaults
		Port: "8080",

		// Model provider defaults
		LLMProvider:    "openai",
		OpenAIAPIKey:   "", // Must be provided via environment variable
		OpenAIModel:    "gpt-3.5-turbo-0125",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen3",
		ModelTimeout:   120 * time.Second,

		// Sandbox defaults
		SandboxBackend:        "local",
		SandboxEndpoint:       "",
		SandboxRetryTransport: false,
		PythonBin:             "python3",
		ExecTimeout:           60 * time.Second,

		// Orchestration defaults
		MaxToolRounds:    1,
		CombineToolReply: true,
		ContextLimit:     20,

		// Session management defaults
		SessionMaxAge:   24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		UploadDir:       "",

		// Logging defaults
		LogLevel:          "info",
		LogTruncateLength: 500,
	}

	// Server configuration
	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	// Model provider configuration
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		if provider == "openai" || provider == "ollama" {
			config.LLMProvider = provider
		}
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAIAPIKey = apiKey
	}

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.OpenAIModel = model
	}

	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		config.OllamaEndpoint = endpoint
	}

	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		config.OllamaModel = model
	}

	if timeout := os.Getenv("MODEL_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.ModelTimeout = time.Duration(val) * time.Second
		}
	}

	// Sandbox configuration
	if backend := os.Getenv("SANDBOX_BACKEND"); backend != "" {
		if backend == "local" || backend == "http" {
			config.SandboxBackend = backend
		}
	}

	if endpoint := os.Getenv("SANDBOX_ENDPOINT"); endpoint != "" {
		config.SandboxEndpoint = endpoint
	}

	if retry := os.Getenv("SANDBOX_RETRY_TRANSPORT"); retry != "" {
		config.SandboxRetryTransport = strings.ToLower(retry) == "true" || retry == "1"
	}

	if bin := os.Getenv("PYTHON_BIN"); bin != "" {
		config.PythonBin = bin
	}

	if timeout := os.Getenv("EXEC_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.ExecTimeout = time.Duration(val) * time.Second
		}
	}

	// Orchestration configuration
	if rounds := os.Getenv("MAX_TOOL_ROUNDS"); rounds != "" {
		if val, err := strconv.Atoi(rounds); err == nil && val > 0 {
			config.MaxToolRounds = val
		}
	}

	if combine := os.Getenv("COMBINE_TOOL_REPLY"); combine != "" {
		config.CombineToolReply = strings.ToLower(combine) == "true" || combine == "1"
	}

	if contextLimit := os.Getenv("CONTEXT_LIMIT"); contextLimit != "" {
		if val, err := strconv.Atoi(contextLimit); err == nil && val > 0 {
			config.ContextLimit = val
		}
	}

	// Session management configuration
	if sessionMaxAge := os.Getenv("SESSION_MAX_AGE_HOURS"); sessionMaxAge != "" {
		if val, err := strconv.Atoi(sessionMaxAge); err == nil && val > 0 {
			config.SessionMaxAge = time.Duration(val) * time.Hour
		}
	}

	if cleanupInterval := os.Getenv("CLEANUP_INTERVAL_MINUTES"); cleanupInterval != "" {
		if val, err := strconv.Atoi(cleanupInterval); err == nil && val > 0 {
			config.CleanupInterval = time.Duration(val) * time.Minute
		}
	}

	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		config.UploadDir = dir
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}

	if truncateLen := os.Getenv("LOG_TRUNCATE_LENGTH"); truncateLen != "" {
		if val, err := strconv.Atoi(truncateLen); err == nil && val > 0 {
			config.LogTruncateLength = val
		}
	}

	// The http backend is unusable without an endpoint; fall back early so the
	// server fails in an obvious place rather than on the first dispatch.
	if config.SandboxBackend == "http" && config.SandboxEndpoint == "" {
		config.SandboxBackend = "local"
	}

	return config
}

// InitializeLogger configures and returns a structured logger based on the provided configuration.
// The logger uses JSON formatting for structured logging, which is ideal for production
// environments, log aggregation, and automated log processing.
//
// Parameters:
//   - config: Configuration object containing logging preferences
//
// Returns:
//   - *logrus.Logger: Configured logger instance ready for use
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	// Log the loaded configuration for operational visibility.
	logger.WithFields(logrus.Fields{
		"llmProvider":      config.LLMProvider,
		"openaiModel":      config.OpenAIModel,
		"ollamaEndpoint":   config.OllamaEndpoint,
		"ollamaModel":      config.OllamaModel,
		"modelTimeout":     config.ModelTimeout,
		"sandboxBackend":   config.SandboxBackend,
		"execTimeout":      config.ExecTimeout,
		"maxToolRounds":    config.MaxToolRounds,
		"combineToolReply": config.CombineToolReply,
		"contextLimit":     config.ContextLimit,
		"sessionMaxAge":    config.SessionMaxAge,
		"cleanupInterval":  config.CleanupInterval,
	}).Info("Configuration loaded")

	return logger
}
