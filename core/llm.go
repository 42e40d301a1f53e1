/*
Package core provides language-model integration for the codechat service.

This file constructs the model collaborator from configuration and wraps it
with response hygiene:
- Provider selection between OpenAI and Ollama
- Removal of thinking/reasoning tags that some models emit around their answer
- Logging of model interactions with truncated previews

The CleaningModel wrapper preserves fenced code blocks untouched so that tool
invocation detection downstream stays deterministic.
*/
package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel constructs the configured language-model collaborator, wrapped
// with response cleaning.
//
// Parameters:
//   - config: Application configuration selecting and parameterizing the provider
//   - logger: Logger instance for monitoring model interactions
//
// Returns:
//   - llms.Model: Ready-to-use model collaborator
//   - error: Configuration or provider initialization failure
func NewModel(config *Config, logger *logrus.Logger) (llms.Model, error) {
	var model llms.Model
	var err error

	switch config.LLMProvider {
	case "openai":
		logger.WithField("model", config.OpenAIModel).Info("Initializing OpenAI model")

		if config.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai API key is required when using the openai provider. Set OPENAI_API_KEY environment variable")
		}

		model, err = openai.New(
			openai.WithToken(config.OpenAIAPIKey),
			openai.WithModel(config.OpenAIModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI model: %w", err)
		}

	case "ollama":
		logger.WithFields(logrus.Fields{
			"endpoint": config.OllamaEndpoint,
			"model":    config.OllamaModel,
		}).Info("Initializing Ollama model")

		model, err = ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", config.LLMProvider)
	}

	return NewCleaningModel(model, config, logger), nil
}

// CleaningModel is a model wrapper that sanitizes responses before they reach
// the turn orchestration. It acts as a middleware layer between the
// orchestrator and the underlying model, stripping reasoning tags while
// leaving the answer text, including any fenced code blocks, intact.
type CleaningModel struct {
	wrapped llms.Model     // The underlying model implementation
	config  *Config        // Application configuration for behavior control
	logger  *logrus.Logger // Structured logger for monitoring and debugging
}

// NewCleaningModel creates a new instance of the cleaning model wrapper.
func NewCleaningModel(model llms.Model, config *Config, logger *logrus.Logger) *CleaningModel {
	return &CleaningModel{
		wrapped: model,
		config:  config,
		logger:  logger,
	}
}

var (
	thinkTagPattern     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkPattern    = regexp.MustCompile(`(?is)<think>.*`)
	reasoningTagPattern = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
)

// truncateForLog truncates text to a configurable length for logging purposes.
func (m *CleaningModel) truncateForLog(text string) string {
	if len(text) <= m.config.LogTruncateLength {
		return text
	}
	return text[:m.config.LogTruncateLength] + "..."
}

// cleanResponse removes thinking and reasoning tags from a model response.
// Nothing else is rewritten: whitespace inside the remaining text is kept so
// code blocks survive byte-for-byte, and only the outer edges are trimmed.
func (m *CleaningModel) cleanResponse(response string) string {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")
	cleaned = openThinkPattern.ReplaceAllString(cleaned, "")
	cleaned = reasoningTagPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// GenerateContent implements the langchaingo model interface.
// It forwards to the underlying model and cleans every returned choice.
func (m *CleaningModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	response, err := m.wrapped.GenerateContent(ctx, messages, options...)
	if err != nil {
		return response, err
	}

	if response != nil {
		for i := range response.Choices {
			original := response.Choices[i].Content
			cleaned := m.cleanResponse(original)
			response.Choices[i].Content = cleaned

			if len(original) != len(cleaned) {
				m.logger.WithFields(logrus.Fields{
					"originalLength":  len(original),
					"cleanedLength":   len(cleaned),
					"originalPreview": m.truncateForLog(original),
				}).Debug("Cleaned model response content")
			}
		}
	}

	return response, nil
}

// Call implements the langchaingo model interface for simple string calls.
func (m *CleaningModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	response, err := m.wrapped.Call(ctx, prompt, options...)
	if err != nil {
		return response, err
	}
	return m.cleanResponse(response), nil
}
