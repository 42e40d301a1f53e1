/*
Package core provides the per-turn conversation orchestration for the codechat
service.

This file implements the turn state machine. A turn starts when a human prompt
arrives and ends when the session history holds the assistant reply(ies) for
it. The orchestrator calls the model collaborator with the session history,
runs invocation detection on the response, dispatches extracted code to the
sandbox, and appends the resulting messages.

Turns on the same session are strictly sequential: the session turn lock is
held for the whole turn, so a concurrent request for the same session blocks
until the in-flight turn completes. Turns on different sessions run in
parallel; no cross-session lock is held across the model or sandbox calls.
*/
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// turnState names the phases of one turn. The states and their transitions
// are the contract; the switch below is just one way to realize them.
type turnState int

const (
	stateAwaitingModel turnState = iota
	stateModelResponded
	stateDispatchingTool
	stateDone
)

func (s turnState) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting_model"
	case stateModelResponded:
		return "model_responded"
	case stateDispatchingTool:
		return "dispatching_tool"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Orchestrator drives one turn from prompt to final assistant message,
// coordinating the model collaborator, the invocation detector and the
// execution dispatcher.
type Orchestrator struct {
	model      llms.Model
	detector   Detector
	dispatcher *Dispatcher
	cancels    *CancelManager
	config     *Config
	logger     *logrus.Logger
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(model llms.Model, detector Detector, dispatcher *Dispatcher, cancels *CancelManager, config *Config, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		model:      model,
		detector:   detector,
		dispatcher: dispatcher,
		cancels:    cancels,
		config:     config,
		logger:     logger,
	}
}

// RunTurn processes one turn for the session and returns the messages it
// appended, the human prompt included.
//
// Failure semantics: a model failure on the first round aborts the turn,
// rolls history back to just the human message, and returns the error. A code
// failure inside the sandbox is not a turn failure; it is recorded on the
// assistant message and the turn completes normally. When result feedback is
// enabled (MaxToolRounds > 1), collaborator failures in later rounds end the
// turn with the messages already produced rather than discarding them.
func (o *Orchestrator) RunTurn(ctx context.Context, session *ChatSession, prompt string) (appended []Message, err error) {
	session.BeginTurn()
	defer session.EndTurn()

	// Register for cancellation only after the turn lock is held. A request
	// queued behind an in-flight turn has no registration yet, so a stop
	// request always hits the turn that is actually running.
	ctx, cancel := context.WithCancel(ctx)
	o.cancels.AddTurn(session.ID, cancel)
	defer func() {
		o.cancels.RemoveTurn(session.ID)
		cancel()
	}()

	turnLogger := o.logger.WithField("sessionID", session.ID)

	baseLen := session.MessageCount()

	// A panic anywhere in the turn must not escape across the turn boundary;
	// history is rolled back to just the human message.
	defer func() {
		if r := recover(); r != nil {
			turnLogger.WithField("panic", r).Error("Panic occurred during turn execution")
			session.TruncateTo(baseLen + 1)
			appended = nil
			err = fmt.Errorf("turn failed due to internal error: %v", r)
		}
	}()

	session.AppendMessage(Message{Role: RoleHuman, Content: prompt})

	state := stateAwaitingModel
	round := 0
	var responseText string
	var inv Invocation

	for state != stateDone {
		switch state {
		case stateAwaitingModel:
			text, modelErr := o.callModel(ctx, session)
			if modelErr != nil {
				if round > 0 {
					// The earlier rounds already produced messages the user
					// must see; a failed follow-up call only loses the extra
					// explanation.
					turnLogger.WithError(modelErr).Warn("Follow-up model call failed, ending turn with messages so far")
					state = stateDone
					continue
				}
				// History stays as appended in step 1: the human message
				// only, so the caller can safely retry the whole turn.
				return nil, modelErr
			}
			responseText = text
			state = stateModelResponded

		case stateModelResponded:
			var found bool
			inv, found = o.detector.Detect(responseText)
			if !found {
				session.AppendMessage(Message{Role: RoleAssistant, Content: responseText})
				state = stateDone
				continue
			}
			turnLogger.WithFields(logrus.Fields{
				"blockIndex": inv.BlockIndex,
				"codeLength": len(inv.Code),
				"round":      round,
			}).Info("Detected code invocation in model response")
			state = stateDispatchingTool

		case stateDispatchingTool:
			result, dispatchErr := o.dispatcher.Dispatch(ctx, inv, session.FileList())
			if dispatchErr != nil {
				if round > 0 {
					turnLogger.WithError(dispatchErr).Warn("Sandbox unavailable in follow-up round, ending turn with messages so far")
					session.AppendMessage(Message{Role: RoleAssistant, Content: responseText})
					state = stateDone
					continue
				}
				return nil, dispatchErr
			}

			if o.config.CombineToolReply {
				session.AppendMessage(Message{Role: RoleAssistant, Content: responseText, Exec: result})
			} else {
				session.AppendMessage(Message{Role: RoleAssistant, Content: responseText})
				session.AppendMessage(Message{Role: RoleAssistant, Content: renderExecResult(result), Exec: result})
			}

			round++
			if round < o.config.MaxToolRounds {
				// Result feedback: re-prompt the model with the execution
				// outcome so it can explain or correct the code.
				state = stateAwaitingModel
			} else {
				state = stateDone
			}
		}
	}

	all := session.RecentMessages(0)
	return all[baseLen:], nil
}

// callModel sends the session history to the model collaborator and returns
// the response text of its first choice. The call is bounded by the
// configured model timeout; exceeding it is a turn-level error.
func (o *Orchestrator) callModel(ctx context.Context, session *ChatSession) (string, error) {
	modelCtx, cancel := context.WithTimeout(ctx, o.config.ModelTimeout)
	defer cancel()

	history := session.RecentMessages(o.config.ContextLimit)
	content := make([]llms.MessageContent, 0, len(history)+1)
	content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, BuildSystemPrompt(session.FileList())))
	for _, msg := range history {
		role := schema.ChatMessageTypeHuman
		if msg.Role == RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, renderForModel(msg)))
	}

	response, err := o.model.GenerateContent(modelCtx, content)
	if err != nil {
		if modelCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("model call timed out after %s", o.config.ModelTimeout)
		}
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return response.Choices[0].Content, nil
}

// renderForModel serializes a history message for the model context. Messages
// carrying an execution result get the result appended as text so the model
// can reason about what the code actually did. Split-reply result messages
// already hold the rendered result as their content and pass through as-is.
func renderForModel(msg Message) string {
	if msg.Exec == nil {
		return msg.Content
	}
	rendered := renderExecResult(msg.Exec)
	if msg.Content == "" || msg.Content == rendered {
		return rendered
	}
	return msg.Content + "\n\nExecution result:\n" + rendered
}

// renderExecResult renders an execution result as indented JSON, the shape
// shown both to the model and, in split-reply mode, to the user.
func renderExecResult(result *ExecResult) string {
	data, err := json.MarshalIndent(map[string]string{
		"stdout": result.Stdout,
		"stderr": result.Stderr,
		"error":  result.Error,
	}, "", "  ")
	if err != nil {
		return fmt.Sprintf("stdout: %s\nstderr: %s\nerror: %s", result.Stdout, result.Stderr, result.Error)
	}
	return string(data)
}
