/*
Package core provides tool invocation detection for the codechat service.

This file decides whether an assistant-authored response asks for code
execution and extracts the code payload. Detection is a pluggable strategy:
the default implementation parses fenced Python code blocks out of free text,
but a provider-specific structured tool-calling detector can be substituted
without touching the turn orchestration.

Detection is deterministic: the same response text always yields the same
extraction. When a response contains several candidate blocks only the first
is selected, which bounds the work done per turn; the remaining blocks stay in
the reply as plain text.
*/
package core

import (
	"regexp"
	"strings"
)

// Invocation is a model-generated request to execute code. It is a transient
// value produced from a single assistant response and consumed by the
// dispatcher within the same turn; it is never persisted.
type Invocation struct {
	Code       string // The extracted code payload
	BlockIndex int    // Index of the selected block among all fenced blocks in the response
}

// Detector inspects one assistant-authored text response and reports whether
// it requests code execution. Implementations must be deterministic and must
// never fail on malformed but non-matching text.
type Detector interface {
	// Detect returns the extracted invocation and true when the response
	// requests execution, or a zero Invocation and false otherwise.
	Detect(response string) (Invocation, bool)
}

// fencedBlockPattern matches fenced code blocks, capturing the info string
// and the body. The body match is non-greedy so adjacent blocks stay separate.
var fencedBlockPattern = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)```")

// executableLanguages are the fence info strings treated as execution
// requests. An untagged fence is intentionally not executable: models use
// bare fences for output samples and pseudo-code too often to trust them.
var executableLanguages = map[string]bool{
	"python": true,
	"py":     true,
}

// FencedBlockDetector extracts execution requests from fenced code blocks in
// free text. It is the textual-convention strategy: no cooperation from the
// model provider is needed beyond the model writing ordinary markdown.
type FencedBlockDetector struct{}

// NewFencedBlockDetector creates the default fenced-code-block detector.
func NewFencedBlockDetector() *FencedBlockDetector {
	return &FencedBlockDetector{}
}

// Detect scans the response for fenced blocks tagged with an executable
// language and selects the first one. Blocks whose code is empty or
// whitespace-only are skipped: an empty payload is a malformed invocation
// and must not reach the sandbox.
func (d *FencedBlockDetector) Detect(response string) (Invocation, bool) {
	matches := fencedBlockPattern.FindAllStringSubmatch(response, -1)

	for index, match := range matches {
		language := strings.ToLower(match[1])
		if !executableLanguages[language] {
			continue
		}
		code := match[2]
		if strings.TrimSpace(code) == "" {
			continue
		}
		return Invocation{Code: code, BlockIndex: index}, true
	}
	return Invocation{}, false
}

var _ Detector = (*FencedBlockDetector)(nil)
