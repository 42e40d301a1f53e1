package core

import (
	"fmt"
	"strings"
)

// System prompt guiding the model's use of the code interpreter. The model
// signals execution by tagging a fenced block as python; that convention is
// what the invocation detector parses back out of the response.
const (
	systemPromptBase = `You are a helpful AI assistant with access to a Python code interpreter.
When you want code to be executed, put it in a fenced code block tagged ` + "```python" + `.
Only the first such block in a reply is executed.

Follow these guidelines when writing and executing code:
1. Write clear, well-commented Python code.
2. For data visualization, use matplotlib or seaborn with plt.figure(figsize=(10, 6)) for better readability, and save figures to files.
3. Handle potential errors in your code with try/except blocks.
4. When working with external data, verify the data exists before processing.
5. Explain your approach before writing code and interpret results after execution.
6. If code execution fails, debug and provide a corrected version.`

	systemPromptFilesHeader = `

The user has uploaded the following files, available in the working directory by name:`
)

// BuildSystemPrompt renders the system prompt, appending the session's
// uploaded-file inventory when there is one so the model can reference the
// files by name.
func BuildSystemPrompt(files []FileRef) string {
	if len(files) == 0 {
		return systemPromptBase
	}

	var b strings.Builder
	b.WriteString(systemPromptBase)
	b.WriteString(systemPromptFilesHeader)
	for _, file := range files {
		b.WriteString(fmt.Sprintf("\n- %s (%d bytes)", file.Name, file.Size))
	}
	return b.String()
}
