package tools

// ToolResult is the structured outcome of one tool execution. It is always
// rendered into a tool-role message for the model; an error result is fed
// back in-band so the model can correct course. Tool failures never cross
// the loop boundary as Go errors.
type ToolResult struct {
	// ForLLM goes back to the model as the tool message content.
	ForLLM string
	// ForUser, when set and not Silent, is surfaced to the user
	// immediately, without waiting for the final reply.
	ForUser string
	// Silent suppresses any user-facing surfacing of this result.
	Silent bool
	// IsError marks the result as a failure report.
	IsError bool
	// Err carries the underlying error for logging. Never shown raw to the
	// user.
	Err error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

// SilentResult reports success to the model without anything user-facing.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Silent: true}
}

// UserResult surfaces the same content to both the model and the user.
func UserResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, ForUser: content}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// Content renders the result as tool message content.
func (r *ToolResult) Content() string {
	if r.ForLLM != "" {
		return r.ForLLM
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return ""
}
