// Package prompt pulls the goal, system prompt, tool results, and agent
// reminders out of the Host's structured prompt messages.
package prompt

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Part is one piece of a Message's content: a text fragment or a
// tool-result/tool-error record.
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Synthetic  bool            `json:"synthetic,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Output     *ToolOutput     `json:"output,omitempty"`
	Result     string          `json:"result,omitempty"` // legacy shape
}

// ToolOutput is the Host's normalized shape for a tool-result part's
// payload.
type ToolOutput struct {
	Type  string          `json:"type"` // text | json | error-text | error-json | content
	Value json.RawMessage `json:"value"`
}

// contentSubPart is one element of a "content"-typed output's value array.
type contentSubPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is one entry of the Host's structured prompt.
type Message struct {
	Role    string `json:"role"` // system | user | assistant | tool
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

var (
	wrappedReminderPattern = regexp.MustCompile(`(?s)<system-reminder>The user sent the following message:\n(.*?)\nPlease address this message and continue with your tasks\.</system-reminder>`)
	anyReminderPattern     = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)
)

// lastUserText joins the text content of the last role=user message,
// preferring its Parts (text-typed) and falling back to Content.
func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		return textOf(messages[i])
	}
	return ""
}

func textOf(m Message) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var parts []string
	for _, p := range m.Parts {
		if p.Type == "text" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ExtractGoal returns the text content of the last user message, with any
// <system-reminder>…</system-reminder> blocks removed except for the
// wrapped-user-message form, whose inner text is preserved in place of the
// whole block.
func ExtractGoal(messages []Message) string {
	text := lastUserText(messages)
	text = wrappedReminderPattern.ReplaceAllString(text, "$1")
	text = anyReminderPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ToolResult is a normalized tool-result or tool-error part.
type ToolResult struct {
	ID     string
	Output string
	Error  string
}

// ExtractToolResults collects every tool-result/tool-error part across all
// messages, normalizing across the {output:{type,value}} shape and the
// legacy {result} field.
func ExtractToolResults(messages []Message) []ToolResult {
	var results []ToolResult
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Type != "tool-result" && p.Type != "tool-error" {
				continue
			}
			results = append(results, normalizeToolResult(p))
		}
	}
	return results
}

func normalizeToolResult(p Part) ToolResult {
	r := ToolResult{ID: p.ToolCallID}

	if p.Output == nil {
		r.Output = p.Result
		return r
	}

	switch p.Output.Type {
	case "text":
		r.Output = unquoteJSONString(p.Output.Value)
	case "error-text":
		r.Error = unquoteJSONString(p.Output.Value)
	case "json":
		r.Output = string(p.Output.Value)
	case "error-json":
		r.Error = string(p.Output.Value)
	case "content":
		var subs []contentSubPart
		if err := json.Unmarshal(p.Output.Value, &subs); err == nil {
			var texts []string
			for _, s := range subs {
				if s.Type == "text" {
					texts = append(texts, s.Text)
				}
			}
			r.Output = strings.Join(texts, "\n")
		}
	}
	return r
}

func unquoteJSONString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ExtractSystemPrompt concatenates the content of every role=system
// message with "\n".
func ExtractSystemPrompt(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == "system" && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

var (
	hostIdentityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you are opencode,?\s*`),
		regexp.MustCompile(`(?i)opencode is an? .*?\.\s*`),
	}
	hostURLPattern    = regexp.MustCompile(`https?://opencode\.ai\S*`)
	hostProductName   = regexp.MustCompile(`(?i)opencode`)
	tripleBlankLines  = regexp.MustCompile(`\n{3,}`)
)

// ServiceProductName is substituted for every Host product-name mention
// that survives identity-phrase stripping.
const ServiceProductName = "GitLab Duo Workflow"

// SanitizeSystemPrompt removes Host-identity phrases and URLs, rewrites
// the Host product name to the Service product name, and collapses runs
// of three or more newlines to two (at most one blank line in a row).
func SanitizeSystemPrompt(prompt string) string {
	out := prompt
	for _, re := range hostIdentityPatterns {
		out = re.ReplaceAllString(out, "")
	}
	out = hostURLPattern.ReplaceAllString(out, "")
	out = hostProductName.ReplaceAllString(out, ServiceProductName)
	out = tripleBlankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// ExtractAgentReminders pulls reminders out of the last user message: a
// part marked synthetic is treated as a complete, trimmed reminder on its
// own; otherwise every <system-reminder>…</system-reminder> occurrence in
// its text is extracted.
func ExtractAgentReminders(messages []Message) []string {
	var last *Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = &messages[i]
			break
		}
	}
	if last == nil {
		return nil
	}

	var reminders []string
	for _, p := range last.Parts {
		if p.Type != "text" {
			continue
		}
		if p.Synthetic {
			if trimmed := strings.TrimSpace(p.Text); trimmed != "" {
				reminders = append(reminders, trimmed)
			}
			continue
		}
		for _, match := range anyReminderPattern.FindAllString(p.Text, -1) {
			reminders = append(reminders, match)
		}
	}
	return reminders
}
