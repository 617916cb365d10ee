package toolmap

import (
	"encoding/json"
	"fmt"
	"strings"
)

// bridgeProgram is a sentinel program name that run_command/shell_command
// dispatch to a dedicated Host tool instead of a shell invocation.
type bridgeProgram struct {
	sentinel string
	hostTool string
}

var bridgePrograms = []bridgeProgram{
	{"__todo_read__", "todoread"},
	{"__todo_write__", "todowrite"},
	{"__webfetch__", "webfetch"},
	{"__question__", "question"},
	{"__skill__", "skill"},
}

func bridgeByProgram(program string) (bridgeProgram, bool) {
	for _, b := range bridgePrograms {
		if b.sentinel == program {
			return b, true
		}
	}
	return bridgeProgram{}, false
}

// mapBridgeProgram inspects a run_command invocation for a bridge sentinel,
// either via an explicit "program" field or a "<program> <json>" shaped
// "command" string. It returns ok=false when no bridge program is present.
func mapBridgeProgram(args map[string]any) (Result, bool) {
	if program := stringField(args, "program"); program != "" {
		if b, ok := bridgeByProgram(program); ok {
			payload := firstArgument(args)
			return dispatchBridge(b, payload), true
		}
		return Result{}, false
	}

	cmd := stringField(args, "command")
	program, rest, found := splitLeadingToken(cmd)
	if !found {
		return Result{}, false
	}
	if b, ok := bridgeByProgram(program); ok {
		return dispatchBridge(b, rest), true
	}
	return Result{}, false
}

// mapShellCommandBridge handles the case where a bare shell_command's
// "command" string itself embeds a bridge invocation.
func mapShellCommandBridge(command string) (Result, bool) {
	program, rest, found := splitLeadingToken(command)
	if !found {
		return Result{}, false
	}
	b, ok := bridgeByProgram(program)
	if !ok {
		return Result{}, false
	}
	return dispatchBridge(b, rest), true
}

func splitLeadingToken(s string) (head, rest string, found bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, "", true
	}
	return s[:idx], strings.TrimSpace(s[idx+1:]), true
}

func firstArgument(args map[string]any) string {
	raw, ok := args["arguments"]
	if !ok {
		return ""
	}
	list := stringSlice(raw)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

// unwrapQuotes strips exactly one layer of wrapping single or double quotes.
func unwrapQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

func dispatchBridge(b bridgeProgram, rawPayload string) Result {
	payload := unwrapQuotes(strings.TrimSpace(rawPayload))

	var decoded map[string]any
	if payload == "" && b.hostTool == "todoread" {
		decoded = map[string]any{}
	} else if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return invalid(b.hostTool, fmt.Sprintf("%s payload is not valid JSON", b.sentinel))
	}

	if err := validateBridgePayload(b.hostTool, decoded); err != "" {
		return invalid(b.hostTool, err)
	}
	return single(b.hostTool, decoded)
}

func validateBridgePayload(hostTool string, payload map[string]any) string {
	switch hostTool {
	case "todoread":
		return ""

	case "todowrite":
		rawTodos, ok := payload["todos"]
		if !ok {
			return "todowrite payload missing \"todos\""
		}
		todos, ok := rawTodos.([]any)
		if !ok {
			return "todowrite payload \"todos\" must be an array"
		}
		for i, t := range todos {
			m, ok := t.(map[string]any)
			if !ok {
				return fmt.Sprintf("todowrite todos[%d] must be an object", i)
			}
			if stringField(m, "content") == "" {
				return fmt.Sprintf("todowrite todos[%d] missing \"content\"", i)
			}
			if !oneOf(stringField(m, "status"), "pending", "in_progress", "completed", "cancelled") {
				return fmt.Sprintf("todowrite todos[%d] has invalid \"status\"", i)
			}
			if !oneOf(stringField(m, "priority"), "high", "medium", "low") {
				return fmt.Sprintf("todowrite todos[%d] has invalid \"priority\"", i)
			}
		}
		return ""

	case "webfetch":
		if stringField(payload, "url") == "" {
			return "webfetch payload missing \"url\""
		}
		if format, ok := payload["format"]; ok {
			if s, ok := format.(string); !ok || !oneOf(s, "text", "markdown", "html") {
				return "webfetch payload has invalid \"format\""
			}
		}
		if timeout, ok := payload["timeout"]; ok {
			n, ok := timeout.(float64)
			if !ok || n <= 0 {
				return "webfetch payload has invalid \"timeout\""
			}
		}
		return ""

	case "question":
		rawQuestions, ok := payload["questions"]
		if !ok {
			return "question payload missing \"questions\""
		}
		questions, ok := rawQuestions.([]any)
		if !ok || len(questions) == 0 {
			return "question payload \"questions\" must be a non-empty array"
		}
		for i, q := range questions {
			m, ok := q.(map[string]any)
			if !ok {
				return fmt.Sprintf("question questions[%d] must be an object", i)
			}
			if stringField(m, "question") == "" {
				return fmt.Sprintf("question questions[%d] missing \"question\"", i)
			}
			if stringField(m, "header") == "" {
				return fmt.Sprintf("question questions[%d] missing \"header\"", i)
			}
			rawOptions, ok := m["options"]
			if !ok {
				return fmt.Sprintf("question questions[%d] missing \"options\"", i)
			}
			options, ok := rawOptions.([]any)
			if !ok || len(options) == 0 {
				return fmt.Sprintf("question questions[%d] \"options\" must be a non-empty array", i)
			}
			for j, o := range options {
				om, ok := o.(map[string]any)
				if !ok {
					return fmt.Sprintf("question questions[%d].options[%d] must be an object", i, j)
				}
				if stringField(om, "label") == "" {
					return fmt.Sprintf("question questions[%d].options[%d] missing \"label\"", i, j)
				}
				if stringField(om, "description") == "" {
					return fmt.Sprintf("question questions[%d].options[%d] missing \"description\"", i, j)
				}
			}
		}
		return ""

	case "skill":
		if strings.TrimSpace(stringField(payload, "name")) == "" {
			return "skill payload missing non-empty \"name\""
		}
		return ""

	default:
		return ""
	}
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
