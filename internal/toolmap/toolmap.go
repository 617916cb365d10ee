// Package toolmap translates Service-native tool invocations into
// Host-native tool calls. It is pure: no I/O, no shared state.
package toolmap

import (
	"fmt"
)

// HostToolCall is a single Host-native tool invocation.
type HostToolCall struct {
	Name string
	Args map[string]any
}

// Result is the outcome of mapping one Service tool call. Array is true
// when the Service call legitimately expands into a sequence of Host calls
// (e.g. read_files) — the model adapter uses it to decide whether to create
// sub-IDs and a multi-call group, even when len(Calls) == 1.
type Result struct {
	Calls []HostToolCall
	Array bool
}

func single(name string, args map[string]any) Result {
	return Result{Calls: []HostToolCall{{Name: name, Args: args}}}
}

func passthrough(name string, args map[string]any) Result {
	return single(name, args)
}

func invalid(tool, errMsg string) Result {
	return single("invalid", map[string]any{"tool": tool, "error": errMsg})
}

// Map translates a Service tool name + arguments into one or more
// Host-native tool calls.
func Map(serviceToolName string, args map[string]any) Result {
	switch serviceToolName {
	case "list_dir":
		dir := stringField(args, "directory")
		if dir == "" {
			dir = "."
		}
		return single("read", map[string]any{"filePath": dir})

	case "read_file":
		path := firstPath(args, "file_path", "filepath", "filePath", "path")
		if path == "" {
			return passthrough(serviceToolName, args)
		}
		out := map[string]any{"filePath": path}
		if v, ok := args["offset"]; ok {
			out["offset"] = v
		}
		if v, ok := args["limit"]; ok {
			out["limit"] = v
		}
		return single("read", out)

	case "read_files":
		paths := stringSlice(args["file_paths"])
		if len(paths) == 0 {
			return passthrough(serviceToolName, args)
		}
		calls := make([]HostToolCall, len(paths))
		for i, p := range paths {
			calls[i] = HostToolCall{Name: "read", Args: map[string]any{"filePath": p}}
		}
		return Result{Calls: calls, Array: true}

	case "create_file_with_contents":
		return single("write", map[string]any{
			"filePath": stringField(args, "file_path"),
			"content":  stringField(args, "contents"),
		})

	case "edit_file":
		return single("edit", map[string]any{
			"filePath":  stringField(args, "file_path"),
			"oldString": stringField(args, "old_str"),
			"newString": stringField(args, "new_str"),
		})

	case "find_files":
		return single("glob", map[string]any{"pattern": stringField(args, "name_pattern")})

	case "grep":
		pattern := stringField(args, "pattern")
		if boolField(args, "case_insensitive") && !hasCaseInsensitivePrefix(pattern) {
			pattern = "(?i)" + pattern
		}
		out := map[string]any{"pattern": pattern}
		if dir := stringField(args, "search_directory"); dir != "" {
			out["path"] = dir
		}
		return single("grep", out)

	case "mkdir":
		dir := stringField(args, "directory_path")
		return single("bash", map[string]any{"command": "mkdir -p " + shellQuote(dir)})

	case "shell_command":
		cmd := stringField(args, "command")
		if res, ok := mapShellCommandBridge(cmd); ok {
			return res
		}
		return single("bash", map[string]any{"command": cmd})

	case "run_command":
		if res, ok := mapBridgeProgram(args); ok {
			return res
		}
		return single("bash", map[string]any{"command": buildRunCommand(args)})

	case "run_git_command":
		tokens := []string{"git", stringField(args, "command")}
		tokens = append(tokens, stringSlice(args["args"])...)
		return single("bash", map[string]any{"command": shellQuoteGit(tokens)})

	case "gitlab_api_request":
		method := stringField(args, "method")
		if method == "" {
			method = "GET"
		}
		tokens := []string{"curl", "-s", "-X", method,
			"-H", "Authorization: Bearer $TOKEN",
			"-H", "Content-Type: application/json"}
		if body := stringField(args, "body"); body != "" {
			tokens = append(tokens, "-d", body)
		}
		tokens = append(tokens, stringField(args, "path"))
		return single("bash", map[string]any{"command": shellQuoteJoin(tokens)})

	default:
		return passthrough(serviceToolName, args)
	}
}

// shellQuoteGit quotes every token except the literal "git" program name,
// matching the literal rule "git"+shellQuote(command)+... in spec §4.2.
func shellQuoteGit(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		if i == 0 {
			quoted[i] = t
			continue
		}
		quoted[i] = shellQuote(t)
	}
	return joinSpace(quoted)
}

func joinSpace(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

func buildRunCommand(args map[string]any) string {
	if cmd := stringField(args, "command"); cmd != "" {
		return cmd
	}
	var tokens []string
	if program := stringField(args, "program"); program != "" {
		tokens = append(tokens, program)
	}
	tokens = append(tokens, stringSlice(args["flags"])...)
	tokens = append(tokens, stringSlice(args["arguments"])...)
	return shellQuoteJoin(tokens)
}

func hasCaseInsensitivePrefix(pattern string) bool {
	return len(pattern) >= 4 && pattern[:4] == "(?i)"
}

func stringField(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolField(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func firstPath(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(args, k); s != "" {
			return s
		}
	}
	return ""
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(e))
			}
		}
		return out
	default:
		return nil
	}
}
