// Package actionmap translates a standalone Service tool action into a
// normalized, Service-native {requestId, toolName, args} triple using the
// inverse of the schema in internal/toolmap.
package actionmap

import "encoding/json"

// Normalized is the output of mapping a standalone Service action. ToolName
// is Service-native (e.g. "read_file"), not Host-native — the model adapter
// runs it back through internal/toolmap before presenting it to the Host.
type Normalized struct {
	RequestID string
	ToolName  string
	Args      map[string]any
}

// knownKinds lists the tool-action variants enumerated in spec §3, in the
// order they're probed when decoding a single-key action object.
var knownKinds = []string{
	"runReadFile", "runReadFiles", "runWriteFile", "runEditFile",
	"runShellCommand", "runCommand", "runGitCommand", "runHTTPRequest",
	"listDirectory", "grep", "findFiles", "runMCPTool", "mkdir",
}

// Map decodes a raw single-key Service action object and normalizes it.
// ok is false when the action carries no recognized payload, or the
// payload has no requestID.
func Map(raw map[string]json.RawMessage) (Normalized, bool) {
	for _, kind := range knownKinds {
		payloadRaw, present := raw[kind]
		if !present {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			return Normalized{}, false
		}
		reqID, _ := payload["requestID"].(string)
		if reqID == "" {
			return Normalized{}, false
		}
		return mapKind(kind, reqID, payload), true
	}
	return Normalized{}, false
}

func mapKind(kind, reqID string, payload map[string]any) Normalized {
	switch kind {
	case "runReadFile":
		return Normalized{reqID, "read_file", map[string]any{"file_path": payload["filePath"]}}

	case "runReadFiles":
		return Normalized{reqID, "read_files", map[string]any{"file_paths": payload["filePaths"]}}

	case "runWriteFile":
		return Normalized{reqID, "create_file_with_contents", map[string]any{
			"file_path": payload["filePath"],
			"contents":  payload["content"],
		}}

	case "runEditFile":
		return Normalized{reqID, "edit_file", map[string]any{
			"file_path": payload["filePath"],
			"old_str":   payload["oldString"],
			"new_str":   payload["newString"],
		}}

	case "runShellCommand":
		return Normalized{reqID, "shell_command", map[string]any{"command": payload["command"]}}

	case "runCommand":
		return Normalized{reqID, "run_command", map[string]any{
			"program":   payload["program"],
			"flags":     payload["flags"],
			"arguments": payload["arguments"],
			"command":   payload["command"],
		}}

	case "runGitCommand":
		return Normalized{reqID, "run_git_command", map[string]any{
			"command": payload["command"],
			"args":    payload["args"],
		}}

	case "runHTTPRequest":
		return Normalized{reqID, "gitlab_api_request", map[string]any{
			"method": payload["method"],
			"path":   payload["path"],
			"body":   payload["body"],
		}}

	case "listDirectory":
		return Normalized{reqID, "list_dir", map[string]any{"directory": payload["directory"]}}

	case "grep":
		return Normalized{reqID, "grep", map[string]any{
			"pattern":          payload["pattern"],
			"search_directory": payload["searchDirectory"],
			"case_insensitive": payload["caseInsensitive"],
		}}

	case "findFiles":
		return Normalized{reqID, "find_files", map[string]any{"name_pattern": payload["namePattern"]}}

	case "runMCPTool":
		args, _ := payload["args"].(string)
		var decoded map[string]any
		if args != "" {
			_ = json.Unmarshal([]byte(args), &decoded)
		}
		name, _ := payload["name"].(string)
		return Normalized{reqID, name, decoded}

	case "mkdir":
		return Normalized{reqID, "mkdir", map[string]any{"directory_path": payload["directoryPath"]}}
	}
	return Normalized{}
}
