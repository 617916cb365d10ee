package actionmap

import (
	"encoding/json"
	"testing"
)

func raw(obj map[string]any) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	for k, v := range obj {
		b, _ := json.Marshal(v)
		out[k] = b
	}
	return out
}

func TestRunReadFileMapsToReadFile(t *testing.T) {
	n, ok := Map(raw(map[string]any{
		"runReadFile": map[string]any{"requestID": "R1", "filePath": "a.txt"},
	}))
	if !ok {
		t.Fatal("expected ok")
	}
	if n.RequestID != "R1" || n.ToolName != "read_file" || n.Args["file_path"] != "a.txt" {
		t.Fatalf("got %+v", n)
	}
}

func TestRunMCPToolDecodesNestedArgs(t *testing.T) {
	n, ok := Map(raw(map[string]any{
		"runMCPTool": map[string]any{"requestID": "R2", "name": "custom_tool", "args": `{"x":1}`},
	}))
	if !ok {
		t.Fatal("expected ok")
	}
	if n.ToolName != "custom_tool" || n.Args["x"] != float64(1) {
		t.Fatalf("got %+v", n)
	}
}

func TestMissingRequestIDDropsAction(t *testing.T) {
	_, ok := Map(raw(map[string]any{
		"runReadFile": map[string]any{"filePath": "a.txt"},
	}))
	if ok {
		t.Fatal("expected no request")
	}
}

func TestUnrecognizedActionDropped(t *testing.T) {
	_, ok := Map(raw(map[string]any{
		"somethingElse": map[string]any{"requestID": "R3"},
	}))
	if ok {
		t.Fatal("expected no request")
	}
}
