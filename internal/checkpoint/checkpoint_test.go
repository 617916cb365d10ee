package checkpoint

import "testing"

func chatLog(entries ...string) []byte {
	out := `{"channel_values":{"ui_chat_log":[`
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += e
	}
	out += `]}}`
	return []byte(out)
}

func agentEntry(content string) string {
	return `{"message_type":"agent","content":"` + content + `"}`
}

// S1 — pure text response: "Hel" then "Hello." streamed incrementally.
func TestExtractAgentTextDeltasIncrementalGrowth(t *testing.T) {
	state := NewState()

	d1, err := ExtractAgentTextDeltas(chatLog(agentEntry("Hel")), state)
	if err != nil {
		t.Fatal(err)
	}
	if len(d1) != 1 || d1[0] != "Hel" {
		t.Fatalf("got %v", d1)
	}

	d2, err := ExtractAgentTextDeltas(chatLog(agentEntry("Hello.")), state)
	if err != nil {
		t.Fatal(err)
	}
	if len(d2) != 1 || d2[0] != "lo." {
		t.Fatalf("got %v", d2)
	}
}

func TestExtractAgentTextDeltasNoChangeEmitsNothing(t *testing.T) {
	state := NewState()
	_, _ = ExtractAgentTextDeltas(chatLog(agentEntry("same")), state)
	d, _ := ExtractAgentTextDeltas(chatLog(agentEntry("same")), state)
	if len(d) != 0 {
		t.Fatalf("expected no deltas, got %v", d)
	}
}

func TestExtractAgentTextDeltasPrefixDivergenceRestarts(t *testing.T) {
	state := NewState()
	_, _ = ExtractAgentTextDeltas(chatLog(agentEntry("hello world")), state)
	d, _ := ExtractAgentTextDeltas(chatLog(agentEntry("goodbye")), state)
	if len(d) != 1 || d[0] != "goodbye" {
		t.Fatalf("got %v", d)
	}
}

func TestExtractAgentTextDeltasEmptyInitialContentEmitsNothing(t *testing.T) {
	state := NewState()
	d, _ := ExtractAgentTextDeltas(chatLog(agentEntry("")), state)
	if len(d) != 0 {
		t.Fatalf("expected no deltas for empty content, got %v", d)
	}
}

func TestExtractAgentTextDeltasSkipsNonAgentEntries(t *testing.T) {
	state := NewState()
	d, err := ExtractAgentTextDeltas(chatLog(
		`{"message_type":"user","content":"hi"}`,
		agentEntry("hello"),
		`{"message_type":"tool","content":"ran something"}`,
	), state)
	if err != nil {
		t.Fatal(err)
	}
	if len(d) != 1 || d[0] != "hello" {
		t.Fatalf("got %v", d)
	}
	if len(state.Log) != 3 {
		t.Fatalf("expected all 3 valid entries retained, got %d", len(state.Log))
	}
}

func TestExtractAgentTextDeltasDropsUnknownTypes(t *testing.T) {
	state := NewState()
	_, err := ExtractAgentTextDeltas(chatLog(
		`{"message_type":"system_internal","content":"noise"}`,
		agentEntry("hi"),
	), state)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Log) != 1 {
		t.Fatalf("expected unknown-typed entry dropped, got %d entries", len(state.Log))
	}
}

func TestExtractToolRequestsEmitsOncePerIndex(t *testing.T) {
	state := NewState()
	raw := chatLog(`{"message_type":"request","correlation_id":"R1","tool_info":{"name":"read_file","args":{"file_path":"a.txt"}}}`)

	reqs, err := ExtractToolRequests(raw, state)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].RequestID != "R1" || reqs[0].ToolName != "read_file" {
		t.Fatalf("got %+v", reqs)
	}

	reqs2, _ := ExtractToolRequests(raw, state)
	if len(reqs2) != 0 {
		t.Fatalf("expected no re-emission, got %+v", reqs2)
	}
}

func TestExtractToolRequestsGeneratesIDWhenCorrelationMissing(t *testing.T) {
	state := NewState()
	raw := chatLog(`{"message_type":"request","tool_info":{"name":"glob","args":{}}}`)
	reqs, err := ExtractToolRequests(raw, state)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].RequestID == "" {
		t.Fatalf("got %+v", reqs)
	}
}
