package litellm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/adapter/litellm"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/config"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/model"
)

func newTestClient(url string) *litellm.Client {
	return litellm.NewClient(config.Model{
		URL:       url,
		MasterKey: "test-key",
		Name:      "gpt-4o",
		Timeout:   5 * time.Second,
	})
}

func collect(t *testing.T, s model.Stream) []model.Chunk {
	t.Helper()
	defer func() { _ = s.Close() }()

	var chunks []model.Chunk
	for {
		ch, err := s.Recv()
		if err == io.EOF {
			return chunks
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		chunks = append(chunks, ch)
	}
}

func TestInvokeTextStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["stream"] != true {
			t.Fatal("expected stream:true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":\"stop\"}]}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	stream, err := client.Invoke(context.Background(), model.Request{
		Messages: []conversation.Message{{
			Role:  conversation.RoleUser,
			Parts: []conversation.Part{conversation.TextPart("hi")},
		}},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "Hello" || chunks[1].Text != " world" {
		t.Fatalf("unexpected deltas: %q %q", chunks[0].Text, chunks[1].Text)
	}
}

func TestInvokeAssemblesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Arguments arrive fragmented across deltas and must come out whole.
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"makeStakeCoreTransaction\",\"arguments\":\"{\\\"candidateAddress\\\":\"}}]}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"0xabc\\\",\\\"value\\\":10}\"}}]}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	stream, err := client.Invoke(context.Background(), model.Request{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	call := chunks[0].ToolCall
	if call == nil {
		t.Fatal("expected a tool call chunk")
	}
	if call.CallID != "call_1" || call.Name != "makeStakeCoreTransaction" {
		t.Fatalf("unexpected call: %+v", call)
	}

	var input map[string]any
	if err := json.Unmarshal(call.Input, &input); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if input["candidateAddress"] != "0xabc" {
		t.Fatalf("unexpected arguments: %v", input)
	}
}

func TestInvokeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.Invoke(context.Background(), model.Request{}); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	healthy, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !healthy {
		t.Fatal("expected healthy")
	}
}
