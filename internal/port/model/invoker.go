// Package model defines the port interface for the generative model
// collaborator.
package model

import (
	"context"
	"encoding/json"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
)

// ChunkKind tags the fragments a model emits within one step.
type ChunkKind string

const (
	ChunkTextDelta ChunkKind = "text-delta"
	ChunkToolCall  ChunkKind = "tool-call"
)

// ToolCallRequest is a complete tool invocation request emitted by the
// model. Input is raw JSON; the orchestrator validates it against the
// tool's schema before execution.
type ToolCallRequest struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
}

// Chunk is one fragment of a model step: either a text delta or a
// complete tool call request.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall *ToolCallRequest
}

// Request describes one model invocation: the full prior message history
// plus the tool specs available for this step.
type Request struct {
	Messages []conversation.Message
	Tools    []tool.Spec
}

// Stream yields the chunks of a single finite model step. Recv returns
// io.EOF after the last chunk. The step is restartable only by invoking
// the model again with updated history.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Invoker is the outbound collaborator that produces model steps.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Stream, error)
}
