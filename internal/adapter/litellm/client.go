// Package litellm implements the model port against a LiteLLM proxy
// speaking the OpenAI chat-completions wire format.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/config"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/model"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/resilience"
)

// Client talks to a LiteLLM proxy. One Client serves all sessions; each
// Invoke opens an independent streaming completion.
type Client struct {
	baseURL    string
	masterKey  string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a LiteLLM client from model configuration. The HTTP
// client has no overall timeout because completions stream; the response
// header timeout bounds how long the proxy may stall before the first
// byte.
func NewClient(cfg config.Model) *Client {
	return &Client{
		baseURL:   cfg.URL,
		masterKey: cfg.MasterKey,
		model:     cfg.Name,
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
	}
}

// SetBreaker attaches a circuit breaker to completion requests. The
// breaker guards connection establishment; mid-stream errors surface to
// the caller directly.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Health reports whether the proxy answers its health endpoint.
func (c *Client) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 400, nil
}

// Invoke opens one streaming completion for req and returns its chunk
// stream. The returned stream must be closed by the caller.
func (c *Client) Invoke(ctx context.Context, req model.Request) (model.Stream, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: buildMessages(req.Messages),
		Tools:    buildTools(req.Tools),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var resp *http.Response
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		c.authorize(httpReq)

		r, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		if r.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			_ = r.Body.Close()
			return fmt.Errorf("litellm API error %d: %s", r.StatusCode, string(data))
		}
		resp = r
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	return newStream(resp.Body), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}
}

// completionRequest is the OpenAI-compatible request body.
type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// buildMessages converts domain messages to the wire format. Assistant
// messages carry their tool calls inline; each tool result becomes a
// separate tool-role message, which is how the chat-completions format
// expects them.
func buildMessages(msgs []conversation.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]

		var (
			calls   []wireToolCall
			results []wireMessage
		)
		for _, p := range msg.Parts {
			switch p.Type {
			case conversation.PartToolCall:
				calls = append(calls, wireToolCall{
					ID:   p.ToolCall.CallID,
					Type: "function",
					Function: wireFunction{
						Name:      p.ToolCall.Name,
						Arguments: string(p.ToolCall.Input),
					},
				})
			case conversation.PartToolResult:
				content := string(p.ToolResult.Output)
				if p.ToolResult.Error != "" {
					content = fmt.Sprintf(`{"error":%q}`, p.ToolResult.Error)
				}
				results = append(results, wireMessage{
					Role:       "tool",
					Content:    content,
					ToolCallID: p.ToolResult.CallID,
					Name:       p.ToolResult.Name,
				})
			}
		}

		if msg.Role != conversation.RoleTool {
			out = append(out, wireMessage{
				Role:      string(msg.Role),
				Content:   msg.Text(),
				ToolCalls: calls,
			})
		}
		out = append(out, results...)
	}
	return out
}

func buildTools(specs []tool.Spec) []wireTool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(specs))
	for _, s := range specs {
		params, err := json.Marshal(s.InputSchema)
		if err != nil || len(s.InputSchema) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
