package litellm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/model"
)

// maxLine bounds a single SSE line. Completion deltas are small; a line
// this large means the proxy is misbehaving.
const maxLine = 1 << 20

// stream decodes an OpenAI-style SSE completion body into model chunks.
// Text deltas pass through as they arrive. Tool call fragments are
// assembled per index and emitted as complete calls when the step's
// finish reason arrives, so the orchestrator never sees a partial call.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	queue   []model.Chunk
	partial map[int]*partialCall
	done    bool
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newStream(body io.ReadCloser) *stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &stream{
		body:    body,
		scanner: sc,
		partial: make(map[int]*partialCall),
	}
}

// sseChunk is the subset of the streaming completion payload we read.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *stream) Recv() (model.Chunk, error) {
	for {
		if len(s.queue) > 0 {
			ch := s.queue[0]
			s.queue = s.queue[1:]
			return ch, nil
		}
		if s.done {
			return model.Chunk{}, io.EOF
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return model.Chunk{}, fmt.Errorf("read stream: %w", err)
			}
			s.done = true
			s.flushCalls()
			continue
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			s.flushCalls()
			continue
		}

		var chunk sseChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return model.Chunk{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		s.apply(&chunk)
	}
}

func (s *stream) apply(chunk *sseChunk) {
	if len(chunk.Choices) == 0 {
		return
	}
	choice := &chunk.Choices[0]

	if choice.Delta.Content != "" {
		s.queue = append(s.queue, model.Chunk{Kind: model.ChunkTextDelta, Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		p := s.partial[tc.Index]
		if p == nil {
			p = &partialCall{}
			s.partial[tc.Index] = p
		}
		if tc.ID != "" {
			p.id = tc.ID
		}
		if tc.Function.Name != "" {
			p.name = tc.Function.Name
		}
		p.args.WriteString(tc.Function.Arguments)
	}

	if choice.FinishReason != "" {
		s.flushCalls()
	}
}

// flushCalls emits all assembled tool calls in index order and resets
// the assembly state.
func (s *stream) flushCalls() {
	if len(s.partial) == 0 {
		return
	}
	indexes := make([]int, 0, len(s.partial))
	for i := range s.partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		p := s.partial[i]
		args := p.args.String()
		if args == "" {
			args = "{}"
		}
		s.queue = append(s.queue, model.Chunk{
			Kind: model.ChunkToolCall,
			ToolCall: &model.ToolCallRequest{
				CallID: p.id,
				Name:   p.name,
				Input:  json.RawMessage(args),
			},
		})
	}
	s.partial = make(map[int]*partialCall)
}

func (s *stream) Close() error {
	return s.body.Close()
}
