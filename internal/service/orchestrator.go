// Package service holds the generation core: the step orchestrator that
// drives the model/tool loop and the session manager that owns session
// lifecycles.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/conversation"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/event"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/session"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/convstore"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/eventlog"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/port/model"
)

// phase is the orchestrator's position in the generation state machine.
type phase int

const (
	phaseAwaitingModel phase = iota
	phaseModelEmitting
	phaseToolsPending
	phaseToolsExecuting
	phaseDone
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseAwaitingModel:
		return "awaiting-model"
	case phaseModelEmitting:
		return "model-emitting"
	case phaseToolsPending:
		return "tools-pending"
	case phaseToolsExecuting:
		return "tools-executing"
	case phaseDone:
		return "done"
	case phaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolRunner executes one validated tool call. Satisfied by
// tools.Registry.
type ToolRunner interface {
	Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
}

// Orchestrator runs bounded model/tool loops. One Orchestrator serves
// all sessions; each Run call owns exactly one session and is the only
// writer to that session's event log.
type Orchestrator struct {
	invoker  model.Invoker
	runner   ToolRunner
	log      eventlog.Log
	store    convstore.Store
	logger   *slog.Logger
	metrics  Metrics
	maxSteps int
	budget   time.Duration
}

// NewOrchestrator wires the orchestrator's collaborators. maxSteps
// bounds model round trips; budget is the wall-clock limit per session.
func NewOrchestrator(invoker model.Invoker, runner ToolRunner, log eventlog.Log, store convstore.Store, logger *slog.Logger, metrics Metrics, maxSteps int, budget time.Duration) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		invoker:  invoker,
		runner:   runner,
		log:      log,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		maxSteps: maxSteps,
		budget:   budget,
	}
}

// run is the working state of one session's loop.
type run struct {
	o         *Orchestrator
	sess      session.Session
	history   []conversation.Message
	specs     []tool.Spec
	cancelled *atomic.Bool
	deadline  time.Time
	logger    *slog.Logger

	phase     phase
	seq       uint64
	steps     int
	assistant conversation.Message
}

// Run drives one session to a terminal state and returns it. The ctx is
// the session's lifetime, detached from any client connection; cancelled
// is the cooperative cancel flag flipped by the session manager. Run
// never leaves the event log without a terminal event unless the log
// itself is failing.
func (o *Orchestrator) Run(ctx context.Context, sess session.Session, history []conversation.Message, specs []tool.Spec, cancelled *atomic.Bool) session.State {
	r := &run{
		o:         o,
		sess:      sess,
		history:   history,
		specs:     specs,
		cancelled: cancelled,
		deadline:  time.Now().Add(o.budget),
		logger:    o.logger.With("session_id", sess.ID, "conversation_id", sess.ConversationID),
		phase:     phaseAwaitingModel,
		assistant: conversation.Message{
			ConversationID: sess.ConversationID,
			Role:           conversation.RoleAssistant,
		},
	}
	return r.loop(ctx)
}

func (r *run) loop(ctx context.Context) session.State {
	for r.steps < r.o.maxSteps {
		if reason, stop := r.checkpoint(); stop {
			return r.finish(ctx, reason)
		}

		r.setPhase(phaseAwaitingModel)
		r.steps++

		calls, err := r.modelStep(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && time.Now().After(r.deadline) {
				return r.finish(ctx, event.ReasonTruncated)
			}
			return r.fail(ctx, err)
		}

		if reason, stop := r.checkpoint(); stop {
			return r.finish(ctx, reason)
		}

		if len(calls) == 0 {
			return r.finish(ctx, event.ReasonComplete)
		}

		r.setPhase(phaseToolsPending)
		if err := r.announceCalls(ctx, calls); err != nil {
			return r.fail(ctx, err)
		}

		r.setPhase(phaseToolsExecuting)
		if err := r.executeCalls(ctx, calls); err != nil {
			return r.fail(ctx, err)
		}
	}

	return r.finish(ctx, event.ReasonTruncated)
}

// checkpoint is the cooperative stop check between model chunks, before
// each step and after each tool step.
func (r *run) checkpoint() (event.DoneReason, bool) {
	if r.cancelled.Load() {
		return event.ReasonCancelled, true
	}
	if time.Now().After(r.deadline) {
		return event.ReasonTruncated, true
	}
	return "", false
}

// modelStep invokes the model once and streams its chunks: text deltas
// go straight to the event log, tool call requests are collected and
// returned complete.
func (r *run) modelStep(ctx context.Context) ([]model.ToolCallRequest, error) {
	stepCtx, cancel := context.WithDeadline(ctx, r.deadline)
	defer cancel()

	stream, err := r.o.invoker.Invoke(stepCtx, model.Request{
		Messages: r.modelMessages(),
		Tools:    r.specs,
	})
	if err != nil {
		return nil, fmt.Errorf("model invoke: %w", err)
	}
	defer func() { _ = stream.Close() }()

	r.setPhase(phaseModelEmitting)

	var calls []model.ToolCallRequest
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return calls, nil
		}
		if err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}

		if _, stop := r.checkpoint(); stop {
			// Stop reading; the partial text already committed stays
			// and the loop-level checkpoint decides the terminal reason.
			return nil, nil
		}

		switch chunk.Kind {
		case model.ChunkTextDelta:
			if chunk.Text == "" {
				continue
			}
			if err := r.append(ctx, event.KindTextDelta, event.TextDeltaPayload{Text: chunk.Text}); err != nil {
				return nil, err
			}
			r.appendText(chunk.Text)
		case model.ChunkToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		}
	}
}

// modelMessages is the history plus the in-progress assistant message,
// when it has any parts yet.
func (r *run) modelMessages() []conversation.Message {
	if len(r.assistant.Parts) == 0 {
		return r.history
	}
	msgs := make([]conversation.Message, 0, len(r.history)+1)
	msgs = append(msgs, r.history...)
	msgs = append(msgs, r.assistant)
	return msgs
}

// announceCalls commits a tool-call-start event per call, in request
// order, and records the calls on the assistant message.
func (r *run) announceCalls(ctx context.Context, calls []model.ToolCallRequest) error {
	for i := range calls {
		call := &calls[i]
		if err := r.append(ctx, event.KindToolCallStart, event.ToolCallStartPayload{
			CallID: call.CallID,
			Name:   call.Name,
			Input:  call.Input,
		}); err != nil {
			return err
		}
		r.assistant.Parts = append(r.assistant.Parts, conversation.Part{
			Type: conversation.PartToolCall,
			ToolCall: &conversation.ToolCallPart{
				CallID: call.CallID,
				Name:   call.Name,
				Input:  call.Input,
			},
		})
	}
	return nil
}

type callOutcome struct {
	output json.RawMessage
	err    error
}

// executeCalls runs the step's tool calls concurrently but commits their
// result and error events strictly in request order: a result that
// finishes early waits on its predecessor's commit. A failing tool
// yields a tool-call-error event and the loop continues.
func (r *run) executeCalls(ctx context.Context, calls []model.ToolCallRequest) error {
	outcomes := make([]callOutcome, len(calls))
	ready := make([]chan struct{}, len(calls))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range calls {
		g.Go(func() error {
			out, err := r.o.runner.Invoke(groupCtx, calls[i].Name, calls[i].Input)
			outcomes[i] = callOutcome{output: out, err: err}
			close(ready[i])
			return nil
		})
	}

	for i := range calls {
		<-ready[i]
		call := &calls[i]
		outcome := &outcomes[i]

		if outcome.err != nil {
			r.o.metrics.ToolCall(ctx, call.Name, false)
			r.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.CallID, "error", outcome.err)
			if err := r.append(ctx, event.KindToolCallError, event.ToolCallErrorPayload{
				CallID: call.CallID,
				Name:   call.Name,
				Error:  outcome.err.Error(),
			}); err != nil {
				return err
			}
			r.assistant.Parts = append(r.assistant.Parts, conversation.Part{
				Type: conversation.PartToolResult,
				ToolResult: &conversation.ToolResultPart{
					CallID: call.CallID,
					Name:   call.Name,
					Error:  outcome.err.Error(),
				},
			})
			continue
		}

		r.o.metrics.ToolCall(ctx, call.Name, true)
		if err := r.append(ctx, event.KindToolCallResult, event.ToolCallResultPayload{
			CallID: call.CallID,
			Name:   call.Name,
			Output: outcome.output,
		}); err != nil {
			return err
		}
		r.assistant.Parts = append(r.assistant.Parts, conversation.Part{
			Type: conversation.PartToolResult,
			ToolResult: &conversation.ToolResultPart{
				CallID: call.CallID,
				Name:   call.Name,
				Output: outcome.output,
			},
		})
	}

	_ = g.Wait()
	return nil
}

// finish persists the assembled assistant message and commits the
// terminal done event. Persistence failure is logged and reported in
// the done payload by an absent message id, never surfaced as a stream
// failure.
func (r *run) finish(ctx context.Context, reason event.DoneReason) session.State {
	r.setPhase(phaseDone)

	var messageID string
	if msg, err := r.persist(ctx); err != nil {
		r.logger.Error("assistant message persistence failed", "error", err)
	} else {
		messageID = msg.ID
	}

	if err := r.append(ctx, event.KindDone, event.DonePayload{
		Reason:    reason,
		MessageID: messageID,
		Steps:     r.steps,
	}); err != nil {
		r.logger.Error("terminal done append failed", "error", err)
		return session.StateFailed
	}

	switch reason {
	case event.ReasonCancelled:
		return session.StateCancelled
	default:
		return session.StateCompleted
	}
}

// fail commits a best-effort stream-error terminal event and persists
// whatever partial assistant message exists. Committed events are never
// retracted.
func (r *run) fail(ctx context.Context, cause error) session.State {
	r.setPhase(phaseFailed)
	r.logger.Error("generation failed", "step", r.steps, "error", cause)

	if _, err := r.persist(ctx); err != nil {
		r.logger.Error("partial message persistence failed", "error", err)
	}

	if err := r.append(ctx, event.KindStreamError, event.StreamErrorPayload{Error: cause.Error()}); err != nil {
		r.logger.Error("stream-error append failed", "error", err)
	}
	return session.StateFailed
}

// persist writes the assembled assistant message to the conversation
// store. An assistant message with no parts is not persisted.
func (r *run) persist(ctx context.Context) (conversation.Message, error) {
	if len(r.assistant.Parts) == 0 {
		return conversation.Message{}, nil
	}
	// Detached from the session ctx so a cancelled session still
	// persists what it produced.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return r.o.store.AppendMessage(persistCtx, r.assistant)
}

// append commits one event at the next sequence number. An append error
// is fatal to the session; the log is the source of truth and must not
// gap.
func (r *run) append(ctx context.Context, kind event.Kind, payload any) error {
	ev := event.New(r.sess.ID, r.seq, kind, payload)
	if err := r.o.log.Append(ctx, ev); err != nil {
		return fmt.Errorf("append %s at seq %d: %w", kind, r.seq, err)
	}
	r.seq++
	r.o.metrics.EventAppended(ctx, string(kind))
	return nil
}

// appendText extends the trailing text part, opening a new one after
// tool parts so emission order survives in the persisted message.
func (r *run) appendText(text string) {
	if n := len(r.assistant.Parts); n > 0 && r.assistant.Parts[n-1].Type == conversation.PartText {
		r.assistant.Parts[n-1].Text += text
		return
	}
	r.assistant.Parts = append(r.assistant.Parts, conversation.TextPart(text))
}

func (r *run) setPhase(p phase) {
	if r.phase == p {
		return
	}
	r.logger.Debug("phase transition", "from", r.phase.String(), "to", p.String(), "step", r.steps)
	r.phase = p
}
