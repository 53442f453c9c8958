package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/functions"
)

// Stream event types
const (
	EventStart    = "start"
	EventThinking = "thinking"
	EventFunction = "function"
	EventPartial  = "partial"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one server-sent event of a streamed reply
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// H is the payload of an event
type H map[string]interface{}

// Emitter receives stream events. Service serialises calls to it.
type Emitter func(Event) error

// Reply is the outcome of one chat turn
type Reply struct {
	Response        string                     `json:"response"`
	FunctionResults []functions.FunctionResult `json:"functionResults"`
	// Pending lists the file-writing calls run by Finish
	Pending []string `json:"pending,omitempty"`

	deferred []Call
	key      string
}

// Service runs chat turns: history, completion, call execution and session
// bookkeeping
type Service struct {
	llm       Completer
	calls     Dispatcher
	store     SessionStore
	processor *Processor
	history   int
	logger    *zap.Logger
	now       func() time.Time
}

// Options configures a Service
type Options struct {
	// History is the number of stored messages sent with each request
	History     int
	SettleDelay time.Duration
	Logger      *zap.Logger
}

// NewService creates a chat service
func NewService(llm Completer, calls Dispatcher, store SessionStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.History <= 0 {
		opts.History = 20
	}
	return &Service{
		llm:       llm,
		calls:     calls,
		store:     store,
		processor: NewProcessor(calls, opts.SettleDelay, opts.Logger),
		history:   opts.History,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Processor returns the call processor
func (s *Service) Processor() *Processor { return s.processor }

// Respond runs a buffered turn. File-writing calls are not executed here:
// they are listed in Reply.Pending and run by Finish once the reply has
// been delivered.
func (s *Service) Respond(ctx context.Context, userID uint, message string) (*Reply, error) {
	key := SessionKey(userID)
	msgs, err := s.prompt(ctx, key, message)
	if err != nil {
		return nil, err
	}
	text, err := s.llm.Complete(ctx, msgs)
	if err != nil {
		s.logger.Error("completion failed", zap.Uint("user", userID), zap.Error(err))
		return nil, err
	}

	calls := Extract(text)
	now, later := s.processor.Split(calls)
	results := s.processor.Run(ctx, now)

	reply := &Reply{Response: Clean(text), FunctionResults: results, deferred: later, key: key}
	for _, c := range later {
		reply.Pending = append(reply.Pending, c.Function)
	}
	s.record(ctx, key, message, reply.Response, results)
	s.logger.Debug("chat turn", zap.Uint("user", userID), zap.Int("calls", len(calls)), zap.Int("deferred", len(later)))
	return reply, nil
}

// Finish executes the deferred calls of reply and stores their results
func (s *Service) Finish(ctx context.Context, reply *Reply) []functions.FunctionResult {
	if reply == nil || len(reply.deferred) == 0 {
		return nil
	}
	results := s.processor.RunDeferred(ctx, reply.deferred)
	reply.deferred = nil
	s.recordResults(ctx, reply.key, results)
	return results
}

// Stream runs a streamed turn. Calls execute as soon as their JSON closes
// while text keeps streaming; file-writing calls run after the complete
// event. Cancelling ctx stops reading and starts no further calls.
func (s *Service) Stream(ctx context.Context, userID uint, message string, emit Emitter) error {
	var mu sync.Mutex
	send := func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		return emit(e)
	}

	key := SessionKey(userID)
	if err := send(Event{Type: EventStart, Data: H{"timestamp": s.now()}}); err != nil {
		return err
	}
	msgs, err := s.prompt(ctx, key, message)
	if err != nil {
		_ = send(Event{Type: EventError, Data: H{"message": err.Error()}})
		return err
	}
	if err := send(Event{Type: EventThinking, Data: H{"message": "Thinking..."}}); err != nil {
		return err
	}

	detector := NewStreamDetector()
	var (
		resMu   sync.Mutex
		results []functions.FunctionResult
		later   []Call
	)
	var g errgroup.Group
	execute := func(c Call) {
		g.Go(func() error {
			_ = send(Event{Type: EventFunction, Data: H{
				"function": c.Function, "params": c.Params, "status": "running",
			}})
			res := s.processor.Execute(ctx, c)
			resMu.Lock()
			results = append(results, res)
			resMu.Unlock()
			return send(Event{Type: EventFunction, Data: functionEvent(res, "done")})
		})
	}
	dispatch := func(calls []Call) {
		for _, c := range calls {
			if ctx.Err() != nil {
				return
			}
			if s.processor.Deferred(c.Function) {
				later = append(later, c)
				continue
			}
			execute(c)
		}
	}

	streamErr := s.llm.Stream(ctx, msgs, func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dispatch(detector.Feed(delta))
		return send(Event{Type: EventPartial, Data: H{"content": delta}})
	})
	waitErr := g.Wait()

	if streamErr != nil {
		s.logger.Warn("chat stream ended with error", zap.Uint("user", userID), zap.Error(streamErr))
		if ctx.Err() == nil {
			_ = send(Event{Type: EventError, Data: H{"message": streamErr.Error()}})
		}
		return streamErr
	}
	if waitErr != nil {
		return waitErr
	}

	// calls that only a full-text scan finds, such as objects the stream
	// abandoned on a stray closer
	for _, c := range Extract(detector.Text()) {
		if !detector.Seen(c) {
			dispatch([]Call{c})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	text := Clean(detector.Text())
	s.record(ctx, key, message, text, results)
	pending := make([]string, 0, len(later))
	for _, c := range later {
		pending = append(pending, c.Function)
	}
	if err := send(Event{Type: EventComplete, Data: H{
		"response": text, "functionResults": results, "pending": pending,
	}}); err != nil {
		return err
	}

	deferred := s.processor.RunDeferred(ctx, later)
	for _, res := range deferred {
		if err := send(Event{Type: EventFunction, Data: functionEvent(res, "done")}); err != nil {
			return err
		}
	}
	s.recordResults(ctx, key, deferred)
	return nil
}

// Clear forgets the conversation of userID
func (s *Service) Clear(ctx context.Context, userID uint) error {
	return s.store.Clear(ctx, SessionKey(userID))
}

// History returns the stored conversation of userID
func (s *Service) History(ctx context.Context, userID uint) ([]Message, error) {
	return s.store.Get(ctx, SessionKey(userID))
}

func (s *Service) prompt(ctx context.Context, key, message string) ([]LLMMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewValidationError("message", "message is required")
	}
	stored, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("session read failed", zap.String("session", key), zap.Error(err))
		stored = nil
	}
	if len(stored) > s.history {
		stored = stored[len(stored)-s.history:]
	}

	out := make([]LLMMessage, 0, len(stored)+2)
	out = append(out, LLMMessage{Role: RoleSystem, Content: SystemPrompt(s.calls.List())})
	for _, m := range stored {
		out = append(out, LLMMessage{Role: m.Role, Content: m.Content})
	}
	return append(out, LLMMessage{Role: RoleUser, Content: message}), nil
}

func (s *Service) record(ctx context.Context, key, user, assistant string, results []functions.FunctionResult) {
	now := s.now()
	err := s.store.Append(ctx, key,
		Message{ID: uuid.NewString(), Role: RoleUser, Content: user, Timestamp: now},
		Message{ID: uuid.NewString(), Role: RoleAssistant, Content: assistant, Timestamp: now, FunctionCalls: results},
	)
	if err != nil {
		s.logger.Warn("session write failed", zap.String("session", key), zap.Error(err))
	}
}

func (s *Service) recordResults(ctx context.Context, key string, results []functions.FunctionResult) {
	if len(results) == 0 {
		return
	}
	err := s.store.Append(ctx, key, Message{
		ID: uuid.NewString(), Role: RoleAssistant, Content: Summarize(results),
		Timestamp: s.now(), FunctionCalls: results,
	})
	if err != nil {
		s.logger.Warn("session write failed", zap.String("session", key), zap.Error(err))
	}
}

// Summarize renders results as one line per call
func Summarize(results []functions.FunctionResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		mark := "ok"
		if !r.Result.Success {
			mark = "failed"
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", r.Function, mark, r.Result.Message))
	}
	return strings.Join(lines, "\n")
}

func functionEvent(res functions.FunctionResult, status string) H {
	return H{
		"function": res.Function, "params": res.Params, "result": res.Result, "status": status,
	}
}

// SystemPrompt describes the callable functions and the call format
func SystemPrompt(tools []functions.Descriptor) string {
	var b strings.Builder
	b.WriteString("You are the assistant of a low-code administration backend. ")
	b.WriteString("You can create and change models, CRUD interfaces, migrations, seeders, menus, modules and permissions ")
	b.WriteString("by calling functions.\n\n")
	b.WriteString("To call a function, write a JSON object on its own, for example:\n")
	b.WriteString("```json\n{\"function\": \"getModels\", \"params\": {}}\n```\n")
	b.WriteString("Write each call once. Explain briefly what you are doing in plain text around the calls.\n\n")
	b.WriteString("Available functions:\n")
	for _, t := range tools {
		schema, _ := json.Marshal(t.InputSchema["properties"])
		fmt.Fprintf(&b, "- %s: %s %s\n", t.Name, t.Description, schema)
	}
	return b.String()
}
