package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/functions"
)

// Dispatcher executes named functions
type Dispatcher interface {
	Call(ctx context.Context, name string, params map[string]interface{}) functions.FunctionResult
	Canonical(name string) (string, bool)
	List() []functions.Descriptor
}

// Processor executes extracted calls. Calls to functions that write source
// files are held back: they run last, one at a time, each followed by a
// settle delay so a watcher-triggered restart can finish.
type Processor struct {
	dispatcher Dispatcher
	settle     time.Duration
	logger     *zap.Logger
}

// NewProcessor creates a processor
func NewProcessor(d Dispatcher, settle time.Duration, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{dispatcher: d, settle: settle, logger: logger}
}

// Deferred reports whether name writes source files
func (p *Processor) Deferred(name string) bool {
	if functions.FileWriting[name] {
		return true
	}
	canonical, ok := p.dispatcher.Canonical(name)
	return ok && functions.FileWriting[canonical]
}

// Split separates calls into those to run now and the deferred ones,
// keeping their relative order
func (p *Processor) Split(calls []Call) (now, later []Call) {
	for _, c := range calls {
		if p.Deferred(c.Function) {
			later = append(later, c)
		} else {
			now = append(now, c)
		}
	}
	return now, later
}

// Execute runs one call
func (p *Processor) Execute(ctx context.Context, c Call) functions.FunctionResult {
	start := time.Now()
	res := p.dispatcher.Call(ctx, c.Function, c.Params)
	p.logger.Debug("function executed",
		zap.String("function", c.Function),
		zap.Bool("success", res.Result.Success),
		zap.Duration("took", time.Since(start)))
	return res
}

// Run executes calls in order, stopping early when ctx is done
func (p *Processor) Run(ctx context.Context, calls []Call) []functions.FunctionResult {
	out := make([]functions.FunctionResult, 0, len(calls))
	for _, c := range calls {
		if ctx.Err() != nil {
			break
		}
		out = append(out, p.Execute(ctx, c))
	}
	return out
}

// RunDeferred executes file-writing calls with the settle delay after each
func (p *Processor) RunDeferred(ctx context.Context, calls []Call) []functions.FunctionResult {
	out := make([]functions.FunctionResult, 0, len(calls))
	for _, c := range calls {
		if ctx.Err() != nil {
			break
		}
		out = append(out, p.Execute(ctx, c))
		if p.settle > 0 {
			select {
			case <-time.After(p.settle):
			case <-ctx.Done():
			}
		}
	}
	return out
}
