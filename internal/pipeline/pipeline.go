package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nao1215/shopwalk/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, with each step receiving the record
// filled in by previous steps.
type Step interface {
	// Do executes the step. Returning an error marks the session failed.
	Do(ctx context.Context, record *model.SessionRecord) error

	// Name returns the step's name for logging and the record's step list.
	Name() string
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	// logger is used for structured logging during execution.
	logger *slog.Logger

	// continueOnError determines whether to continue executing steps
	// after one fails. If false, the pipeline stops on first error.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to continue execution
// even when a step fails.
//
// Design decision: The default is to stop, because a failed landing page
// makes the search step meaningless. Capture-only pipelines may opt in.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in sequence.
// Cancellation is checked before each step; a cancelled or expired context
// marks the record as timed out.
//
// Returns the first error encountered if continueOnError is false,
// otherwise the last one. Errors are also recorded on the record.
func (p *Pipeline) Execute(ctx context.Context, record *model.SessionRecord) error {
	var lastErr error

	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"session", record.ID,
				"reason", ctx.Err(),
			)
			record.TimedOut = true
			record.SetError(ctx.Err())
			return ctx.Err()
		default:
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"session", record.ID,
			"query", record.Query,
		)

		if err := step.Do(ctx, record); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"session", record.ID,
				"error", err,
			)

			record.SetError(err)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				record.TimedOut = true
			}
			lastErr = err

			if !p.continueOnError {
				return err
			}
			continue
		}

		record.Steps = append(record.Steps, step.Name())
	}

	return lastErr
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
