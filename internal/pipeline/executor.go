package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/mediavault/internal/logger"
)

const (
	msgNoActions   = "no applicable actions"
	msgNoResult    = "pipeline completed without a final result"
	errKeyFault    = "exception"
	errKeyCanceled = "cancelled"
)

// Observer receives per-action and per-run outcomes. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveAction(action, outcome string, d time.Duration)
	ObservePipeline(outcome string)
}

// Executor runs the Registry's actions over a Context.
type Executor struct {
	registry *Registry
	observer Observer
}

// NewExecutor creates an Executor. observer may be nil.
func NewExecutor(registry *Registry, observer Observer) *Executor {
	return &Executor{registry: registry, observer: observer}
}

// Registry returns the registry the executor draws actions from.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Run executes the applicable actions in priority order until one returns a
// terminal Result. It never panics and never returns nil.
func (e *Executor) Run(ctx context.Context, c *Context) Result {
	actions := e.registry.ForContext(c)
	if len(actions) == 0 {
		return e.finish(Fail(ErrConfiguration, msgNoActions, nil))
	}

	current := c
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return e.finish(Fail(ErrAction, fmt.Sprintf("pipeline interrupted: %v", err),
				map[string]string{errKeyCanceled: err.Error()}))
		}

		start := time.Now()
		result := e.execute(ctx, action, current)
		e.observeAction(action.Name(), result, time.Since(start))

		switch r := result.(type) {
		case *Continue:
			current = r.Context
		case *Success:
			logger.With(logger.Fields{
				logger.FieldAction:     action.Name(),
				logger.FieldDurationMs: time.Since(start).Milliseconds(),
			}).Debug(ctx, "Pipeline finished with success at action %s", action.Name())
			return e.finish(r)
		case *Failure:
			logger.With(logger.Fields{
				logger.FieldAction: action.Name(),
			}).Warn(ctx, "Pipeline failed at action %s: %s", action.Name(), r.Message)
			return e.finish(r)
		}
	}

	return e.finish(Fail(ErrConfiguration, msgNoResult, nil))
}

// execute calls one action, converting panics and malformed results into a Failure.
func (e *Executor) execute(ctx context.Context, action Action, c *Context) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprint(rec)
			if err, ok := rec.(error); ok {
				msg = err.Error()
			}
			logger.CtxError(ctx, "Action %s panicked: %s", action.Name(), msg)
			result = Fail(ErrAction, msg, map[string]string{errKeyFault: msg})
		}
	}()

	result = action.Execute(ctx, c)
	switch r := result.(type) {
	case nil:
		msg := fmt.Sprintf("action %s returned no result", action.Name())
		return Fail(ErrConfiguration, msg, map[string]string{errKeyFault: msg})
	case *Continue:
		if r == nil || r.Context == nil {
			msg := fmt.Sprintf("action %s continued without a context", action.Name())
			return Fail(ErrConfiguration, msg, map[string]string{errKeyFault: msg})
		}
	case *Success:
		if r == nil {
			msg := fmt.Sprintf("action %s returned a nil success", action.Name())
			return Fail(ErrConfiguration, msg, map[string]string{errKeyFault: msg})
		}
	case *Failure:
		if r == nil {
			msg := fmt.Sprintf("action %s returned a nil failure", action.Name())
			return Fail(ErrConfiguration, msg, map[string]string{errKeyFault: msg})
		}
	}
	return result
}

func (e *Executor) observeAction(name string, r Result, d time.Duration) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveAction(name, outcomeOf(r), d)
}

func (e *Executor) finish(r Result) Result {
	if e.observer != nil {
		e.observer.ObservePipeline(outcomeOf(r))
	}
	return r
}

func outcomeOf(r Result) string {
	switch r.(type) {
	case *Continue:
		return "continue"
	case *Success:
		return "success"
	default:
		return "failure"
	}
}
