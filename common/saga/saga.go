package saga

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many compensations run at once
const DefaultConcurrency = 8

// Saga records compensating actions for work already done
// Steps are registered as work succeeds. On failure Compensate runs every
// registered step; on success Complete forgets them.
type Saga struct {
	mu          sync.Mutex
	steps       []step
	concurrency int
	done        bool
}

type step struct {
	name string
	undo func(ctx context.Context) error
}

// StepError reports one compensation that did not succeed
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Option configures a Saga
type Option func(*Saga)

// WithConcurrency sets the compensation fan-out (1 runs steps in reverse order)
func WithConcurrency(n int) Option {
	return func(s *Saga) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates an empty saga
func New(opts ...Option) *Saga {
	s := &Saga{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the compensation for a step that has just succeeded
func (s *Saga) Register(name string, undo func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps = append(s.steps, step{name: name, undo: undo})
}

// Len returns the number of registered compensations
func (s *Saga) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Complete marks the saga successful; later Compensate calls do nothing
func (s *Saga) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = true
	s.steps = nil
}

// Compensate runs every registered compensation once, best effort
// A failing step never stops the others. Failures come back in registration order.
func (s *Saga) Compensate(ctx context.Context) []*StepError {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	if len(steps) == 0 {
		return nil
	}

	results := make([]error, len(steps))

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	// Launch newest first so a limit of 1 unwinds in reverse order
	for i := len(steps) - 1; i >= 0; i-- {
		g.Go(func() error {
			results[i] = runStep(ctx, steps[i])
			return nil
		})
	}
	_ = g.Wait()

	var failures []*StepError
	for i, err := range results {
		if err != nil {
			failures = append(failures, &StepError{Step: steps[i].name, Err: err})
		}
	}
	return failures
}

func runStep(ctx context.Context, st step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.undo(ctx)
}
