package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/praxis/pkg/models"
)

// maxConcurrentTools is the ceiling on the read-only worker pool regardless
// of configuration.
const maxConcurrentTools = 10

// Scheduler runs a tool batch. A batch of exclusively read-only tools runs
// concurrently under a bounded pool; a batch containing any mutating tool
// runs serially in request order, sibling reads included.
type Scheduler struct {
	pipeline *Pipeline
	registry *Registry
	limit    int
}

// NewScheduler builds a scheduler. The limit is clamped to the pool ceiling.
func NewScheduler(pipeline *Pipeline, registry *Registry, limit int) *Scheduler {
	if limit <= 0 || limit > maxConcurrentTools {
		limit = maxConcurrentTools
	}
	return &Scheduler{pipeline: pipeline, registry: registry, limit: limit}
}

// Run executes the batch. Terminal messages flow through env.Emit in
// completion order; the returned slice is in request order. One failing tool
// never cancels its siblings, and every request resolves to exactly one
// result message even under cancellation.
func (s *Scheduler) Run(ctx context.Context, reqs []ToolRequest, env *ExecContext) []*models.UserMessage {
	if len(reqs) == 0 {
		return nil
	}
	if s.allReadOnly(reqs) {
		return s.runConcurrent(ctx, reqs, env)
	}
	return s.runSerial(ctx, reqs, env)
}

// allReadOnly reports whether every requested tool is known and read-only.
// Unknown tools resolve as error results either way; treating them as
// mutating keeps the batch serial.
func (s *Scheduler) allReadOnly(reqs []ToolRequest) bool {
	for _, req := range reqs {
		tool, ok := s.registry.Get(req.Name)
		if !ok || !tool.ReadOnly() {
			return false
		}
	}
	return true
}

func (s *Scheduler) runConcurrent(ctx context.Context, reqs []ToolRequest, env *ExecContext) []*models.UserMessage {
	results := make([]*models.UserMessage, len(reqs))
	sem := make(chan struct{}, s.limit)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r ToolRequest) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = errorResult(r, "tool execution canceled")
				env.emit(results[idx])
				return
			}

			msg := s.pipeline.Invoke(ctx, r, env)
			results[idx] = msg
			env.emit(msg)
		}(i, req)
	}

	wg.Wait()
	return results
}

func (s *Scheduler) runSerial(ctx context.Context, reqs []ToolRequest, env *ExecContext) []*models.UserMessage {
	results := make([]*models.UserMessage, len(reqs))
	for i, req := range reqs {
		if ctx.Err() != nil {
			results[i] = errorResult(req, "tool execution canceled")
			env.emit(results[i])
			continue
		}
		msg := s.pipeline.Invoke(ctx, req, env)
		results[i] = msg
		env.emit(msg)
	}
	return results
}
