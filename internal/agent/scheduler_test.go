package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/praxis/pkg/models"
)

// eventLog records start/end markers so tests can assert ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func loggingTool(name string, readOnly bool, log *eventLog, delay time.Duration) *fakeTool {
	return &fakeTool{
		name: name, readOnly: readOnly,
		execute: func(ctx context.Context, _ json.RawMessage, env *ExecContext, _ ProgressFunc) (*Result, error) {
			log.add("start:" + name)
			if delay > 0 {
				time.Sleep(delay)
			}
			log.add("end:" + name)
			return &Result{Rendered: name + " done"}, nil
		},
	}
}

func requestIDs(t *testing.T, results []*models.UserMessage) []string {
	t.Helper()
	ids := make([]string, 0, len(results))
	for _, r := range results {
		id, ok := r.ToolResultID()
		if !ok {
			t.Fatalf("result is not a tool result: %+v", r)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestSchedulerSerialWhenBatchMutates(t *testing.T) {
	log := &eventLog{}
	reader := loggingTool("read", true, log, 5*time.Millisecond)
	writer := loggingTool("write", false, log, 5*time.Millisecond)
	reg := NewRegistry()
	reg.Register(reader)
	reg.Register(writer)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	results := s.Run(context.Background(), []ToolRequest{
		{ID: "tu_1", Name: "read"},
		{ID: "tu_2", Name: "write"},
	}, &ExecContext{SkipPermissions: true})

	if got := requestIDs(t, results); got[0] != "tu_1" || got[1] != "tu_2" {
		t.Errorf("result order = %v", got)
	}
	want := []string{"start:read", "end:read", "start:write", "end:write"}
	got := log.all()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestSchedulerConcurrentWhenAllReadOnly(t *testing.T) {
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	var sawOverlap [2]bool

	waitFor := func(ch chan struct{}) bool {
		select {
		case <-ch:
			return true
		case <-time.After(2 * time.Second):
			return false
		}
	}

	a := &fakeTool{
		name: "grep", readOnly: true,
		execute: func(context.Context, json.RawMessage, *ExecContext, ProgressFunc) (*Result, error) {
			close(aStarted)
			sawOverlap[0] = waitFor(bStarted)
			return &Result{Rendered: "a"}, nil
		},
	}
	b := &fakeTool{
		name: "glob", readOnly: true,
		execute: func(context.Context, json.RawMessage, *ExecContext, ProgressFunc) (*Result, error) {
			close(bStarted)
			sawOverlap[1] = waitFor(aStarted)
			return &Result{Rendered: "b"}, nil
		},
	}
	reg := NewRegistry()
	reg.Register(a)
	reg.Register(b)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	results := s.Run(context.Background(), []ToolRequest{
		{ID: "tu_1", Name: "grep"},
		{ID: "tu_2", Name: "glob"},
	}, &ExecContext{})

	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if !sawOverlap[0] || !sawOverlap[1] {
		t.Errorf("read-only batch did not overlap: %v", sawOverlap)
	}
}

func TestSchedulerResultsInRequestOrder(t *testing.T) {
	slow := &fakeTool{
		name: "slow", readOnly: true,
		execute: func(context.Context, json.RawMessage, *ExecContext, ProgressFunc) (*Result, error) {
			time.Sleep(50 * time.Millisecond)
			return &Result{Rendered: "slow"}, nil
		},
	}
	fast := &fakeTool{name: "fast", readOnly: true}
	reg := NewRegistry()
	reg.Register(slow)
	reg.Register(fast)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	cap := &capture{}
	results := s.Run(context.Background(), []ToolRequest{
		{ID: "tu_1", Name: "slow"},
		{ID: "tu_2", Name: "fast"},
		{ID: "tu_3", Name: "fast"},
	}, &ExecContext{Emit: cap.emit})

	if got := requestIDs(t, results); got[0] != "tu_1" || got[1] != "tu_2" || got[2] != "tu_3" {
		t.Errorf("result order = %v", got)
	}

	// Emission follows completion, so the slow call lands last.
	emitted := cap.all()
	if len(emitted) != 3 {
		t.Fatalf("emitted = %d", len(emitted))
	}
	last, ok := emitted[2].(*models.UserMessage)
	if !ok {
		t.Fatalf("emitted %T", emitted[2])
	}
	if id, _ := last.ToolResultID(); id != "tu_1" {
		t.Errorf("last emitted = %s, want tu_1", id)
	}
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	tool := &fakeTool{
		name: "read", readOnly: true,
		execute: func(context.Context, json.RawMessage, *ExecContext, ProgressFunc) (*Result, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return &Result{Rendered: "ok"}, nil
		},
	}
	reg := NewRegistry()
	reg.Register(tool)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	reqs := make([]ToolRequest, 25)
	for i := range reqs {
		reqs[i] = ToolRequest{ID: "tu_" + string(rune('a'+i)), Name: "read"}
	}
	results := s.Run(context.Background(), reqs, &ExecContext{})

	if len(results) != 25 {
		t.Fatalf("results = %d", len(results))
	}
	if peak > 10 {
		t.Errorf("peak concurrency = %d", peak)
	}
	if peak < 2 {
		t.Errorf("batch never overlapped, peak = %d", peak)
	}
}

func TestSchedulerFailureDoesNotCancelSiblings(t *testing.T) {
	failing := &fakeTool{
		name: "grep", readOnly: true,
		execute: func(context.Context, json.RawMessage, *ExecContext, ProgressFunc) (*Result, error) {
			return nil, errors.New("pattern error")
		},
	}
	fine := &fakeTool{name: "glob", readOnly: true}
	reg := NewRegistry()
	reg.Register(failing)
	reg.Register(fine)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	results := s.Run(context.Background(), []ToolRequest{
		{ID: "tu_1", Name: "grep"},
		{ID: "tu_2", Name: "glob"},
	}, &ExecContext{})

	if _, isError := resultContent(t, results[0]); !isError {
		t.Error("failing call did not error")
	}
	if content, isError := resultContent(t, results[1]); isError {
		t.Errorf("sibling affected by failure: %q", content)
	}
}

func TestSchedulerCancellationResolvesEveryRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeTool{
		name: "write",
		execute: func(context.Context, json.RawMessage, *ExecContext, ProgressFunc) (*Result, error) {
			cancel()
			return &Result{Rendered: "first done"}, nil
		},
	}
	second := &fakeTool{name: "edit"}
	reg := NewRegistry()
	reg.Register(first)
	reg.Register(second)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	results := s.Run(ctx, []ToolRequest{
		{ID: "tu_1", Name: "write"},
		{ID: "tu_2", Name: "edit"},
	}, &ExecContext{Permissions: approveAll})

	if len(results) != 2 {
		t.Fatalf("results = %d, every request must resolve", len(results))
	}
	if content, isError := resultContent(t, results[0]); isError || content != "first done" {
		t.Errorf("first = %q, isError = %v", content, isError)
	}
	content, isError := resultContent(t, results[1])
	if !isError || !strings.Contains(content, "canceled") {
		t.Errorf("second = %q, isError = %v", content, isError)
	}
}

func TestSchedulerEmptyBatch(t *testing.T) {
	reg := NewRegistry()
	s := NewScheduler(NewPipeline(reg), reg, 10)
	if results := s.Run(context.Background(), nil, &ExecContext{}); results != nil {
		t.Errorf("results = %v", results)
	}
}

func TestSchedulerUnknownToolInBatch(t *testing.T) {
	reader := &fakeTool{name: "read", readOnly: true}
	reg := NewRegistry()
	reg.Register(reader)
	s := NewScheduler(NewPipeline(reg), reg, 10)

	results := s.Run(context.Background(), []ToolRequest{
		{ID: "tu_1", Name: "read"},
		{ID: "tu_2", Name: "vanished"},
	}, &ExecContext{})

	if content, isError := resultContent(t, results[0]); isError {
		t.Errorf("known tool errored: %q", content)
	}
	content, isError := resultContent(t, results[1])
	if !isError || !strings.Contains(content, "tool not found") {
		t.Errorf("unknown tool result = %q", content)
	}
}
