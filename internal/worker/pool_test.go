package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// mockProcessor simulates image correction for testing
type mockProcessor struct {
	delay     time.Duration
	failNames map[string]bool
	callCount atomic.Int32
	inFlight  atomic.Int32
	peak      atomic.Int32
}

func (m *mockProcessor) Process(ctx context.Context, task Task) (string, error) {
	m.callCount.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	time.Sleep(m.delay)

	if m.failNames[task.Name] {
		return "", errors.New("simulated failure")
	}
	return "/out/" + task.Name, nil
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		name := fmt.Sprintf("frame%02d.png", i+1)
		tasks[i] = Task{Index: i, Name: name, Input: "/in/" + name, Output: "/out/" + name}
	}
	return tasks
}

func TestPool_BasicExecution(t *testing.T) {
	proc := &mockProcessor{delay: 5 * time.Millisecond}
	pool := New(Config{Workers: 2, Processor: proc})

	tasks := makeTasks(3)
	results := pool.Run(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Fatalf("Expected %d results, got %d", len(tasks), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("Unexpected error for %s: %v", r.Task.Name, r.Err)
		}
		if r.Task.Index != i {
			t.Errorf("Result %d belongs to task %d; results must keep task order", i, r.Task.Index)
		}
		if r.Output != "/out/"+tasks[i].Name {
			t.Errorf("Unexpected output %q for %s", r.Output, r.Task.Name)
		}
	}
	if proc.callCount.Load() != int32(len(tasks)) {
		t.Errorf("Expected %d processor calls, got %d", len(tasks), proc.callCount.Load())
	}
}

func TestPool_RespectsWorkerBound(t *testing.T) {
	proc := &mockProcessor{delay: 20 * time.Millisecond}
	pool := New(Config{Workers: 3, Processor: proc})

	results := pool.Run(context.Background(), makeTasks(9))
	if len(results) != 9 {
		t.Fatalf("Expected 9 results, got %d", len(results))
	}
	if peak := proc.peak.Load(); peak > 3 {
		t.Errorf("Expected at most 3 concurrent images, saw %d", peak)
	}
}

func TestPool_SequentialByDefault(t *testing.T) {
	proc := &mockProcessor{delay: 2 * time.Millisecond}
	pool := New(Config{Processor: proc})

	pool.Run(context.Background(), makeTasks(4))
	if peak := proc.peak.Load(); peak != 1 {
		t.Errorf("Expected sequential processing, saw %d concurrent", peak)
	}
}

func TestPool_ErrorHandling(t *testing.T) {
	proc := &mockProcessor{
		delay:     time.Millisecond,
		failNames: map[string]bool{"frame03.png": true},
	}
	pool := New(Config{Workers: 2, Processor: proc})

	results := pool.Run(context.Background(), makeTasks(5))
	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}

	var failCount int
	for _, r := range results {
		if r.Err != nil {
			failCount++
			if r.Task.Name != "frame03.png" {
				t.Errorf("Unexpected failure for %s", r.Task.Name)
			}
		}
	}
	if failCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failCount)
	}
}

func TestPool_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, task Task) (string, error) {
		if started.Add(1) == 2 {
			cancel()
		}
		return task.Output, nil
	})
	pool := New(Config{Workers: 1, Processor: proc})

	results := pool.Run(ctx, makeTasks(6))
	if len(results) != 6 {
		t.Fatalf("Expected a result for every task, got %d", len(results))
	}

	for i, r := range results {
		if i < 2 {
			if r.Err != nil {
				t.Errorf("Task %d started before cancellation and should succeed, got %v", i, r.Err)
			}
			continue
		}
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("Task %d should be recorded as cancelled, got %v", i, r.Err)
		}
	}
	if started.Load() != 2 {
		t.Errorf("Expected 2 started tasks, got %d", started.Load())
	}
}

func TestPool_ProgressCallback(t *testing.T) {
	proc := &mockProcessor{failNames: map[string]bool{"frame02.png": true}}

	var progressCalls atomic.Int32
	var lastCompleted, lastTotal, lastFailed int
	var failedNames []string

	pool := New(Config{
		Workers:   2,
		Processor: proc,
		OnProgress: func(r Result, completed, total int) {
			progressCalls.Add(1)
			lastCompleted, lastTotal = completed, total
			if r.Err != nil {
				lastFailed++
				failedNames = append(failedNames, r.Task.Name)
			}
		},
	})

	pool.Run(context.Background(), makeTasks(3))

	if progressCalls.Load() != 3 {
		t.Errorf("Expected 3 progress callbacks, got %d", progressCalls.Load())
	}
	if lastCompleted != 3 || lastTotal != 3 || lastFailed != 1 {
		t.Errorf("Expected final progress 3/3 with 1 failed, got %d/%d with %d failed", lastCompleted, lastTotal, lastFailed)
	}
	if len(failedNames) != 1 || failedNames[0] != "frame02.png" {
		t.Errorf("Expected the failed result for frame02.png, got %v", failedNames)
	}
}

func TestPool_EmptyTasks(t *testing.T) {
	proc := &mockProcessor{}
	pool := New(Config{Workers: 2, Processor: proc})

	if results := pool.Run(context.Background(), nil); len(results) != 0 {
		t.Errorf("Expected 0 results for empty tasks, got %d", len(results))
	}
	if proc.callCount.Load() != 0 {
		t.Errorf("Expected 0 processor calls for empty tasks, got %d", proc.callCount.Load())
	}
}
