package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func job(path string, delay time.Duration) JobFunc {
	return func(node string, emit func(EventKind, string)) (string, error) {
		time.Sleep(delay)
		return path, nil
	}
}

func failingJob(msg string) JobFunc {
	return func(node string, emit func(EventKind, string)) (string, error) {
		return "", fmt.Errorf("%s", msg)
	}
}

func TestRun_DiamondCompletesInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) JobFunc {
		return func(node string, emit func(EventKind, string)) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return "/opt/" + name, nil
		}
	}

	nodes := []*Node{
		{Name: "c", Job: record("c")},
		{Name: "a", Deps: []string{"c"}, Job: record("a")},
		{Name: "b", Deps: []string{"c"}, Job: record("b")},
		{Name: "x", Deps: []string{"a", "b"}, Job: record("x")},
	}
	p := New(nodes, 4)
	go drain(p.Events)
	results := p.Run()

	pos := map[string]int{}
	for i, r := range order {
		pos[r] = i
	}
	if pos["c"] > pos["a"] || pos["c"] > pos["b"] || pos["a"] > pos["x"] || pos["b"] > pos["x"] {
		t.Fatalf("unexpected order: %v", order)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("node %s failed: %v", r.Name, r.Err)
		}
	}
}

func TestRun_FailurePropagatesToDependentsOnly(t *testing.T) {
	nodes := []*Node{
		{Name: "bad", Job: failingJob("boom")},
		{Name: "dependent", Deps: []string{"bad"}, Job: job("/opt/dependent", 0)},
		{Name: "independent", Job: job("/opt/independent", 0)},
	}
	p := New(nodes, 4)
	go drain(p.Events)
	results := p.Run()

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}

	if byName["bad"].Err == nil {
		t.Error("expected bad to fail")
	}
	if byName["dependent"].Err == nil {
		t.Error("expected dependent to be marked failed")
	}
	if byName["independent"].Err != nil {
		t.Errorf("independent branch must not be affected: %v", byName["independent"].Err)
	}
}

func TestRun_RespectsConcurrencyBound(t *testing.T) {
	var current, maxSeen int32
	track := func() JobFunc {
		return func(node string, emit func(EventKind, string)) (string, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return "", nil
		}
	}

	var nodes []*Node
	for i := 0; i < 10; i++ {
		nodes = append(nodes, &Node{Name: fmt.Sprintf("n%d", i), Job: track()})
	}
	p := New(nodes, 2)
	go drain(p.Events)
	p.Run()

	if maxSeen > 2 {
		t.Fatalf("max concurrent = %d, want <= 2", maxSeen)
	}
}

func drain(events <-chan Event) {
	for range events {
	}
}
