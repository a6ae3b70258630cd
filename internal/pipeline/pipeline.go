// Package pipeline schedules a resolved install plan across a bounded
// worker pool, generalizing the teacher's sequential installDependencies
// (internal/installer/installer.go) — which installed one node at a
// time — into the two-phase, DAG-respecting concurrent orchestrator
// spec §4.3/§5 describes. The bounded fan-out is grounded on
// maxmcd-brewery's InstallParallel (other_examples); the bound here is
// a semaphore.Weighted permit count, and the flat dependency-less fan
// out is generalized into a dependents-aware scheduler that only
// dispatches a node once every accepted dependency has completed.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// State is a node's position in the pipeline state machine.
type State int

const (
	Pending State = iota
	Ready
	Running
	Ok
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind names one of the structured events spec §4.3 emits on the
// pipeline's broadcast channel.
type EventKind string

const (
	PipelineStarted      EventKind = "pipeline_started"
	PlanningStarted      EventKind = "planning_started"
	PlanningFinished     EventKind = "planning_finished"
	DownloadStarted      EventKind = "download_started"
	DownloadFinished     EventKind = "download_finished"
	DownloadFailed       EventKind = "download_failed"
	JobProcessingStarted EventKind = "job_processing_started"
	BuildStarted         EventKind = "build_started"
	InstallStarted       EventKind = "install_started"
	LinkStarted          EventKind = "link_started"
	UninstallStarted     EventKind = "uninstall_started"
	UninstallFinished    EventKind = "uninstall_finished"
	JobSuccess           EventKind = "job_success"
	JobFailed            EventKind = "job_failed"
	PipelineFinished     EventKind = "pipeline_finished"
	LogInfo              EventKind = "log_info"
	LogWarn              EventKind = "log_warn"
	LogError             EventKind = "log_error"
)

// Event is one structured notification. Node is empty for
// pipeline-level events. Consumers render progress; the pipeline
// itself never prints.
type Event struct {
	Kind     EventKind
	Node     string
	Message  string
	Err      error
	Duration time.Duration
	Success  int
	Fail     int
}

// JobFunc performs one node's install work (download/build/install/link
// as appropriate) and returns the installed path or an error. emit lets
// the job report fine-grained sub-events (DownloadStarted, BuildStarted,
// …) that are forwarded onto the pipeline's Events channel with Node
// already filled in.
type JobFunc func(node string, emit func(EventKind, string)) (installedPath string, err error)

// Node describes one unit of work and its position in the DAG.
type Node struct {
	Name    string
	Deps    []string // names of accepted dependencies within this plan
	Job     JobFunc
	state   State
	path    string
	failErr error
}

// Pipeline schedules a set of Nodes, respecting the DAG and a bounded
// concurrency permit count.
type Pipeline struct {
	maxConcurrent int
	nodes      map[string]*Node
	dependents map[string][]string
	Events     chan Event

	remaining map[string]int
}

// New creates a Pipeline over nodes with the given concurrency bound.
// Events is buffered generously so a slow consumer never blocks
// scheduling; callers that want to observe every event should drain it
// concurrently.
func New(nodes []*Node, maxConcurrent int) *Pipeline {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	p := &Pipeline{
		maxConcurrent: maxConcurrent,
		nodes:         make(map[string]*Node, len(nodes)),
		dependents:    make(map[string][]string),
		remaining:     make(map[string]int, len(nodes)),
		Events:        make(chan Event, 256),
	}
	for _, n := range nodes {
		n.state = Pending
		p.nodes[n.Name] = n
	}
	for _, n := range nodes {
		count := 0
		for _, d := range n.Deps {
			if _, ok := p.nodes[d]; ok {
				p.dependents[d] = append(p.dependents[d], n.Name)
				count++
			}
		}
		p.remaining[n.Name] = count
	}
	return p
}

// Result is the terminal outcome of one node after Run returns.
type Result struct {
	Name string
	Path string
	Err  error
}

// Run executes the pipeline to completion, returning every node's
// terminal Result. It never aborts independent branches when one node
// fails; failure propagates only to that node's transitive dependents.
func (p *Pipeline) Run() []Result {
	start := time.Now()
	p.emit(Event{Kind: PipelineStarted})

	var (
		mu    sync.Mutex
		queue []string
		wg    sync.WaitGroup
		sem   = semaphore.NewWeighted(int64(p.maxConcurrent))
		ctx   = context.Background()
	)

	for name, n := range p.nodes {
		if p.remaining[name] == 0 {
			n.state = Ready
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var dispatch func()
	dispatch = func() {
		mu.Lock()
		for len(queue) > 0 {
			if !sem.TryAcquire(1) {
				break
			}
			name := queue[0]
			queue = queue[1:]
			node := p.nodes[name]
			node.state = Running
			wg.Add(1)
			go p.runNode(ctx, node, &mu, &queue, &wg, sem, dispatch)
		}
		mu.Unlock()
	}

	dispatch()
	wg.Wait()

	results := make([]Result, 0, len(p.nodes))
	names := make([]string, 0, len(p.nodes))
	for name := range p.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	successCount, failCount := 0, 0
	for _, name := range names {
		n := p.nodes[name]
		switch n.state {
		case Ok:
			successCount++
		case Failed:
			failCount++
		}
		results = append(results, Result{Name: name, Path: n.path, Err: n.failErr})
	}

	p.emit(Event{Kind: PipelineFinished, Duration: time.Since(start), Success: successCount, Fail: failCount})
	return results
}

func (p *Pipeline) runNode(ctx context.Context, node *Node, mu *sync.Mutex, queue *[]string, wg *sync.WaitGroup, sem *semaphore.Weighted, dispatch func()) {
	defer wg.Done()

	p.emit(Event{Kind: JobProcessingStarted, Node: node.Name})

	path, err := node.Job(node.Name, func(kind EventKind, msg string) {
		p.emit(Event{Kind: kind, Node: node.Name, Message: msg})
	})

	mu.Lock()
	if err != nil {
		node.state = Failed
		node.failErr = err
		p.emit(Event{Kind: JobFailed, Node: node.Name, Err: err})
		p.failDependents(node.Name, queue)
	} else {
		node.state = Ok
		node.path = path
		p.emit(Event{Kind: JobSuccess, Node: node.Name, Message: path})
		p.releaseDependents(node.Name, queue)
	}
	mu.Unlock()

	sem.Release(1)
	dispatch()
}

// failDependents transitively marks node's dependents Failed and
// removes any that are still only queued, rather than aborting
// in-flight independent branches.
func (p *Pipeline) failDependents(name string, queue *[]string) {
	var cascade func(string)
	cascade = func(n string) {
		for _, dep := range p.dependents[n] {
			node := p.nodes[dep]
			if node.state == Ok || node.state == Failed {
				continue
			}
			node.state = Failed
			node.failErr = fmt.Errorf("dependency %q failed: %w", n, p.nodes[n].failErr)
			p.emit(Event{Kind: JobFailed, Node: dep, Err: node.failErr})
			removeFromQueue(queue, dep)
			cascade(dep)
		}
	}
	cascade(name)
}

// releaseDependents decrements deps_remaining for each dependent and
// enqueues any that reach zero.
func (p *Pipeline) releaseDependents(name string, queue *[]string) {
	for _, dep := range p.dependents[name] {
		node := p.nodes[dep]
		if node.state == Failed || node.state == Ok {
			continue
		}
		p.remaining[dep]--
		if p.remaining[dep] <= 0 && node.state == Pending {
			node.state = Ready
			*queue = append(*queue, dep)
		}
	}
}

func removeFromQueue(queue *[]string, name string) {
	out := (*queue)[:0]
	for _, n := range *queue {
		if n != name {
			out = append(out, n)
		}
	}
	*queue = out
}

func (p *Pipeline) emit(e Event) {
	select {
	case p.Events <- e:
	default:
		// Events channel is generously buffered; a full channel means
		// no consumer is draining it. Drop rather than block
		// scheduling — progress reporting is best-effort.
	}
}
