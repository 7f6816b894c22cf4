package orchestrator

import (
	"context"
	"sync"
)

// Scope runs at most one background task per name. Tasks carry a key
// identifying the input they serve (audio epoch, job ID); starting a task
// whose name and key are already running is a no-op, while starting the same
// name with a new key cancels the predecessor first. StopAll cancels every
// task and waits for them to return.
type Scope struct {
	mu     sync.Mutex
	parent context.Context
	tasks  map[string]*scopedTask
}

type scopedTask struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *scopedTask) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// NewScope creates a scope whose tasks inherit cancellation from parent.
func NewScope(parent context.Context) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	return &Scope{
		parent: parent,
		tasks:  make(map[string]*scopedTask),
	}
}

// Start launches run under the given name and key. Returns false when an
// identical task is already running.
func (s *Scope) Start(name, key string, run func(ctx context.Context)) bool {
	s.mu.Lock()
	if existing, ok := s.tasks[name]; ok {
		if existing.key == key && !existing.finished() {
			s.mu.Unlock()
			return false
		}
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(s.parent)
	task := &scopedTask{key: key, cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = task
	s.mu.Unlock()

	go func() {
		defer close(task.done)
		defer cancel()
		run(ctx)
	}()
	return true
}

// Running reports whether a task with the given name is still active.
func (s *Scope) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	return ok && !task.finished()
}

// ActiveKey returns the key of the running task with the given name, if any.
func (s *Scope) ActiveKey(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	if !ok || task.finished() {
		return "", false
	}
	return task.key, true
}

// StopAll cancels every task and blocks until all of them return.
func (s *Scope) StopAll() {
	s.mu.Lock()
	tasks := make([]*scopedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.tasks = make(map[string]*scopedTask)
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}
