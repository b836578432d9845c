// Package queuetest provides an in-memory queue.Enqueuer for tests.
package queuetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/timmy/mediavault/internal/queue"
)

// Task is one recorded enqueue call.
type Task struct {
	Type    string
	Payload []byte
	Options queue.Options
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// Recorder records tasks and, like asynq, drops a task whose key is already held.
type Recorder struct {
	mu    sync.Mutex
	tasks []Task
	keys  map[string]bool
	// Err, when set, is returned from every Enqueue.
	Err error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{keys: map[string]bool{}}
}

func (r *Recorder) Enqueue(_ context.Context, taskType string, payload any, opts queue.Options) error {
	if r.Err != nil {
		return r.Err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if opts.Key != "" {
		if r.keys[opts.Key] {
			return nil
		}
		r.keys[opts.Key] = true
	}
	r.tasks = append(r.tasks, Task{Type: taskType, Payload: data, Options: opts})
	return nil
}

// Tasks returns the recorded tasks of taskType, or all when taskType is "".
func (r *Recorder) Tasks(taskType string) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Task
	for _, t := range r.tasks {
		if taskType == "" || t.Type == taskType {
			out = append(out, t)
		}
	}
	return out
}

// Release frees key as if its task had finished.
func (r *Recorder) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
}

// Drain removes and returns every recorded task, releasing their keys.
func (r *Recorder) Drain() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.tasks
	r.tasks = nil
	for _, t := range out {
		delete(r.keys, t.Options.Key)
	}
	return out
}
