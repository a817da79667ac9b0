// Package queuetest provides an in-memory queue.Service for tests.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuongbtq/trackgen-be/internal/queue"
)

// Entry is one recorded AddJob call
type Entry struct {
	ID      string
	Queue   string
	Name    string
	Data    json.RawMessage
	Options queue.JobOptions
	State   queue.State
}

// Fake records entries without dispatching them. Processors are stored so
// tests can fetch and drive them directly.
type Fake struct {
	mu         sync.Mutex
	seq        int
	entries    []*Entry
	removed    []string
	paused     map[string]bool
	processors map[string]queue.Processor

	// AddErr and RemoveErr, when set, fail the matching calls
	AddErr    error
	RemoveErr error
}

var _ queue.Service = (*Fake)(nil)

func New() *Fake {
	return &Fake{paused: map[string]bool{}, processors: map[string]queue.Processor{}}
}

func (f *Fake) AddJob(_ context.Context, q, name string, data any, opts queue.JobOptions) (string, error) {
	if f.AddErr != nil {
		return "", f.AddErr
	}
	if q == "" || name == "" {
		return "", fmt.Errorf("%w: queue and name are required", queue.ErrInvalidJob)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", queue.ErrInvalidJob, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	state := queue.StateWaiting
	if opts.Delay > 0 {
		state = queue.StateDelayed
	}
	e := &Entry{ID: strconv.Itoa(f.seq), Queue: q, Name: name, Data: raw, Options: opts, State: state}
	f.entries = append(f.entries, e)
	return e.ID, nil
}

// Entries returns a copy of the recorded entries, optionally for one queue
func (f *Fake) Entries(q string) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if q == "" || e.Queue == q {
			out = append(out, *e)
		}
	}
	return out
}

// Removed returns the ids passed to RemoveJob
func (f *Fake) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// SetState moves a recorded entry, for example to make it active
func (f *Fake) SetState(id string, state queue.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			e.State = state
		}
	}
}

// Processor returns what was registered for q
func (f *Fake) Processor(q string) queue.Processor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processors[q]
}

func (f *Fake) RemoveJob(_ context.Context, q, id string) error {
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.Queue == q && e.ID == id {
			if e.State == queue.StateActive {
				return queue.ErrJobActive
			}
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *Fake) GetJob(_ context.Context, q, id string) (*queue.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Queue == q && e.ID == id {
			return info(e), nil
		}
	}
	return nil, nil
}

func info(e *Entry) *queue.JobInfo {
	return &queue.JobInfo{
		ID:          e.ID,
		Queue:       e.Queue,
		Name:        e.Name,
		Data:        e.Data,
		State:       e.State,
		Priority:    e.Options.Priority,
		MaxAttempts: e.Options.Attempts,
		Delay:       e.Options.Delay,
	}
}

func (f *Fake) GetJobs(_ context.Context, q string, state queue.State, skip, take int) ([]*queue.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*queue.JobInfo{}
	for _, e := range f.entries {
		if e.Queue == q && e.State == state {
			out = append(out, info(e))
		}
	}
	if skip >= len(out) {
		return []*queue.JobInfo{}, nil
	}
	out = out[skip:]
	if take > 0 && len(out) > take {
		out = out[:take]
	}
	return out, nil
}

func (f *Fake) GetQueueStats(_ context.Context, q string) (*queue.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &queue.Stats{Paused: f.paused[q]}
	for _, e := range f.entries {
		if e.Queue != q {
			continue
		}
		switch e.State {
		case queue.StateWaiting:
			stats.Waiting++
		case queue.StateActive:
			stats.Active++
		case queue.StateCompleted:
			stats.Completed++
		case queue.StateFailed:
			stats.Failed++
		case queue.StateDelayed:
			stats.Delayed++
		}
	}
	return stats, nil
}

func (f *Fake) PauseQueue(_ context.Context, q string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[q] = true
	return nil
}

func (f *Fake) ResumeQueue(_ context.Context, q string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.paused, q)
	return nil
}

// CleanQueue drops every entry of q in state; grace is ignored
func (f *Fake) CleanQueue(_ context.Context, q string, _ time.Duration, state queue.State) (int, error) {
	if state != queue.StateCompleted && state != queue.StateFailed {
		return 0, fmt.Errorf("%w: cannot clean %s entries", queue.ErrInvalidJob, state)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	n := 0
	for _, e := range f.entries {
		if e.Queue == q && e.State == state {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

func (f *Fake) RegisterProcessor(q string, p queue.Processor, _ ...queue.WorkerOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.processors[q]; !ok {
		f.processors[q] = p
	}
	return nil
}

func (f *Fake) Close(context.Context) error { return nil }
