package tasks

import (
	"fmt"
	"sort"
	"sync"

	tkerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
)

// Directory holds the tasks of a job and routes events to them. Register
// it with a router for DestinationTask.
type Directory struct {
	log *logging.Logger

	mu    sync.RWMutex
	tasks map[TaskID]*Task
}

var _ router.Handler = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory(logger *logging.Logger) *Directory {
	if logger == nil {
		logger = logging.New()
	}
	return &Directory{
		log:   logger.WithComponent("tasks"),
		tasks: make(map[TaskID]*Task),
	}
}

// Add registers a task.
func (d *Directory) Add(t *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tasks[t.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID())
	}
	d.tasks[t.ID()] = t
	return nil
}

// Get returns the task with the given id.
func (d *Directory) Get(id TaskID) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[id]
	return t, ok
}

// Remove drops a task. Unknown ids are ignored.
func (d *Directory) Remove(id TaskID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tasks, id)
}

// Len returns the number of tasks.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tasks)
}

// Tasks returns all tasks ordered by id.
func (d *Directory) Tasks() []*Task {
	d.mu.RLock()
	out := make([]*Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// Handle delivers an Event to its task.
func (d *Directory) Handle(msg router.Message) error {
	ev, ok := msg.(Event)
	if !ok {
		return fmt.Errorf("tasks: unexpected message %T", msg)
	}
	t, ok := d.Get(ev.TaskID)
	if !ok {
		d.log.Warn("event for unknown task", map[string]interface{}{
			"task":  ev.TaskID.String(),
			"event": ev.Type.String(),
		})
		return tkerrors.New(tkerrors.ErrCodeNotFound,
			fmt.Sprintf("%v: %s", ErrUnknownTask, ev.TaskID),
			tkerrors.WithTaskID(ev.TaskID.String()))
	}
	return t.Handle(ev)
}
