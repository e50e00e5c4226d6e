package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
	"github.com/vinayprograms/taskkit/state"
	"github.com/vinayprograms/taskkit/tasks"
)

// Common errors.
var (
	ErrInvalidEvent  = errors.New("history event carries no record")
	ErrInvalidConfig = errors.New("invalid history configuration")
)

// KeyPrefix is the first segment of every history key.
const KeyPrefix = "history"

const (
	recStarted  = "started"
	recFinished = "finished"
	recFailed   = "failed"
	recAttempt  = "attempt"
)

// Config configures a Store.
type Config struct {
	// State holds the records. Required.
	State state.StateStore

	// Logger. Default: logging.New()
	Logger *logging.Logger
}

// Store persists task history records and answers recovery queries after a
// job restart. Register it with a router for tasks.DestinationHistory.
type Store struct {
	state state.StateStore
	log   *logging.Logger
}

var _ router.Handler = (*Store)(nil)

// New creates a history store.
func New(cfg Config) (*Store, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("%w: State is required", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &Store{
		state: cfg.State,
		log:   cfg.Logger.WithComponent("history"),
	}, nil
}

// AttemptRecord is the stored start of one attempt.
type AttemptRecord struct {
	ID        tasks.AttemptID `json:"id"`
	StartTime time.Time       `json:"start_time"`
}

// TaskRecord is everything stored for one task.
type TaskRecord struct {
	Started  *tasks.TaskStarted  `json:"started,omitempty"`
	Finished *tasks.TaskFinished `json:"finished,omitempty"`
	Failed   *tasks.TaskFailed   `json:"failed,omitempty"`
	Attempts []AttemptRecord     `json:"attempts,omitempty"`
}

// Succeeded reports whether the latest terminal record of the task is a
// success.
func (r TaskRecord) Succeeded() bool {
	return r.Finished != nil
}

// Handle stores a tasks.HistoryEvent.
func (s *Store) Handle(msg router.Message) error {
	ev, ok := msg.(tasks.HistoryEvent)
	if !ok {
		return fmt.Errorf("history: unexpected message %T", msg)
	}
	return s.Record(ev)
}

// Record stores one history event under its task.
func (s *Store) Record(ev tasks.HistoryEvent) error {
	var (
		rec, stale string
		value      interface{}
	)
	switch {
	case ev.Started != nil:
		rec, value = recStarted, ev.Started
	case ev.Finished != nil:
		rec, stale, value = recFinished, recFailed, ev.Finished
	case ev.Failed != nil:
		rec, stale, value = recFailed, recFinished, ev.Failed
	default:
		return fmt.Errorf("%w: kind %s", ErrInvalidEvent, ev.Kind)
	}

	id := ev.TaskID()
	if err := s.put(taskKey(id, rec), value); err != nil {
		return err
	}
	// The latest terminal record is the task's outcome.
	if stale != "" {
		if err := s.state.Delete(taskKey(id, stale)); err != nil {
			return fmt.Errorf("delete %s record of %s: %w", stale, id, err)
		}
	}
	s.log.Debug("recorded", map[string]interface{}{
		"task":   id.String(),
		"record": rec,
	})
	return nil
}

// RecordAttemptStarted stores the start of an attempt so that a later
// generation of the job can reuse its number.
func (s *Store) RecordAttemptStarted(id tasks.AttemptID, start time.Time) error {
	key := taskKey(id.Task, recAttempt) + "." + strconv.Itoa(id.Seq)
	return s.put(key, AttemptRecord{ID: id, StartTime: start})
}

// Task loads the records of one task. Returns state.ErrNotFound if nothing
// was recorded.
func (s *Store) Task(id tasks.TaskID) (TaskRecord, error) {
	keys, err := s.state.Keys(taskPrefix(id) + ".*")
	if err != nil {
		return TaskRecord{}, fmt.Errorf("list task %s: %w", id, err)
	}
	if len(keys) == 0 {
		return TaskRecord{}, fmt.Errorf("task %s: %w", id, state.ErrNotFound)
	}

	var r TaskRecord
	for _, key := range keys {
		rec := strings.TrimPrefix(key, taskPrefix(id)+".")
		switch {
		case rec == recStarted:
			r.Started = &tasks.TaskStarted{}
			err = s.get(key, r.Started)
		case rec == recFinished:
			r.Finished = &tasks.TaskFinished{}
			err = s.get(key, r.Finished)
		case rec == recFailed:
			r.Failed = &tasks.TaskFailed{}
			err = s.get(key, r.Failed)
		case strings.HasPrefix(rec, recAttempt+"."):
			var a AttemptRecord
			if err = s.get(key, &a); err == nil {
				r.Attempts = append(r.Attempts, a)
			}
		default:
			s.log.Warn("unknown history key", map[string]interface{}{"key": key})
		}
		if err != nil {
			return TaskRecord{}, err
		}
	}

	sort.SliceStable(r.Attempts, func(i, j int) bool {
		return r.Attempts[i].StartTime.Before(r.Attempts[j].StartTime)
	})
	return r, nil
}

// Tasks lists the tasks of a job that have any record, ordered by id.
func (s *Store) Tasks(job tasks.JobID) ([]tasks.TaskID, error) {
	prefix := KeyPrefix + "." + job.String() + "."
	keys, err := s.state.Keys(prefix + "*")
	if err != nil {
		return nil, fmt.Errorf("list job %s: %w", job, err)
	}

	names := lo.Uniq(lo.Map(keys, func(key string, _ int) string {
		name, _, _ := strings.Cut(strings.TrimPrefix(key, prefix), ".")
		return name
	}))
	sort.Strings(names)

	ids := make([]tasks.TaskID, 0, len(names))
	for _, name := range names {
		id, err := tasks.ParseTaskID(name)
		if err != nil {
			s.log.Warn("skipping malformed task key", map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			})
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CompletedTasks returns, for every task of job that succeeded, its
// recorded attempts ordered by start time. The result feeds
// tasks.Config.Recovered when the job is started again.
func (s *Store) CompletedTasks(job tasks.JobID) (map[tasks.TaskID][]tasks.RecoveredAttempt, error) {
	ids, err := s.Tasks(job)
	if err != nil {
		return nil, err
	}

	out := make(map[tasks.TaskID][]tasks.RecoveredAttempt)
	for _, id := range ids {
		r, err := s.Task(id)
		if err != nil {
			return nil, err
		}
		if !r.Succeeded() {
			continue
		}
		out[id] = lo.Map(r.Attempts, func(a AttemptRecord, _ int) tasks.RecoveredAttempt {
			return tasks.RecoveredAttempt{ID: a.ID, StartTime: a.StartTime}
		})
	}
	return out, nil
}

func (s *Store) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.state.Put(key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key string, v interface{}) error {
	data, err := s.state.Get(key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func taskPrefix(id tasks.TaskID) string {
	return KeyPrefix + "." + id.Job.String() + "." + id.String()
}

func taskKey(id tasks.TaskID, rec string) string {
	return taskPrefix(id) + "." + rec
}
