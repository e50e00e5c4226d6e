// Package tasks implements the lifecycle of a task in a distributed job:
// how many attempts it launches, which attempt's output is authoritative,
// when it retries and when it is done.
//
// A Task consumes Events and moves through
//
//	NEW → SCHEDULED → RUNNING → SUCCEEDED | FAILED | KILLED
//
// with KILL_WAIT as a draining state while attempts are being killed. It is
// reported as KILLED outside the task.
//
// # Basic Usage
//
//	r := router.New(router.Config{})
//	dir := tasks.NewDirectory(logger)
//	r.Register(tasks.DestinationTask, dir)
//
//	t, err := tasks.New(tasks.Config{
//	    ID:          taskID,
//	    MaxAttempts: 4,
//	    NewAttempt:  newAttempt,
//	    Poster:      r,
//	})
//	dir.Add(t)
//	r.Post(tasks.NewEvent(tasks.EventSchedule, taskID))
//
// A task never calls its collaborators directly. It posts ScheduleAttempt,
// KillAttempt, HistoryEvent and job messages to the router and returns.
//
// # Policies
//
//   - Failures below MaxAttempts schedule a replacement once no attempt is
//     left running; the MaxAttempts-th failure fails the task.
//   - The first attempt to ask for commit wins; later ones are killed.
//   - The first attempt to report consumable output wins the same way.
//   - A success kills every other unfinished attempt.
//   - A map task whose successful attempt later fails or is killed is
//     rescheduled. Reduce tasks stay SUCCEEDED.
//
// # Thread Safety
//
// Handle holds the task's write lock for the whole transition. Accessors
// take the read lock. Tasks never lock each other.
package tasks
