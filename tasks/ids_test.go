package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDStrings(t *testing.T) {
	job := JobID{AppID: "1700000000000", Seq: 7}
	task := TaskID{Job: job, Type: TypeReduce, Partition: 42}
	attempt := AttemptID{Task: task, Seq: 1003}

	require.Equal(t, "job_1700000000000_0007", job.String())
	require.Equal(t, "task_1700000000000_0007_r_000042", task.String())
	require.Equal(t, "attempt_1700000000000_0007_r_000042_1003", attempt.String())

	gotJob, err := ParseJobID(job.String())
	require.NoError(t, err)
	require.Equal(t, job, gotJob)

	gotTask, err := ParseTaskID(task.String())
	require.NoError(t, err)
	require.Equal(t, task, gotTask)

	gotAttempt, err := ParseAttemptID(attempt.String())
	require.NoError(t, err)
	require.Equal(t, attempt, gotAttempt)
}

func TestParseID_Invalid(t *testing.T) {
	tests := []string{
		"",
		"job_1_0001",
		"task_1_0001_x_000001",
		"task_1_0001_m",
		"attempt_1_0001_m_000001",
		"attempt_1_0001_m_000001_-1",
		"attempt__0001_m_000001_0",
		"attempt_1_abcd_m_000001_0",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := ParseAttemptID(s)
			require.ErrorIs(t, err, ErrInvalidID)
		})
	}

	_, err := ParseTaskID("attempt_1_0001_m_000001_0")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestIDs_AsJSONKeys(t *testing.T) {
	id := AttemptID{Task: testTaskID(TypeMap), Seq: 2}
	data, err := json.Marshal(map[AttemptID]int{id: 1})
	require.NoError(t, err)
	require.Contains(t, string(data), id.String())

	var back map[AttemptID]int
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, 1, back[id])
}

func TestEvent_ZeroAttemptJSON(t *testing.T) {
	ev := NewEvent(EventKill, testTaskID(TypeMap))
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, ev, back)
	require.True(t, back.AttemptID.IsZero())
}

func TestStates(t *testing.T) {
	require.Equal(t, StateKilled, StateKillWait.External())
	require.Equal(t, StateRunning, StateRunning.External())
	require.True(t, StateSucceeded.IsTerminal())
	require.False(t, StateKillWait.IsTerminal())
	require.False(t, EventSchedule.AttemptScoped())
	require.True(t, EventAttemptFailed.AttemptScoped())
	require.Empty(t, Counters(nil).Clone())
}
