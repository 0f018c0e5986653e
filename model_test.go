package printarr

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDesignStateTransitions(t *testing.T) {
	allStates := []DesignState{
		DesignStateDiscovered,
		DesignStateWanted,
		DesignStateDownloading,
		DesignStateDownloaded,
		DesignStateOrganized,
	}
	legal := map[DesignState][]DesignState{
		DesignStateDiscovered:  {DesignStateWanted},
		DesignStateWanted:      {DesignStateDownloading},
		DesignStateDownloading: {DesignStateDownloaded, DesignStateDiscovered},
		DesignStateDownloaded:  {DesignStateOrganized},
		DesignStateOrganized:   {},
	}

	for _, from := range allStates {
		for _, to := range allStates {
			expected := false
			for _, next := range legal[from] {
				if next == to {
					expected = true
				}
			}
			if from.CanTransition(to) != expected {
				t.Errorf("%s -> %s: expected %t", from, to, expected)
			}
		}
	}
}

func TestDesignStateTerminal(t *testing.T) {
	assert.Equal(t, DesignStateOrganized.IsTerminal(), true)
	assert.Equal(t, DesignStateDownloaded.IsTerminal(), false)
	assert.Equal(t, DesignStateDiscovered.IsTerminal(), false)
}

func TestJobStateActive(t *testing.T) {
	assert.Equal(t, JobStateQueued.IsActive(), true)
	assert.Equal(t, JobStateRunning.IsActive(), true)
	assert.Equal(t, JobStateCompleted.IsActive(), false)
	assert.Equal(t, JobStateFailed.IsActive(), false)
}

func TestJobQueueHasActiveJobs(t *testing.T) {
	var nilQueue *JobQueue
	assert.Equal(t, nilQueue.HasActiveJobs(), false)

	queue := &JobQueue{
		Jobs: []*Job{
			{JobId: NewId(), State: JobStateCompleted},
			{JobId: NewId(), State: JobStateFailed},
		},
		Total: 2,
	}
	assert.Equal(t, queue.HasActiveJobs(), false)

	queue.Jobs = append(queue.Jobs, &Job{JobId: NewId(), State: JobStateQueued})
	assert.Equal(t, queue.HasActiveJobs(), true)
}

func TestIdJsonRoundTrip(t *testing.T) {
	id := NewId()
	parsed, err := ParseId(id.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, id)

	_, err = ParseId("not-an-id")
	assert.NotEqual(t, err, nil)
}
