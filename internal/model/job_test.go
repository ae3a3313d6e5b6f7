package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusRunning, JobStatusDone, true},
		{JobStatusRunning, JobStatusError, true},
		{JobStatusQueued, JobStatusDone, false},
		{JobStatusQueued, JobStatusError, false},
		{JobStatusDone, JobStatusRunning, false},
		{JobStatusDone, JobStatusError, false},
		{JobStatusError, JobStatusRunning, false},
		{JobStatusRunning, JobStatusQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s → %s", tt.from, tt.to)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusError.Terminal())
}

func TestReportSourceIDSet(t *testing.T) {
	t.Parallel()

	r := Report{Sources: []ReportSource{{ID: "trove:1"}, {ID: "trove:2"}}}
	set := r.SourceIDSet()
	assert.True(t, set["trove:1"])
	assert.True(t, set["trove:2"])
	assert.False(t, set["trove:3"])
}
