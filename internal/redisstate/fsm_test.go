package redisstate

import "testing"

import "lingua-scheduler/internal/domain"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.JobState
		want     bool
	}{
		{domain.JobCreated, domain.JobDispatched, true},
		{domain.JobCreated, domain.JobRunning, false},
		{domain.JobDispatched, domain.JobAccepted, true},
		{domain.JobAccepted, domain.JobRunning, true},
		{domain.JobRunning, domain.JobFinished, true},
		{domain.JobFinished, domain.JobReleased, true},
		{domain.JobReleased, domain.JobCreated, false},
		{domain.JobRunning, domain.JobFailed, true},
		{domain.JobFailed, domain.JobReleased, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
