package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerverless/coordinator/internal/job"
)

func TestScenarioD_Retention(t *testing.T) {
	opts := defaultTestOptions()
	opts.JobRetention = 24 * time.Hour
	opts.ContributorRetention = 48 * time.Hour
	c, _ := newTestCoordinator(t, opts)

	j, _ := c.GenerateJob("plasticity", job.PriorityNormal)
	runRound(t, c, j.ID, 1000, 0.40, 0.41, 0.42)
	got, _ := c.GetJob(j.ID)
	require.Equal(t, job.StatusVerified, got.Status)
	verifiedAt := *got.FinishedAt

	report := c.Sweep(verifiedAt.Add(opts.JobRetention - time.Second))
	assert.Equal(t, 0, report.JobsEvicted)
	assert.Equal(t, 1, c.GetStatistics().ActiveJobCount)

	report = c.Sweep(verifiedAt.Add(opts.JobRetention + time.Second))
	assert.Equal(t, 1, report.JobsEvicted)
	assert.Equal(t, 0, c.GetStatistics().ActiveJobCount)
	_, err := c.GetJob(j.ID)
	assert.True(t, errors.Is(err, job.ErrJobNotFound))

	// Cumulative totals survive eviction.
	assert.Equal(t, 1, c.GetStatistics().TotalVerifiedJobs)
	assert.Equal(t, 3, c.GetStatistics().TotalContributors)
}

func TestSweep_KeepsLiveJobs(t *testing.T) {
	c, _ := newTestCoordinator(t, defaultTestOptions())
	pending, _ := c.GenerateJob("plasticity", job.PriorityNormal)
	assigned, _ := c.GenerateJob("plasticity", job.PriorityNormal)
	c.AssignJob(assigned.ID, "alice", cpu)

	report := c.Sweep(t0.Add(25 * time.Hour))

	assert.Equal(t, 0, report.JobsEvicted)
	assert.Equal(t, 0, report.JobsAbandoned)
	_, err := c.GetJob(pending.ID)
	assert.NoError(t, err)
	_, err = c.GetJob(assigned.ID)
	assert.NoError(t, err)
}

func TestSweep_DropsAbandonedJobs(t *testing.T) {
	opts := defaultTestOptions()
	opts.AbandonAfter = 72 * time.Hour
	c, clock := newTestCoordinator(t, opts)

	stuck, _ := c.GenerateJob("plasticity", job.PriorityNormal)
	c.AssignJob(stuck.ID, "ghost", cpu)
	clock.Advance(48 * time.Hour)
	active, _ := c.GenerateJob("plasticity", job.PriorityNormal)

	report := c.Sweep(t0.Add(73 * time.Hour))

	assert.Equal(t, 1, report.JobsAbandoned)
	_, err := c.GetJob(stuck.ID)
	assert.True(t, errors.Is(err, job.ErrJobNotFound))
	_, err = c.GetJob(active.ID)
	assert.NoError(t, err)
}

func TestSweep_EvictsInactiveContributors(t *testing.T) {
	opts := defaultTestOptions()
	opts.ContributorRetention = time.Hour
	c, clock := newTestCoordinator(t, opts)

	j, _ := c.GenerateJob("plasticity", job.PriorityNormal)
	c.AssignJob(j.ID, "sleepy", cpu)
	clock.Advance(2 * time.Hour)
	c.AssignJob(j.ID, "busy", cpu)

	report := c.Sweep(clock.Now().Add(time.Minute))

	assert.Equal(t, 1, report.ContributorsEvicted)
	_, ok := c.GetContribution("sleepy")
	assert.False(t, ok)
	_, ok = c.GetContribution("busy")
	assert.True(t, ok)
}

func TestSweep_RacesWithSubmissions(t *testing.T) {
	opts := defaultTestOptions()
	opts.JobRetention = time.Nanosecond
	c, _ := newTestCoordinator(t, opts)

	var ids []string
	for i := 0; i < 20; i++ {
		j, _ := c.GenerateJob("plasticity", job.PriorityNormal)
		ids = append(ids, j.ID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			c.Sweep(t0.Add(time.Hour))
		}
	}()
	for _, id := range ids {
		runRound(t, c, id, 10, 0.1, 0.1, 0.1)
	}
	<-done

	c.Sweep(t0.Add(time.Hour))
	assert.Equal(t, 0, c.GetStatistics().ActiveJobCount)
	assert.Equal(t, 20, c.GetStatistics().TotalVerifiedJobs)
}

func TestReplenish(t *testing.T) {
	opts := defaultTestOptions()
	opts.TargetPending = 5
	c, _ := newTestCoordinator(t, opts)

	assert.Equal(t, 5, c.Replenish())
	assert.Equal(t, 0, c.Replenish())

	counts := map[string]int{}
	for _, id := range c.store.IDs() {
		j, _ := c.GetJob(id)
		counts[j.JobType]++
	}
	assert.Equal(t, 3, counts["plasticity"])
	assert.Equal(t, 2, counts["folding"])
}

func TestReplenish_Disabled(t *testing.T) {
	c, _ := newTestCoordinator(t, defaultTestOptions())
	assert.Equal(t, 0, c.Replenish())
}

func TestRunHousekeeper_StopsOnCancel(t *testing.T) {
	opts := defaultTestOptions()
	opts.TargetPending = 2
	c, _ := newTestCoordinator(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunHousekeeper(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.GetStatistics().PendingJobs == 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("housekeeper did not stop")
	}
}

func TestRunHousekeeper_NonPositiveInterval(t *testing.T) {
	c, _ := newTestCoordinator(t, defaultTestOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, interval := range []time.Duration{0, -time.Second} {
		assert.NotPanics(t, func() { c.RunHousekeeper(ctx, interval) })
	}
}
