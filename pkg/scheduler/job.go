// Package scheduler implements the leader-elected fleet of periodic
// background jobs (C15): heartbeat, leader election, episode
// summarization, consolidation, retention maintenance, decay, and the
// two user-fanout notification scans. Exactly one instance in the
// fleet holds the "global_scheduler" lock at a time; jobs marked
// leader-only run only on that instance (spec §4.11).
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one periodically-run unit of work. LeaderOnly jobs are
// started and stopped by the Coordinator's promotion/demotion
// transitions rather than running continuously.
type Job interface {
	Name() string
	Interval() time.Duration
	LeaderOnly() bool
	Run(ctx context.Context, now time.Time) error
}

// jitterFraction bounds how much each tick is randomly shifted so a
// fleet restarted together doesn't hammer Postgres in lockstep.
const jitterFraction = 0.1

// BaseJob is the common Job scaffold every concrete job embeds,
// pairing a name/interval/leader-only declaration with a run func.
type BaseJob struct {
	JobName       string
	JobInterval   time.Duration
	JobLeaderOnly bool
	RunFunc       func(ctx context.Context, now time.Time) error
}

func (b *BaseJob) Name() string             { return b.JobName }
func (b *BaseJob) Interval() time.Duration  { return b.JobInterval }
func (b *BaseJob) LeaderOnly() bool         { return b.JobLeaderOnly }
func (b *BaseJob) Run(ctx context.Context, now time.Time) error {
	return b.RunFunc(ctx, now)
}

// Metrics is the narrow surface the coordinator needs to record job tick
// duration/failures and leadership state, satisfied by
// *pkg/metrics.Registry.
type Metrics interface {
	ObserveJob(job string, d time.Duration, err error)
	SetLeader(isLeader bool)
}

// runLoop ticks Job.Run at its interval, with a jittered first delay,
// until ctx is cancelled. Errors are logged, never fatal: a failed tick
// of a leader-only job is retried next interval, possibly by a
// different leader after failover.
func runLoop(ctx context.Context, job Job, logger *zap.Logger, jitter func(time.Duration) time.Duration, metrics Metrics) {
	interval := job.Interval()
	timer := time.NewTimer(jitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			start := time.Now()
			err := job.Run(ctx, time.Now())
			if metrics != nil {
				metrics.ObserveJob(job.Name(), time.Since(start), err)
			}
			if err != nil {
				logger.Warn("scheduler job failed", zap.String("job", job.Name()), zap.Error(err))
			}
			timer.Reset(jitter(interval))
		}
	}
}

func defaultJitter(interval time.Duration) time.Duration {
	shift := time.Duration(float64(interval) * jitterFraction)
	if shift <= 0 {
		return interval
	}
	return interval - shift + time.Duration(pseudoRandNanos()%int64(2*shift))
}

// pseudoRandNanos derives a cheap, non-cryptographic jitter seed from
// the monotonic clock rather than math/rand, so the scheduler carries
// no extra dependency for something this inconsequential.
func pseudoRandNanos() int64 {
	return time.Now().UnixNano()
}
