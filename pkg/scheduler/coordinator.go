package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/atlasagent/atlas-core/pkg/episode"
	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/lifecycle"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/tasks"
)

// lockName is the single SchedulerLock row every instance in the fleet
// contends for (spec §4.11, §5).
const lockName = "global_scheduler"

// lockTTL bounds how long a leader may go silent before another
// instance's LeaderElection tick takes over.
const lockTTL = 90 * time.Second

// electionInterval is how often every instance attempts to (re)acquire
// the lock, win or lose.
const electionInterval = 30 * time.Second

// GraphStore is the subset of *graphstore.Store the coordinator itself
// needs, independent of what individual jobs need.
type GraphStore interface {
	TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
	Ping(ctx context.Context) error
	UsersOptedInFor(ctx context.Context, prefKey string) ([]string, error)
}

// fanoutConcurrency bounds how many users ObserverBatch/DueScannerBatch
// scan at once, so one leader instance can't open an unbounded number
// of concurrent graph reads when the opted-in population is large.
const fanoutConcurrency = 8

// Coordinator runs the always-on jobs (Heartbeat, LeaderElection, Decay)
// on every instance, and starts/stops the leader-only job set as this
// instance wins or loses the SchedulerLock (spec §4.11).
type Coordinator struct {
	InstanceID string
	Graph      GraphStore
	Logger     *zap.Logger
	Metrics    Metrics // optional; nil disables job metrics

	LeaderOnlyJobs func() []Job // constructs the leader-only job set fresh on each promotion

	mu          sync.Mutex
	isLeader    bool
	leaderCtx   context.Context
	leaderStop  context.CancelFunc
	leaderWG    sync.WaitGroup
}

// IsLeader reports whether this instance currently holds the lock.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLeader
}

// Start launches the always-on jobs and blocks until ctx is cancelled,
// at which point it releases the lock (if held) and waits for any
// running leader-only job goroutines to exit.
func (c *Coordinator) Start(ctx context.Context) {
	var wg sync.WaitGroup
	always := []Job{
		c.heartbeatJob(),
		c.leaderElectionJob(),
		c.decayJob(),
	}
	for _, j := range always {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			runLoop(ctx, j, c.logger(), defaultJitter, c.Metrics)
		}(j)
	}
	<-ctx.Done()
	wg.Wait()
	c.demote()
	c.leaderWG.Wait()
	_ = c.Graph.ReleaseLock(context.Background(), lockName, c.InstanceID)
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Coordinator) heartbeatJob() Job {
	return &BaseJob{
		JobName:     "Heartbeat",
		JobInterval: 9 * time.Minute,
		RunFunc: func(ctx context.Context, now time.Time) error {
			return c.Graph.Ping(ctx)
		},
	}
}

func (c *Coordinator) decayJob() Job {
	store, ok := c.Graph.(lifecycle.DecayStore)
	return &BaseJob{
		JobName:     "Decay",
		JobInterval: 24 * time.Hour,
		RunFunc: func(ctx context.Context, now time.Time) error {
			if !ok {
				return nil
			}
			_, err := lifecycle.RunDecay(ctx, store, now)
			return err
		},
	}
}

// leaderElectionJob attempts try_acquire_lock every electionInterval
// and calls updateLeadership with the outcome (spec §4.11).
func (c *Coordinator) leaderElectionJob() Job {
	return &BaseJob{
		JobName:     "LeaderElection",
		JobInterval: electionInterval,
		RunFunc: func(ctx context.Context, now time.Time) error {
			acquired, err := c.Graph.TryAcquireLock(ctx, lockName, c.InstanceID, lockTTL, now)
			if err != nil {
				c.demote()
				return err
			}
			c.updateLeadership(acquired)
			return nil
		},
	}
}

// updateLeadership starts leader-only job goroutines on promotion and
// cancels them on demotion. It is idempotent: repeated calls with the
// same value are no-ops.
func (c *Coordinator) updateLeadership(nowLeader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nowLeader == c.isLeader {
		return
	}
	c.isLeader = nowLeader
	if c.Metrics != nil {
		c.Metrics.SetLeader(nowLeader)
	}
	if !nowLeader {
		if c.leaderStop != nil {
			c.leaderStop()
			c.leaderStop = nil
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.leaderCtx = ctx
	c.leaderStop = cancel
	jobs := c.LeaderOnlyJobs()
	for _, j := range jobs {
		c.leaderWG.Add(1)
		go func(j Job) {
			defer c.leaderWG.Done()
			runLoop(ctx, j, c.logger(), defaultJitter, c.Metrics)
		}(j)
	}
	c.logger().Info("promoted to leader", zap.String("instance", c.InstanceID), zap.Int("jobs", len(jobs)))
}

func (c *Coordinator) demote() {
	c.updateLeadership(false)
}

// DefaultLeaderOnlyJobs wires the five leader-only jobs named in spec
// §4.11 against the already-constructed graphstore Store and its
// downstream workers. Call this to build Coordinator.LeaderOnlyJobs.
func DefaultLeaderOnlyJobs(store *graphstore.Store, epWorker *episode.Worker, scanner *tasks.DueScanner, observer *tasks.Observer, retention graphstore.MaintenanceRetention) func() []Job {
	return func() []Job {
		return []Job{
			&BaseJob{
				JobName: "EpisodeWorker", JobInterval: 2 * time.Minute, JobLeaderOnly: true,
				RunFunc: func(ctx context.Context, now time.Time) error {
					if _, err := epWorker.ProcessOne(ctx, model.EpisodeKindRegular, now); err != nil {
						return err
					}
					_, err := epWorker.ProcessOne(ctx, model.EpisodeKindConsolidated, now)
					return err
				},
			},
			&BaseJob{
				JobName: "ConsolidationJob", JobInterval: 60 * time.Minute, JobLeaderOnly: true,
				RunFunc: func(ctx context.Context, now time.Time) error {
					_, err := episode.Consolidate(ctx, store, now)
					return err
				},
			},
			&BaseJob{
				JobName: "MaintenanceJob", JobInterval: 24 * time.Hour, JobLeaderOnly: true,
				RunFunc: func(ctx context.Context, now time.Time) error {
					_, err := store.RunMaintenance(ctx, retention, now)
					return err
				},
			},
			&BaseJob{
				JobName: "ObserverBatch", JobInterval: 15 * time.Minute, JobLeaderOnly: true,
				RunFunc: func(ctx context.Context, now time.Time) error {
					return fanOutUsers(ctx, store, "overdue_alerts", now, func(ctx context.Context, userID string, now time.Time) error {
						_, err := observer.ScanUser(ctx, userID, now)
						return err
					})
				},
			},
			&BaseJob{
				JobName: "DueScannerBatch", JobInterval: 5 * time.Minute, JobLeaderOnly: true,
				RunFunc: func(ctx context.Context, now time.Time) error {
					return fanOutUsers(ctx, store, "due_reminders", now, func(ctx context.Context, userID string, now time.Time) error {
						_, err := scanner.ScanUser(ctx, userID, now)
						return err
					})
				},
			},
		}
	}
}

// optInLister is the narrow surface fanOutUsers needs, satisfied by
// both *graphstore.Store and test fakes.
type optInLister interface {
	UsersOptedInFor(ctx context.Context, prefKey string) ([]string, error)
}

// fanOutUsers scans every user opted into prefKey with fanoutConcurrency
// concurrent workers, per the bounded-concurrency requirement for
// ObserverBatch/DueScannerBatch (spec §4.11).
func fanOutUsers(ctx context.Context, store optInLister, prefKey string, now time.Time, scan func(ctx context.Context, userID string, now time.Time) error) error {
	users, err := store.UsersOptedInFor(ctx, prefKey)
	if err != nil {
		return err
	}
	sem := semaphore.NewWeighted(fanoutConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, u := range users {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := scan(ctx, userID, now); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	return firstErr
}
