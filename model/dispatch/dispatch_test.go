package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"github.com/ssbgp/dss/model/simulation"
	"github.com/ssbgp/dss/model/simulator"
	"github.com/ssbgp/dss/testutil"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
)

type DispatchSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
}

func TestDispatchSuite(t *testing.T) {
	suite.Run(t, new(DispatchSuite))
}

func (s *DispatchSuite) SetupSuite() {
	testutil.Setup()
	s.Require().NoError(EnsureIndexes(context.Background()))
}

func (s *DispatchSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Require().NoError(db.ClearCollections(s.ctx,
		simulation.Collection,
		simulator.Collection,
		QueueCollection,
		RunningCollection,
		CompleteCollection,
	))
}

func (s *DispatchSuite) TearDownTest() {
	s.cancel()
}

func (s *DispatchSuite) TearDownSuite() {
	s.Require().NoError(db.DropCollections(context.Background(),
		simulation.Collection,
		simulator.Collection,
		QueueCollection,
		RunningCollection,
		CompleteCollection,
	))
}

func newSim(topology string) simulation.Simulation {
	return simulation.New(topology, 0, 100, 10, 1000, 2000000, topology+".stubs", nil, nil)
}

func (s *DispatchSuite) TestEnqueueInsertsDescriptorAndQueueEntry() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 3))

	stored, err := simulation.FindOneId(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored)
	s.True(stored.SameContent(&sim))

	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(3, entry.Priority)
	s.False(entry.EnqueuedAt.IsZero())
}

func (s *DispatchSuite) TestEnqueueIdenticalContentIsIdempotent() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 3))
	s.Require().NoError(Enqueue(s.ctx, &sim, 7))

	count, err := db.Count(s.ctx, QueueCollection, bson.M{})
	s.Require().NoError(err)
	s.Equal(1, count)

	// The original priority and position are kept.
	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(3, entry.Priority)
}

func (s *DispatchSuite) TestEnqueueConflictingContentFails() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	conflicting := sim
	conflicting.Topology = "topo-b"
	err := Enqueue(s.ctx, &conflicting, 0)
	s.Require().Error(err)
	s.Equal(ErrDuplicateSimulation, errors.Cause(err))
}

func (s *DispatchSuite) TestEnqueueWhileRunningIsNoOp() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)

	// Re-enqueueing identical content mid-run adds no queue entry; the
	// simulation stays exclusively with its runner.
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Nil(entry)

	run, err := FindRunningEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(run)
	s.Equal("worker-1", run.SimulatorID)

	// Once the run finishes, enqueueing again is a real re-run request.
	s.Require().NoError(Complete(s.ctx, "worker-1", sim.ID, time.Now()))
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	entry, err = FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.NotNil(entry)
}

func (s *DispatchSuite) TestEnqueueAllInsertsBatch() {
	sims := make([]simulation.Simulation, 4)
	for i := range sims {
		sims[i] = newSim(fmt.Sprintf("topo-%d", i))
	}
	s.Require().NoError(EnqueueAll(s.ctx, sims, 2))

	counts, err := StateCounts(s.ctx)
	s.Require().NoError(err)
	s.Equal(len(sims), counts.Simulations)
	s.Equal(len(sims), counts.Queued)

	for i := range sims {
		entry, err := FindQueueEntry(s.ctx, sims[i].ID)
		s.Require().NoError(err)
		s.Require().NotNil(entry)
		s.Equal(2, entry.Priority)
	}
}

func (s *DispatchSuite) TestEnqueueAllWithExistingSimulations() {
	existing := newSim("topo-0")
	s.Require().NoError(Enqueue(s.ctx, &existing, 0))

	sims := []simulation.Simulation{existing, newSim("topo-1"), newSim("topo-2")}
	s.Require().NoError(EnqueueAll(s.ctx, sims, 0))

	counts, err := StateCounts(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, counts.Simulations)
	s.Equal(3, counts.Queued)

	conflicting := existing
	conflicting.Topology = "topo-x"
	err = EnqueueAll(s.ctx, []simulation.Simulation{conflicting, newSim("topo-3")}, 0)
	s.Require().Error(err)
	s.Equal(ErrDuplicateSimulation, errors.Cause(err))
}

func (s *DispatchSuite) TestEnqueueRejectsInvalidSimulation() {
	sim := newSim("topo-a")
	sim.Repetitions = 0
	s.Error(Enqueue(s.ctx, &sim, 0))
}

func (s *DispatchSuite) TestClaimEmptyQueueReturnsNothing() {
	sim, err := ClaimNext(s.ctx, "worker-1")
	s.NoError(err)
	s.Nil(sim)
}

func (s *DispatchSuite) TestClaimTransitionsToRunning() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Equal(sim.ID, claimed.ID)

	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Nil(entry)

	run, err := FindRunningEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(run)
	s.Equal("worker-1", run.SimulatorID)
	s.False(run.StartedAt.IsZero())
}

func (s *DispatchSuite) TestClaimOrderFollowsPriorityAndInsertion() {
	priorities := []int{5, 1, 5, 3}
	ids := make([]string, len(priorities))
	for i, priority := range priorities {
		sim := newSim(fmt.Sprintf("topo-%d", i))
		s.Require().NoError(Enqueue(s.ctx, &sim, priority))
		ids[i] = sim.ID
	}

	// Highest priority first, FIFO within a tier.
	expected := []string{ids[0], ids[2], ids[3], ids[1]}
	for _, want := range expected {
		claimed, err := ClaimNext(s.ctx, "worker-1")
		s.Require().NoError(err)
		s.Require().NotNil(claimed)
		s.Equal(want, claimed.ID)
	}

	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.NoError(err)
	s.Nil(claimed)
}

func (s *DispatchSuite) TestSetQueuePriority() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	s.Require().NoError(SetQueuePriority(s.ctx, sim.ID, 5))

	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(5, entry.Priority)

	s.Equal(ErrNotQueued, errors.Cause(SetQueuePriority(s.ctx, "no-such-simulation", 5)))

	// A claimed simulation has no queue entry to reprioritize.
	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Equal(ErrNotQueued, errors.Cause(SetQueuePriority(s.ctx, sim.ID, 1)))
}

func (s *DispatchSuite) TestQueuePriorityCounts() {
	counts, err := QueuePriorityCounts(s.ctx)
	s.Require().NoError(err)
	s.Empty(counts)

	for i, priority := range []int{5, 1, 5, 3, 1, 1} {
		sim := newSim(fmt.Sprintf("topo-%d", i))
		s.Require().NoError(Enqueue(s.ctx, &sim, priority))
	}

	counts, err = QueuePriorityCounts(s.ctx)
	s.Require().NoError(err)
	s.Equal([]PriorityCount{
		{Priority: 5, Count: 2},
		{Priority: 3, Count: 1},
		{Priority: 1, Count: 3},
	}, counts)
}

func (s *DispatchSuite) TestCompleteRequiresMatchingRunningEntry() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	err := Complete(s.ctx, "worker-1", sim.ID, time.Now())
	s.Equal(ErrNotRunning, errors.Cause(err))

	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)

	// The wrong simulator cannot complete someone else's run.
	err = Complete(s.ctx, "worker-2", sim.ID, time.Now())
	s.Equal(ErrNotRunning, errors.Cause(err))

	s.NoError(Complete(s.ctx, "worker-1", sim.ID, time.Now()))

	// A second report finds no running entry.
	err = Complete(s.ctx, "worker-1", sim.ID, time.Now())
	s.Equal(ErrNotRunning, errors.Cause(err))
}

func (s *DispatchSuite) TestCompleteRoundTrip() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)

	finishedAt := time.Now()
	s.Require().NoError(Complete(s.ctx, "worker-1", sim.ID, finishedAt))

	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Nil(entry)

	run, err := FindRunningEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Nil(run)

	completions, err := FindCompleteEntries(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().Len(completions, 1)
	s.Equal("worker-1", completions[0].SimulatorID)
	s.WithinDuration(finishedAt, completions[0].FinishedAt, time.Second)
}

func (s *DispatchSuite) TestRequeueRestoresQueueEntry() {
	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))

	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)

	s.Equal(ErrNotRunning, errors.Cause(Requeue(s.ctx, "worker-2", sim.ID, 1)))
	s.Require().NoError(Requeue(s.ctx, "worker-1", sim.ID, 1))

	run, err := FindRunningEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Nil(run)

	entry, err := FindQueueEntry(s.ctx, sim.ID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(1, entry.Priority)

	// The restored simulation can be claimed again, by anyone.
	reclaimed, err := ClaimNext(s.ctx, "worker-2")
	s.Require().NoError(err)
	s.Require().NotNil(reclaimed)
	s.Equal(sim.ID, reclaimed.ID)
}

func (s *DispatchSuite) TestConcurrentClaimsAreExclusive() {
	const numSims = 20
	const numWorkers = 5

	for i := 0; i < numSims; i++ {
		sim := newSim(fmt.Sprintf("topo-%d", i))
		s.Require().NoError(Enqueue(s.ctx, &sim, i%3))
	}

	var mu sync.Mutex
	claimedIDs := map[string]string{}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				claimed, err := ClaimNext(s.ctx, workerID)
				if !s.NoError(err) {
					return
				}
				if claimed == nil {
					return
				}
				mu.Lock()
				previous, seen := claimedIDs[claimed.ID]
				claimedIDs[claimed.ID] = workerID
				mu.Unlock()
				s.False(seen, "simulation %s claimed by both %s and %s", claimed.ID, previous, workerID)
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	s.Len(claimedIDs, numSims)

	counts, err := StateCounts(s.ctx)
	s.Require().NoError(err)
	s.Zero(counts.Queued)
	s.Equal(numSims, counts.Running)
}

func (s *DispatchSuite) TestRemoveSimulationCascades() {
	completed := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &completed, 0))
	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Require().NoError(Complete(s.ctx, "worker-1", completed.ID, time.Now()))
	s.Require().NoError(Enqueue(s.ctx, &completed, 0)) // explicit re-run
	reclaimed, err := ClaimNext(s.ctx, "worker-2")
	s.Require().NoError(err)
	s.Require().NotNil(reclaimed)

	s.Require().NoError(RemoveSimulation(s.ctx, completed.ID))

	stored, err := simulation.FindOneId(s.ctx, completed.ID)
	s.Require().NoError(err)
	s.Nil(stored)

	counts, err := StateCounts(s.ctx)
	s.Require().NoError(err)
	s.Zero(counts.Queued)
	s.Zero(counts.Running)
	s.Zero(counts.Complete)
}

func (s *DispatchSuite) TestRemoveSimulatorProtectedWhileReferenced() {
	s.Require().NoError(simulator.Register(s.ctx, "worker-1"))

	sim := newSim("topo-a")
	s.Require().NoError(Enqueue(s.ctx, &sim, 0))
	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)

	// Referenced by a running entry.
	s.Equal(ErrSimulatorInUse, errors.Cause(RemoveSimulator(s.ctx, "worker-1")))

	s.Require().NoError(Complete(s.ctx, "worker-1", sim.ID, time.Now()))

	// Still referenced, now by the completion record.
	s.Equal(ErrSimulatorInUse, errors.Cause(RemoveSimulator(s.ctx, "worker-1")))

	s.Require().NoError(RemoveSimulation(s.ctx, sim.ID))
	s.Require().NoError(RemoveSimulator(s.ctx, "worker-1"))

	stored, err := simulator.FindOneId(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Nil(stored)
}

func (s *DispatchSuite) TestRestoreOrphans() {
	orphan := newSim("topo-a")
	s.Require().NoError(orphan.Insert(s.ctx))

	tracked := newSim("topo-b")
	s.Require().NoError(Enqueue(s.ctx, &tracked, 0))

	restored, err := RestoreOrphans(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal(1, restored)

	entry, err := FindQueueEntry(s.ctx, orphan.ID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(2, entry.Priority)

	restored, err = RestoreOrphans(s.ctx, 2)
	s.Require().NoError(err)
	s.Zero(restored)
}

func (s *DispatchSuite) TestStateCounts() {
	for i := 0; i < 3; i++ {
		sim := newSim(fmt.Sprintf("topo-%d", i))
		s.Require().NoError(Enqueue(s.ctx, &sim, 0))
	}
	claimed, err := ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)
	s.Require().NoError(Complete(s.ctx, "worker-1", claimed.ID, time.Now()))
	claimed, err = ClaimNext(s.ctx, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(claimed)

	counts, err := StateCounts(s.ctx)
	s.Require().NoError(err)
	s.Equal(Counts{Simulations: 3, Queued: 1, Running: 1, Complete: 1}, counts)
}
