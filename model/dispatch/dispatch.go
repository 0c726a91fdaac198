// Package dispatch implements the simulation lifecycle state machine over
// the shared store: Queued -> Running(simulator) -> Complete(simulator, t),
// with Running -> Queued on failure and explicit Complete -> Queued re-runs.
//
// All operations are safe under concurrent callers from independent worker
// processes. ClaimNext is the only operation requiring mutual exclusion
// across the whole caller set; the atomic find-and-delete on the queue
// collection is its serialization point.
package dispatch

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"github.com/ssbgp/dss/model/simulation"
	"github.com/ssbgp/dss/model/simulator"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrDuplicateSimulation is returned by Enqueue when a simulation with
	// the same ID but different content already exists.
	ErrDuplicateSimulation = errors.New("a different simulation with that id already exists")

	// ErrNotRunning is returned by Complete and Requeue when no running
	// entry binds the simulation to the reporting simulator.
	ErrNotRunning = errors.New("simulation is not running under that simulator")

	// ErrNotQueued is returned by SetQueuePriority when the simulation has
	// no queue entry.
	ErrNotQueued = errors.New("simulation is not queued")

	// ErrSimulatorInUse is returned by RemoveSimulator while running or
	// completed simulations still reference the simulator.
	ErrSimulatorInUse = errors.New("simulator is referenced by running or completed simulations")
)

// Enqueue inserts the simulation descriptor (if absent) and a queue entry
// with the given priority. Re-enqueueing identical content is idempotent
// while the simulation is queued or running, and acts as an explicit re-run
// request once it has completed. Enqueueing different content under an
// existing ID fails with ErrDuplicateSimulation.
func Enqueue(ctx context.Context, sim *simulation.Simulation, priority int) error {
	if err := sim.Validate(); err != nil {
		return errors.Wrap(err, "invalid simulation")
	}

	if err := sim.Insert(ctx); err != nil {
		if !db.IsDuplicateKey(err) {
			return errors.Wrapf(err, "inserting simulation '%s'", sim.ID)
		}
		existing, ferr := simulation.FindOneId(ctx, sim.ID)
		if ferr != nil {
			return errors.Wrapf(ferr, "checking existing simulation '%s'", sim.ID)
		}
		if existing == nil || !existing.SameContent(sim) {
			return errors.Wrapf(ErrDuplicateSimulation, "simulation '%s'", sim.ID)
		}
		running, rerr := FindRunningEntry(ctx, sim.ID)
		if rerr != nil {
			return errors.Wrapf(rerr, "checking whether simulation '%s' is running", sim.ID)
		}
		if running != nil {
			// Already in flight. A queue entry now would only bounce
			// between claimers until the run finishes.
			return nil
		}
	}

	entry := newQueueEntry(sim.ID, priority)
	if err := db.Insert(ctx, QueueCollection, entry); err != nil {
		if db.IsDuplicateKey(err) {
			// Already queued; keep the original priority and position.
			return nil
		}
		return errors.Wrapf(err, "queueing simulation '%s'", sim.ID)
	}

	return nil
}

// EnqueueAll enqueues every given simulation with the same priority. When
// every simulation is new it inserts the whole batch in two writes; when
// some ID in the batch already exists it falls back to one-at-a-time
// enqueues, which sort out duplicates per simulation.
func EnqueueAll(ctx context.Context, sims []simulation.Simulation, priority int) error {
	if len(sims) == 0 {
		return nil
	}

	descriptors := make([]any, 0, len(sims))
	entries := make([]any, 0, len(sims))
	for i := range sims {
		if err := sims[i].Validate(); err != nil {
			return errors.Wrapf(err, "invalid simulation %d of %d", i+1, len(sims))
		}
		descriptors = append(descriptors, &sims[i])
		entries = append(entries, newQueueEntry(sims[i].ID, priority))
	}

	err := db.InsertMany(ctx, simulation.Collection, descriptors...)
	if err == nil {
		if err = db.InsertMany(ctx, QueueCollection, entries...); err == nil {
			return nil
		}
	}
	if !db.IsDuplicateKey(err) {
		return errors.Wrap(err, "inserting simulation batch")
	}

	// Enqueue tolerates the partial batch writes above: an identical
	// descriptor already in place is not a conflict, and neither is an
	// existing queue entry.
	for i := range sims {
		if err := Enqueue(ctx, &sims[i], priority); err != nil {
			return errors.Wrapf(err, "enqueueing simulation %d of %d", i+1, len(sims))
		}
	}
	return nil
}

// ClaimNext atomically transitions the highest-priority queued simulation
// (FIFO within a priority tier) to running under the given simulator and
// returns its descriptor. It returns nil without error when the queue is
// empty. Under concurrent callers exactly one caller obtains any given
// simulation; the losers simply observe the remainder of the queue.
func ClaimNext(ctx context.Context, simulatorID string) (*simulation.Simulation, error) {
	entry := QueueEntry{}
	err := db.FindOneAndDelete(ctx, QueueCollection, bson.M{}, policyOrder, &entry)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claiming next queue entry")
	}

	run := RunningEntry{
		SimulationID: entry.ID,
		SimulatorID:  simulatorID,
		StartedAt:    time.Now().UTC().Round(time.Millisecond),
	}
	if err := db.Insert(ctx, RunningCollection, run); err != nil {
		// The queue entry is already gone. Put it back so the
		// simulation is not orphaned; if that also fails the
		// RestoreOrphans sweep will repair it.
		restoreErr := db.Insert(ctx, QueueCollection, entry)
		grip.CriticalWhen(restoreErr != nil, message.WrapError(restoreErr, message.Fields{
			"message":    "could not restore queue entry after failed claim",
			"simulation": entry.ID,
			"simulator":  simulatorID,
		}))
		return nil, errors.Wrapf(err, "binding simulation '%s' to simulator '%s'", entry.ID, simulatorID)
	}

	sim, err := simulation.FindOneId(ctx, entry.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching claimed simulation '%s'", entry.ID)
	}
	if sim == nil {
		// The simulation was deleted while its queue entry was being
		// claimed. Drop the stale binding and report no work.
		grip.Warning(message.Fields{
			"message":    "claimed a simulation that no longer exists",
			"simulation": entry.ID,
			"simulator":  simulatorID,
		})
		return nil, errors.Wrapf(db.RemoveAll(ctx, RunningCollection, bson.M{RunningSimulationKey: entry.ID}),
			"discarding claim on deleted simulation '%s'", entry.ID)
	}

	return sim, nil
}

// Complete records that the simulator finished the simulation at the given
// time. It requires the running entry for exactly that (simulator,
// simulation) pair and fails with ErrNotRunning otherwise.
func Complete(ctx context.Context, simulatorID, simulationID string, finishedAt time.Time) error {
	run := RunningEntry{}
	err := db.FindOneAndDelete(ctx, RunningCollection, byRunningPair(simulatorID, simulationID), nil, &run)
	if db.ResultsNotFound(err) {
		return errors.Wrapf(ErrNotRunning, "simulation '%s', simulator '%s'", simulationID, simulatorID)
	}
	if err != nil {
		return errors.Wrapf(err, "removing running entry for simulation '%s'", simulationID)
	}

	err = db.Upsert(ctx,
		CompleteCollection,
		byCompletePair(simulatorID, simulationID),
		bson.M{"$set": bson.M{CompleteFinishedAtKey: finishedAt.UTC().Round(time.Millisecond)}},
	)
	return errors.Wrapf(err, "recording completion of simulation '%s'", simulationID)
}

// Requeue transitions a running simulation back to the queue with the given
// priority, used when a simulator reports failure or an external liveness
// check finds its runner gone. It fails with ErrNotRunning when no running
// entry matches the (simulator, simulation) pair.
func Requeue(ctx context.Context, simulatorID, simulationID string, priority int) error {
	run := RunningEntry{}
	err := db.FindOneAndDelete(ctx, RunningCollection, byRunningPair(simulatorID, simulationID), nil, &run)
	if db.ResultsNotFound(err) {
		return errors.Wrapf(ErrNotRunning, "simulation '%s', simulator '%s'", simulationID, simulatorID)
	}
	if err != nil {
		return errors.Wrapf(err, "removing running entry for simulation '%s'", simulationID)
	}

	entry := newQueueEntry(simulationID, priority)
	if err := db.Insert(ctx, QueueCollection, entry); err != nil && !db.IsDuplicateKey(err) {
		return errors.Wrapf(err, "requeueing simulation '%s'", simulationID)
	}

	return nil
}

// SetQueuePriority changes the priority of a queued simulation in place.
// Its position within the new tier is still its original insertion order.
// It fails with ErrNotQueued when the simulation has no queue entry.
func SetQueuePriority(ctx context.Context, id string, priority int) error {
	err := db.UpdateContext(ctx, QueueCollection,
		bson.M{QueueIdKey: id},
		bson.M{"$set": bson.M{QueuePriorityKey: priority}},
	)
	if errors.Cause(err) == db.ErrNotFound {
		return errors.Wrapf(ErrNotQueued, "simulation '%s'", id)
	}
	return errors.Wrapf(err, "setting priority of simulation '%s'", id)
}

// RemoveSimulation deletes the descriptor and cascades the removal of its
// queue, running, and completion rows. The queue and running entries are
// keyed by the simulation ID, so each holds at most one row; a simulation
// can accumulate several completion records.
func RemoveSimulation(ctx context.Context, id string) error {
	catcher := grip.NewBasicCatcher()
	catcher.Add(db.Remove(ctx, QueueCollection, bson.M{QueueIdKey: id}))
	catcher.Add(db.Remove(ctx, RunningCollection, bson.M{RunningSimulationKey: id}))
	catcher.Add(db.RemoveAll(ctx, CompleteCollection, bson.M{CompleteSimulationKey: id}))
	catcher.Add(db.Remove(ctx, simulation.Collection, bson.M{simulation.IdKey: id}))
	return errors.Wrapf(catcher.Resolve(), "removing simulation '%s'", id)
}

// RemoveSimulator deletes a simulator record. Simulators referenced by
// running or completed simulations are deletion-protected so provenance of
// historical runs survives deregistration; attempting to delete one fails
// with ErrSimulatorInUse.
func RemoveSimulator(ctx context.Context, id string) error {
	running, err := db.Count(ctx, RunningCollection, bson.M{RunningSimulatorKey: id})
	if err != nil {
		return errors.Wrapf(err, "counting running references to simulator '%s'", id)
	}
	completed, err := db.Count(ctx, CompleteCollection, bson.M{CompleteSimulatorKey: id})
	if err != nil {
		return errors.Wrapf(err, "counting completion references to simulator '%s'", id)
	}
	if running+completed > 0 {
		return errors.Wrapf(ErrSimulatorInUse, "simulator '%s'", id)
	}

	return errors.Wrapf(db.RemoveAll(ctx, simulator.Collection, bson.M{simulator.IdKey: id}),
		"removing simulator '%s'", id)
}

// RestoreOrphans re-enqueues, with the given priority, every simulation that
// appears in no lifecycle collection. A simulation can only end up in that
// state if a claimer crashed between removing the queue entry and inserting
// the running entry, so the sweep is expected to find nothing almost always.
// It returns the number of simulations restored.
func RestoreOrphans(ctx context.Context, priority int) (int, error) {
	sims, err := simulation.Find(ctx, db.Query(bson.M{}).Project(bson.M{simulation.IdKey: 1}))
	if err != nil {
		return 0, errors.Wrap(err, "listing simulations")
	}

	tracked := map[string]struct{}{}
	queued, err := QueuedSimulations(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range queued {
		tracked[entry.ID] = struct{}{}
	}
	running, err := RunningSimulations(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range running {
		tracked[entry.SimulationID] = struct{}{}
	}
	completed, err := CompletedSimulations(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range completed {
		tracked[entry.SimulationID] = struct{}{}
	}

	restored := 0
	for _, sim := range sims {
		if _, ok := tracked[sim.ID]; ok {
			continue
		}
		if err := db.Insert(ctx, QueueCollection, newQueueEntry(sim.ID, priority)); err != nil {
			if db.IsDuplicateKey(err) {
				continue
			}
			return restored, errors.Wrapf(err, "restoring simulation '%s'", sim.ID)
		}
		restored++
	}

	grip.InfoWhen(restored > 0, message.Fields{
		"message":  "restored orphaned simulations to the queue",
		"restored": restored,
		"priority": priority,
	})

	return restored, nil
}

// Counts summarizes how many simulations sit in each lifecycle state.
type Counts struct {
	Simulations int `json:"simulations"`
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Complete    int `json:"complete"`
}

// StateCounts reports the number of known simulations and the number of
// entries in each lifecycle collection.
func StateCounts(ctx context.Context) (Counts, error) {
	counts := Counts{}
	var err error

	if counts.Simulations, err = simulation.Count(ctx, db.Query(bson.M{})); err != nil {
		return counts, errors.Wrap(err, "counting simulations")
	}
	if counts.Queued, err = db.Count(ctx, QueueCollection, bson.M{}); err != nil {
		return counts, errors.Wrap(err, "counting queued simulations")
	}
	if counts.Running, err = db.Count(ctx, RunningCollection, bson.M{}); err != nil {
		return counts, errors.Wrap(err, "counting running simulations")
	}
	if counts.Complete, err = db.Count(ctx, CompleteCollection, bson.M{}); err != nil {
		return counts, errors.Wrap(err, "counting completion records")
	}

	return counts, nil
}

// EnsureIndexes creates the indexes the dispatch collections rely on: the
// queue's policy-order sort, the running lookup by simulator, and the
// completion pair uniqueness.
func EnsureIndexes(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()
	catcher.Add(db.EnsureIndex(ctx, QueueCollection, mongo.IndexModel{
		Keys: bson.D{{Key: QueuePriorityKey, Value: -1}, {Key: QueueSeqKey, Value: 1}},
	}))
	catcher.Add(db.EnsureIndex(ctx, RunningCollection, mongo.IndexModel{
		Keys: bson.D{{Key: RunningSimulatorKey, Value: 1}},
	}))
	catcher.Add(db.EnsureIndex(ctx, CompleteCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: CompleteSimulatorKey, Value: 1}, {Key: CompleteSimulationKey, Value: 1}},
		Options: options.Index().SetUnique(true),
	}))
	return errors.Wrap(catcher.Resolve(), "ensuring dispatch indexes")
}
