package dispatch

import (
	"context"
	"time"

	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"go.mongodb.org/mongo-driver/bson"
)

// RunningCollection binds claimed simulations to the simulators executing
// them.
const RunningCollection = "sim_running"

// RunningEntry records that a simulation is currently executing under a
// simulator. Its ID is the simulation ID, which makes "at most one simulator
// runs a given simulation" a property of the primary key rather than
// something the state machine has to re-check.
type RunningEntry struct {
	SimulationID string    `bson:"_id" json:"simulation_id"`
	SimulatorID  string    `bson:"simulator_id" json:"simulator_id"`
	StartedAt    time.Time `bson:"started_at" json:"started_at"`
}

var (
	RunningSimulationKey = bsonutil.MustHaveTag(RunningEntry{}, "SimulationID")
	RunningSimulatorKey  = bsonutil.MustHaveTag(RunningEntry{}, "SimulatorID")
	RunningStartedAtKey  = bsonutil.MustHaveTag(RunningEntry{}, "StartedAt")
)

// byRunningPair matches the running entry for exactly one
// (simulator, simulation) binding.
func byRunningPair(simulatorID, simulationID string) bson.M {
	return bson.M{
		RunningSimulationKey: simulationID,
		RunningSimulatorKey:  simulatorID,
	}
}

// RunningSimulations returns every running entry, longest-running first.
func RunningSimulations(ctx context.Context) ([]RunningEntry, error) {
	entries := []RunningEntry{}
	err := db.FindAllQ(ctx, RunningCollection, db.Query(bson.M{}).Sort([]string{RunningStartedAtKey}), &entries)
	return entries, errors.Wrap(err, "finding running entries")
}

// FindRunningEntry returns the running entry for a simulation, or nil when
// the simulation is not running under any simulator.
func FindRunningEntry(ctx context.Context, simulationID string) (*RunningEntry, error) {
	entry := &RunningEntry{}
	err := db.FindOneQContext(ctx, RunningCollection, db.Query(bson.M{RunningSimulationKey: simulationID}), entry)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	return entry, errors.Wrap(err, "finding running entry")
}
