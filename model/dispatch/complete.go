package dispatch

import (
	"context"
	"time"

	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"go.mongodb.org/mongo-driver/bson"
)

// CompleteCollection records finished runs.
const CompleteCollection = "sim_complete"

// CompleteEntry records that a simulator finished a simulation and when. A
// simulation accumulates one entry per simulator that ever completed it
// (possible only through explicit requeue and re-run), so completion
// provenance is identified by the (simulator, simulation) pair.
type CompleteEntry struct {
	SimulatorID  string    `bson:"simulator_id" json:"simulator_id"`
	SimulationID string    `bson:"sim_id" json:"simulation_id"`
	FinishedAt   time.Time `bson:"finished_at" json:"finished_at"`
}

var (
	CompleteSimulatorKey  = bsonutil.MustHaveTag(CompleteEntry{}, "SimulatorID")
	CompleteSimulationKey = bsonutil.MustHaveTag(CompleteEntry{}, "SimulationID")
	CompleteFinishedAtKey = bsonutil.MustHaveTag(CompleteEntry{}, "FinishedAt")
)

// byCompletePair matches the completion record for exactly one
// (simulator, simulation) pair.
func byCompletePair(simulatorID, simulationID string) bson.M {
	return bson.M{
		CompleteSimulatorKey:  simulatorID,
		CompleteSimulationKey: simulationID,
	}
}

// CompletedSimulations returns every completion record, most recent first.
func CompletedSimulations(ctx context.Context) ([]CompleteEntry, error) {
	entries := []CompleteEntry{}
	err := db.FindAllQ(ctx, CompleteCollection, db.Query(bson.M{}).Sort([]string{"-" + CompleteFinishedAtKey}), &entries)
	return entries, errors.Wrap(err, "finding completion records")
}

// FindCompleteEntries returns every completion record for a simulation.
func FindCompleteEntries(ctx context.Context, simulationID string) ([]CompleteEntry, error) {
	entries := []CompleteEntry{}
	err := db.FindAllQ(ctx, CompleteCollection, db.Query(bson.M{CompleteSimulationKey: simulationID}), &entries)
	return entries, errors.Wrap(err, "finding completion records")
}
