package simulation

import (
	"context"

	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection holds the simulation descriptors.
const Collection = "simulations"

var (
	IdKey          = bsonutil.MustHaveTag(Simulation{}, "ID")
	TopologyKey    = bsonutil.MustHaveTag(Simulation{}, "Topology")
	DestinationKey = bsonutil.MustHaveTag(Simulation{}, "Destination")
	RepetitionsKey = bsonutil.MustHaveTag(Simulation{}, "Repetitions")
	MinDelayKey    = bsonutil.MustHaveTag(Simulation{}, "MinDelay")
	MaxDelayKey    = bsonutil.MustHaveTag(Simulation{}, "MaxDelay")
	ThresholdKey   = bsonutil.MustHaveTag(Simulation{}, "Threshold")
	StubsFileKey   = bsonutil.MustHaveTag(Simulation{}, "StubsFile")
	SeedKey        = bsonutil.MustHaveTag(Simulation{}, "Seed")
	ReportNodesKey = bsonutil.MustHaveTag(Simulation{}, "ReportNodes")
)

// ById returns a query that matches a simulation by ID.
func ById(id string) db.Q {
	return db.Query(bson.M{IdKey: id})
}

// ByTopology returns a query matching every simulation on a topology.
func ByTopology(topology string) db.Q {
	return db.Query(bson.M{TopologyKey: topology})
}

// Insert writes the descriptor to the database.
func (s *Simulation) Insert(ctx context.Context) error {
	return db.Insert(ctx, Collection, s)
}

// FindOne gets one Simulation for the given query.
func FindOne(ctx context.Context, query db.Q) (*Simulation, error) {
	sim := &Simulation{}
	err := db.FindOneQContext(ctx, Collection, query, sim)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	return sim, errors.Wrap(err, "finding simulation")
}

// FindOneId gets the descriptor with the given ID, or nil when absent.
func FindOneId(ctx context.Context, id string) (*Simulation, error) {
	return FindOne(ctx, ById(id))
}

// Find gets every Simulation matching the given query.
func Find(ctx context.Context, query db.Q) ([]Simulation, error) {
	sims := []Simulation{}
	err := db.FindAllQ(ctx, Collection, query, &sims)
	return sims, errors.Wrap(err, "finding simulations")
}

// Count returns the number of descriptors matching the query.
func Count(ctx context.Context, query db.Q) (int, error) {
	return db.CountQ(ctx, Collection, query)
}
