package simulator

import (
	"context"

	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"go.mongodb.org/mongo-driver/bson"
)

// Collection holds the registered simulator records.
const Collection = "simulators"

var (
	IdKey           = bsonutil.MustHaveTag(Simulator{}, "ID")
	RegisteredAtKey = bsonutil.MustHaveTag(Simulator{}, "RegisteredAt")
)

// ById returns a query that matches a simulator by ID.
func ById(id string) db.Q {
	return db.Query(bson.M{IdKey: id})
}

// All is a query matching every registered simulator, oldest registration
// first.
var All = db.Query(bson.M{}).Sort([]string{RegisteredAtKey})

// FindOne gets one Simulator for the given query.
func FindOne(ctx context.Context, query db.Q) (*Simulator, error) {
	sim := &Simulator{}
	err := db.FindOneQContext(ctx, Collection, query, sim)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	return sim, errors.Wrap(err, "finding simulator")
}

// FindOneId gets the simulator with the given ID, or nil when absent.
func FindOneId(ctx context.Context, id string) (*Simulator, error) {
	return FindOne(ctx, ById(id))
}

// Find gets every Simulator matching the given query.
func Find(ctx context.Context, query db.Q) ([]Simulator, error) {
	sims := []Simulator{}
	err := db.FindAllQ(ctx, Collection, query, &sims)
	return sims, errors.Wrap(err, "finding simulators")
}

// Count returns the number of simulators matching the query.
func Count(ctx context.Context, query db.Q) (int, error) {
	return db.CountQ(ctx, Collection, query)
}
