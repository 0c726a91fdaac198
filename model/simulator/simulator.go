package simulator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"go.mongodb.org/mongo-driver/bson"
)

// Simulator identifies a worker process registered with the store. The
// record itself carries no state beyond identity; whether a simulator is
// currently executing work is recorded by the dispatch collections, which
// reference simulators by ID. Those references are also why simulator
// records are deletion-protected: provenance of historical runs must
// survive deregistration.
type Simulator struct {
	ID           string    `bson:"_id" json:"id"`
	RegisteredAt time.Time `bson:"registered_at" json:"registered_at"`
}

// Register upserts the simulator record, so registration is idempotent: a
// worker restarting under the same ID keeps its original registration time.
func Register(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("simulator must have an id")
	}

	err := db.Upsert(ctx,
		Collection,
		bson.M{IdKey: id},
		bson.M{
			"$setOnInsert": bson.M{
				RegisteredAtKey: time.Now().UTC().Round(time.Millisecond),
			},
		},
	)
	return errors.Wrapf(err, "registering simulator '%s'", id)
}
