package db

import (
	"context"

	"github.com/pkg/errors"
	"github.com/ssbgp/dss"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Insert inserts the specified item into the specified collection.
func Insert(ctx context.Context, collection string, item any) error {
	_, err := dss.GetEnvironment().DB().Collection(collection).InsertOne(ctx,
		item,
	)
	return errors.Wrapf(errors.WithStack(err), "inserting document")
}

func InsertMany(ctx context.Context, collection string, items ...any) error {
	if len(items) == 0 {
		return nil
	}

	_, err := dss.GetEnvironment().DB().Collection(collection).InsertMany(ctx,
		items,
	)
	return errors.Wrapf(errors.WithStack(err), "inserting documents")
}

// Remove removes one item matching the query from the specified collection.
func Remove(ctx context.Context, collection string, query any) error {
	_, err := dss.GetEnvironment().DB().Collection(collection).DeleteOne(ctx,
		query,
	)
	return errors.Wrapf(errors.WithStack(err), "deleting document")
}

// RemoveAll removes all items matching the query from the specified collection.
func RemoveAll(ctx context.Context, collection string, query any) error {
	_, err := dss.GetEnvironment().DB().Collection(collection).DeleteMany(ctx,
		query,
	)
	return errors.Wrapf(errors.WithStack(err), "deleting documents")
}

// UpdateContext updates one matching document in the collection.
func UpdateContext(ctx context.Context, collection string, query any, update any) error {
	res, err := dss.GetEnvironment().DB().Collection(collection).UpdateOne(ctx,
		query,
		update,
	)
	if err != nil {
		return errors.Wrapf(err, "updating document")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

// Upsert runs the specified update against the collection as an upsert operation.
func Upsert(ctx context.Context, collection string, query any, update any) error {
	_, err := dss.GetEnvironment().DB().Collection(collection).UpdateOne(ctx,
		query,
		update,
		options.Update().SetUpsert(true),
	)
	return errors.Wrapf(err, "upserting")
}

// Count runs a count command with the specified query against the collection.
func Count(ctx context.Context, collection string, query any) (int, error) {
	res, err := dss.GetEnvironment().DB().Collection(collection).CountDocuments(
		ctx,
		query,
	)
	return int(res), errors.WithStack(err)
}

// FindOneQContext runs a Q query against the given collection, applying the
// results to "out." Only reads one document from the DB.
func FindOneQContext(ctx context.Context, collection string, q Q, out any) error {
	opts := options.FindOne().
		SetSkip(int64(q.skip))
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	if sort := sortSpec(q.sort); len(sort) > 0 {
		opts.SetSort(sort)
	}

	res := dss.GetEnvironment().DB().Collection(collection).FindOne(ctx, q.filter, opts)
	return res.Decode(out)
}

// FindAllQ runs a Q query against the given collection, applying the results to "out."
func FindAllQ(ctx context.Context, collection string, q Q, out any) error {
	opts := options.Find().
		SetSkip(int64(q.skip)).
		SetLimit(int64(q.limit))
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	if sort := sortSpec(q.sort); len(sort) > 0 {
		opts.SetSort(sort)
	}

	cursor, err := dss.GetEnvironment().DB().Collection(collection).Find(ctx, q.filter, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(cursor.All(ctx, out))
}

// CountQ runs a Q count query against the given collection.
func CountQ(ctx context.Context, collection string, q Q) (int, error) {
	return Count(ctx, collection, q.filter)
}

// FindOneAndDelete atomically removes the first document matching the query,
// in the given sort order, and unmarshals it into "out." The atomicity of the
// underlying command is what serializes concurrent callers: no two callers
// can receive the same document.
func FindOneAndDelete(ctx context.Context, collection string, query any, sort []string, out any) error {
	opts := options.FindOneAndDelete()
	if sortDoc := sortSpec(sort); len(sortDoc) > 0 {
		opts.SetSort(sortDoc)
	}

	res := dss.GetEnvironment().DB().Collection(collection).FindOneAndDelete(ctx, query, opts)
	return res.Decode(out)
}

// Aggregate runs an aggregation pipeline on a collection and unmarshals the
// results to the given "out" interface (usually a pointer to an array of
// structs/bson.M).
func Aggregate(ctx context.Context, collection string, pipeline any, out any) error {
	cursor, err := dss.GetEnvironment().DB().Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(cursor.All(ctx, out))
}

// EnsureIndex takes in a collection and ensures that the index is created if
// it does not already exist.
func EnsureIndex(ctx context.Context, collection string, index mongo.IndexModel) error {
	_, err := dss.GetEnvironment().DB().Collection(collection).Indexes().CreateOne(ctx, index)

	return errors.WithStack(err)
}

// =============================================
// ============ Test only functions ============
// =============================================

// CreateCollections ensures that all the given collections are created,
// returning an error immediately if creating any one of them fails.
func CreateCollections(ctx context.Context, collections ...string) error {
	const namespaceExistsErrCode = 48
	for _, collection := range collections {
		err := dss.GetEnvironment().DB().CreateCollection(ctx, collection)
		if err == nil {
			continue
		}
		// If the collection already exists, this does not count as an error.
		if mongoErr, ok := errors.Cause(err).(mongo.CommandError); ok && mongoErr.HasErrorCode(namespaceExistsErrCode) {
			continue
		}
		return errors.Wrapf(err, "creating collection '%s'", collection)
	}
	return nil
}

// ClearCollections clears all documents from all the specified collections,
// returning an error immediately if clearing any one of them fails.
func ClearCollections(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		_, err := dss.GetEnvironment().DB().Collection(collection).DeleteMany(ctx, bson.M{})
		if err != nil {
			return errors.Wrapf(err, "clearing collection '%s'", collection)
		}
	}
	return nil
}

// DropCollections drops the specified collections, returning an error
// immediately if dropping any one of them fails.
func DropCollections(ctx context.Context, collections ...string) error {
	for _, collection := range collections {
		if err := dss.GetEnvironment().DB().Collection(collection).Drop(ctx); err != nil {
			return errors.Wrapf(err, "dropping collection '%s'", collection)
		}
	}
	return nil
}
