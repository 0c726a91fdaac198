package dispatch

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
	"github.com/ssbgp/dss/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// QueueCollection holds one entry per simulation waiting to be claimed.
const QueueCollection = "sim_queue"

// QueueEntry relates a queued simulation to its priority. The entry exists
// exactly while the simulation waits to be claimed; its ID is the simulation
// ID, so a simulation can be queued at most once.
type QueueEntry struct {
	ID       string `bson:"_id" json:"id"`
	Priority int    `bson:"priority" json:"priority"`

	// Seq makes insertion order explicit. ObjectIDs are monotonic for a
	// given process and timestamp-prefixed across processes, which is the
	// granularity the FIFO tie-break needs.
	Seq        primitive.ObjectID `bson:"seq" json:"seq"`
	EnqueuedAt time.Time          `bson:"enqueued_at" json:"enqueued_at"`
}

var (
	QueueIdKey         = bsonutil.MustHaveTag(QueueEntry{}, "ID")
	QueuePriorityKey   = bsonutil.MustHaveTag(QueueEntry{}, "Priority")
	QueueSeqKey        = bsonutil.MustHaveTag(QueueEntry{}, "Seq")
	QueueEnqueuedAtKey = bsonutil.MustHaveTag(QueueEntry{}, "EnqueuedAt")
)

// policyOrder is the queue policy's ordering key: highest priority first,
// insertion order within a priority tier.
var policyOrder = []string{"-" + QueuePriorityKey, QueueSeqKey}

func newQueueEntry(simulationID string, priority int) QueueEntry {
	return QueueEntry{
		ID:         simulationID,
		Priority:   priority,
		Seq:        primitive.NewObjectID(),
		EnqueuedAt: time.Now().UTC().Round(time.Millisecond),
	}
}

// InPolicyOrder reports whether entry a should be claimed before entry b.
// The policy is a pure function of the two entries; it carries no state
// beyond what is persisted on them.
func InPolicyOrder(a, b QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return bytes.Compare(a.Seq[:], b.Seq[:]) < 0
}

// SortByPolicy orders queue entries the way successive claims would drain
// them.
func SortByPolicy(entries []QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return InPolicyOrder(entries[i], entries[j])
	})
}

// QueuedSimulations returns every queue entry in policy order.
func QueuedSimulations(ctx context.Context) ([]QueueEntry, error) {
	entries := []QueueEntry{}
	err := db.FindAllQ(ctx, QueueCollection, db.Query(bson.M{}).Sort(policyOrder), &entries)
	return entries, errors.Wrap(err, "finding queue entries")
}

// PriorityCount reports how many simulations wait in one priority tier.
type PriorityCount struct {
	Priority int `bson:"_id" json:"priority"`
	Count    int `bson:"count" json:"count"`
}

// QueuePriorityCounts groups the queue by priority tier, highest first.
func QueuePriorityCounts(ctx context.Context) ([]PriorityCount, error) {
	pipeline := []bson.M{
		{"$group": bson.M{"_id": "$" + QueuePriorityKey, "count": bson.M{"$sum": 1}}},
		{"$sort": bson.M{"_id": -1}},
	}

	counts := []PriorityCount{}
	err := db.Aggregate(ctx, QueueCollection, pipeline, &counts)
	return counts, errors.Wrap(err, "grouping queue entries by priority")
}

// FindQueueEntry returns the queue entry for a simulation, or nil when the
// simulation is not queued.
func FindQueueEntry(ctx context.Context, simulationID string) (*QueueEntry, error) {
	entry := &QueueEntry{}
	err := db.FindOneQContext(ctx, QueueCollection, db.Query(bson.M{QueueIdKey: simulationID}), entry)
	if db.ResultsNotFound(err) {
		return nil, nil
	}
	return entry, errors.Wrap(err, "finding queue entry")
}
