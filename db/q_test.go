package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestQueryBuilder(t *testing.T) {
	q := Query(bson.M{"topology": "topo-a"})
	assert.Nil(t, q.projection)
	assert.Empty(t, q.sort)

	q = q.Project(bson.M{"_id": 1}).Sort([]string{"-priority", "seq"}).Skip(5).Limit(10)
	assert.NotNil(t, q.projection)
	assert.Equal(t, []string{"-priority", "seq"}, q.sort)
	assert.Equal(t, 5, q.skip)
	assert.Equal(t, 10, q.limit)

	// The original query is left untouched by the builder chain.
	assert.Nil(t, Query(nil).projection)
}

func TestSortSpec(t *testing.T) {
	assert.Empty(t, sortSpec(nil))
	assert.Empty(t, sortSpec([]string{""}))

	spec := sortSpec([]string{"-priority", "seq"})
	assert.Equal(t, bson.D{
		{Key: "priority", Value: -1},
		{Key: "seq", Value: 1},
	}, spec)
}
