package db

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Q holds all information necessary to execute a query.
type Q struct {
	filter     any
	projection any
	sort       []string
	skip       int
	limit      int
}

// Query creates a db.Q for the given MongoDB query. The filter
// can be a struct, bson.D, bson.M, nil, etc.
func Query(filter any) Q {
	return Q{filter: filter}
}

func (q Q) Project(projection any) Q {
	q.projection = projection
	return q
}

// Sort sets the order in which results are returned. Each field name may be
// prefixed with "-" for a descending sort.
func (q Q) Sort(sort []string) Q {
	q.sort = sort
	return q
}

func (q Q) Skip(skip int) Q {
	q.skip = skip
	return q
}

func (q Q) Limit(limit int) Q {
	q.limit = limit
	return q
}

// sortSpec converts a legacy sort string slice ("field" ascending, "-field"
// descending) into the document form the driver expects.
func sortSpec(sort []string) bson.D {
	spec := bson.D{}
	for _, field := range sort {
		if stripped := strings.TrimPrefix(field, "-"); stripped != field {
			spec = append(spec, bson.E{Key: stripped, Value: -1})
		} else if field != "" {
			spec = append(spec, bson.E{Key: field, Value: 1})
		}
	}
	return spec
}
