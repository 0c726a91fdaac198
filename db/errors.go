package db

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotFound is returned by update operations that matched no document.
var ErrNotFound = errors.New("document not found")

// IsDuplicateKey returns true when err reports a unique index violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsDuplicateKeyError(errors.Cause(err)) {
		return true
	}

	return strings.Contains(errors.Cause(err).Error(), "duplicate key")
}

// ResultsNotFound returns true when err reports that a query matched no
// documents. An empty result is usually not an error to callers.
func ResultsNotFound(err error) bool {
	if err == nil {
		return false
	}

	cause := errors.Cause(err)
	return cause == mongo.ErrNoDocuments || cause == ErrNotFound
}
