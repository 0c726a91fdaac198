// Package testutil bootstraps a global environment against a local database
// for integration-style tests. Tests that touch the store call Setup from
// their suite or test setup.
package testutil

import (
	"context"
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/ssbgp/dss"
)

const (
	// TestDBUrl is the connection string tests run against, overridable
	// with the DSS_TEST_DB_URL variable.
	TestDBUrl = "mongodb://localhost:27017"

	// TestDBName is the database tests read and write. It must never be a
	// production database name; suites clear collections between tests.
	TestDBName = "dss_test"
)

// Setup installs a global test environment if none is configured yet. It
// panics when the database is unreachable, since no store-backed test can
// run without it.
func Setup() {
	if dss.GetEnvironment() != nil {
		return
	}

	url := os.Getenv("DSS_TEST_DB_URL")
	if url == "" {
		url = TestDBUrl
	}

	env, err := dss.NewEnvironment(context.Background(), "", &dss.DBSettings{
		Url: url,
		DB:  TestDBName,
	})
	grip.EmergencyPanic(message.WrapError(err, message.Fields{
		"message": "could not initialize test environment",
		"db_url":  url,
	}))

	dss.SetEnvironment(env)
}
