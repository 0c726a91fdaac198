package operations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/ssbgp/dss"
	"github.com/ssbgp/dss/model/dispatch"
	"github.com/urfave/cli"
)

const (
	confFlagName     = "conf"
	dbUrlFlagName    = "db_url"
	dbNameFlagName   = "db_name"
	priorityFlagName = "priority"

	defaultDBUrl  = "mongodb://localhost:27017"
	defaultDBName = "dss"
)

func serviceConfigFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  joinFlagNames(confFlagName, "c", "config"),
			Usage: "path to the settings file",
		},
		cli.StringFlag{
			Name:  dbUrlFlagName,
			Value: defaultDBUrl,
			Usage: "connection string for the simulations database",
		},
		cli.StringFlag{
			Name:  dbNameFlagName,
			Value: defaultDBName,
			Usage: "name of the simulations database",
		},
	)
}

func joinFlagNames(names ...string) string {
	out := ""
	for idx, name := range names {
		if idx > 0 {
			out += ", "
		}
		out += name
	}
	return out
}

// setupEnvironment connects to the store described by the --conf file or,
// when no file is given, the --db_url/--db_name flags, installs the
// environment globally, and ensures the dispatch indexes exist.
func setupEnvironment(ctx context.Context, c *cli.Context) (dss.Environment, error) {
	confPath := c.GlobalString(confFlagName)
	if confPath == "" {
		confPath = c.String(confFlagName)
	}

	var dbSettings *dss.DBSettings
	if confPath == "" {
		dbSettings = &dss.DBSettings{
			Url: c.String(dbUrlFlagName),
			DB:  c.String(dbNameFlagName),
		}
	}

	env, err := dss.NewEnvironment(ctx, confPath, dbSettings)
	if err != nil {
		return nil, errors.Wrap(err, "configuring application environment")
	}
	dss.SetEnvironment(env)

	if err := dispatch.EnsureIndexes(ctx); err != nil {
		return nil, errors.Wrap(err, "preparing dispatch collections")
	}

	return env, nil
}
